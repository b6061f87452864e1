package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"compliancehub/internal/config"
)

// Scheduler triggers the sweeps on their configured cron specs.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	log    log.FieldLogger
}

func NewScheduler(cfg *config.Config, runner Runner) (*Scheduler, error) {
	logger := runner.logger().WithField("component", "jobs")
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location()),
			cron.WithLogger(cronLogger{logger}),
			cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
		),
		runner: runner,
		log:    logger,
	}
	specs := map[string]string{
		TaskExpiry:          cfg.Jobs.TaskExpiry,
		ComplianceExpiry:    cfg.Jobs.ComplianceExpiry,
		NotificationCleanup: cfg.Jobs.NotificationCleanup,
	}
	for _, name := range Names {
		if _, err := s.cron.AddFunc(specs[name], func() { s.runLogged(name) }); err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", name, specs[name], err)
		}
	}
	return s, nil
}

// runLogged executes a job and logs the outcome. Failures are not retried.
func (s *Scheduler) runLogged(name string) {
	res, err := s.runner.Run(context.Background(), name)
	entry := s.log.WithField("job", name)
	if err != nil {
		entry.WithError(err).Error("job failed")
		return
	}
	entry.WithField("affected", res.Affected).Info("job finished")
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Entries reports the next run of each job.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

type cronLogger struct {
	log log.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(kv []interface{}) log.Fields {
	f := log.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
