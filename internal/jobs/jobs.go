// Package jobs runs the scheduled notification sweeps.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"compliancehub/internal/domain"
	"compliancehub/internal/engine"
	"compliancehub/internal/notify"
)

const (
	TaskExpiry          = "task-expiry"
	ComplianceExpiry    = "compliance-expiry"
	NotificationCleanup = "notification-cleanup"
)

// Names lists the jobs in the order they are registered.
var Names = []string{TaskExpiry, ComplianceExpiry, NotificationCleanup}

// Alerter forwards a notification outside the application.
type Alerter interface {
	SendAlert(ctx context.Context, a notify.Alert) error
}

// Runner executes the sweeps. Alerts may be nil.
type Runner struct {
	Engine engine.Engine
	Alerts Alerter
	Log    log.FieldLogger
}

func (r Runner) logger() log.FieldLogger {
	if r.Log != nil {
		return r.Log
	}
	return log.StandardLogger()
}

// Result summarises one run.
type Result struct {
	Job      string `json:"job"`
	Affected int64  `json:"affected"`
}

// Run executes the named job once.
func (r Runner) Run(ctx context.Context, name string) (Result, error) {
	var (
		n   int64
		err error
	)
	switch name {
	case TaskExpiry:
		n, err = r.TaskExpiry(ctx)
	case ComplianceExpiry:
		n, err = r.ComplianceExpiry(ctx)
	case NotificationCleanup:
		n, err = r.NotificationCleanup(ctx)
	default:
		return Result{}, fmt.Errorf("unknown job %q", name)
	}
	return Result{Job: name, Affected: n}, err
}

// TaskExpiry notifies once a day per task that has open subtasks past their end date.
func (r Runner) TaskExpiry(ctx context.Context) (int64, error) {
	day := r.Engine.Today()
	overdue, err := r.Engine.Repo.ListOverdueSubtasks(ctx, r.Engine.DB, day)
	if err != nil {
		return 0, fmt.Errorf("list overdue subtasks: %w", err)
	}
	byTask := map[int64]int{}
	for _, st := range overdue {
		byTask[st.TaskID]++
	}
	taskIDs := make([]int64, 0, len(byTask))
	for id := range byTask {
		taskIDs = append(taskIDs, id)
	}
	sort.Slice(taskIDs, func(i, j int) bool { return taskIDs[i] < taskIDs[j] })

	recipients, err := r.recipients(ctx)
	if err != nil {
		return 0, err
	}
	var created int64
	for _, id := range taskIDs {
		task, err := r.Engine.GetTask(ctx, id)
		if err != nil {
			r.logger().WithError(err).WithField("task_id", id).Warn("skipping overdue task")
			continue
		}
		msg := fmt.Sprintf("La tarea %q tiene %d subtarea(s) vencida(s)", task.Name, byTask[id])
		key := fmt.Sprintf("task.expired:%d:%s", id, day)
		n, err := r.fanOut(ctx, recipients, domain.Notification{
			Kind: "task.expired", Message: msg, EntityKind: "task", EntityID: id,
		}, key)
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

// ComplianceExpiry notifies about open compliances that overstayed their status,
// once per compliance, status and day.
func (r Runner) ComplianceExpiry(ctx context.Context) (int64, error) {
	expired, err := r.Engine.ExpiredCompliances(ctx)
	if err != nil {
		return 0, fmt.Errorf("list expired compliances: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}
	statuses, err := r.Engine.Repo.ListComplianceStatuses(ctx, r.Engine.DB)
	if err != nil {
		return 0, err
	}
	names := make(map[int64]string, len(statuses))
	for _, s := range statuses {
		names[s.ID] = s.Name
	}
	recipients, err := r.recipients(ctx)
	if err != nil {
		return 0, err
	}
	day := r.Engine.Today()
	var created int64
	for _, c := range expired {
		msg := fmt.Sprintf("El cumplimiento %d de la tarea %d superó el plazo de la etapa %q", c.ID, c.TaskID, names[c.StatusID])
		key := fmt.Sprintf("compliance.expired:%d:%d:%s", c.ID, c.StatusID, day)
		n, err := r.fanOut(ctx, recipients, domain.Notification{
			Kind: "compliance.expired", Message: msg, EntityKind: "compliance", EntityID: c.ID,
		}, key)
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

// NotificationCleanup removes read notifications past the retention window.
func (r Runner) NotificationCleanup(ctx context.Context) (int64, error) {
	days := r.Engine.Config.Notifications.RetentionDays
	return r.Engine.PurgeNotifications(ctx, time.Duration(days)*24*time.Hour)
}

func (r Runner) recipients(ctx context.Context) ([]domain.User, error) {
	users, err := r.Engine.Repo.ListUsersByRole(ctx, r.Engine.DB, r.Engine.Config.Notifications.NotifyRoles...)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return users, nil
}

// fanOut stores one notification per recipient, or a single broadcast when
// nobody holds a notify role, then forwards an alert for the new ones.
func (r Runner) fanOut(ctx context.Context, recipients []domain.User, n domain.Notification, key string) (int64, error) {
	var (
		created int64
		emails  []string
	)
	if len(recipients) == 0 {
		_, ok, err := r.Engine.Notify(ctx, n, key)
		if err != nil {
			return 0, err
		}
		if ok {
			created++
		}
	}
	for _, u := range recipients {
		personal := n
		personal.UserID = &u.ID
		_, ok, err := r.Engine.Notify(ctx, personal, fmt.Sprintf("%s:%d", key, u.ID))
		if err != nil {
			return created, err
		}
		if ok {
			created++
			emails = append(emails, u.Email)
		}
	}
	if created > 0 && r.Alerts != nil {
		err := r.Alerts.SendAlert(ctx, notify.Alert{
			Kind: n.Kind, Message: n.Message, EntityKind: n.EntityKind, EntityID: n.EntityID, Recipients: emails,
		})
		if err != nil {
			r.logger().WithError(err).WithField("kind", n.Kind).Warn("alert webhook failed")
		}
	}
	return created, nil
}
