package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	log "github.com/sirupsen/logrus"

	"compliancehub/internal/blob"
	"compliancehub/internal/config"
	"compliancehub/internal/events"
	"compliancehub/internal/repo"
)

const dateLayout = "2006-01-02"

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Blobs  blob.Store
	Log    log.FieldLogger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, blobs blob.Store, logger log.FieldLogger) Engine {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if blobs == nil {
		blobs = blob.NewMemStore("")
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Blobs:  blobs,
		Log:    logger,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// Today is the current date in the configured timezone.
func (e Engine) Today() string {
	return e.now().In(e.location()).Format(dateLayout)
}

func (e Engine) location() *time.Location {
	if e.Config == nil {
		return time.UTC
	}
	return e.Config.Location()
}

func (e Engine) begin(ctx context.Context) (*sql.Tx, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	return e.DB.BeginTx(ctx, nil)
}

type BadRequestError = repo.BadRequestError

func badRequest(format string, args ...any) error {
	return BadRequestError{Message: fmt.Sprintf(format, args...)}
}

// IsBadRequest reports whether err is, or wraps, a BadRequestError.
func IsBadRequest(err error) bool { return repo.IsBadRequest(err) }

// referenceError turns a foreign key failure into a bad request naming what was referenced.
func referenceError(err error, what string) error {
	if repo.IsForeignKeyViolation(err) {
		return badRequest("%s references a record that does not exist", what)
	}
	return err
}

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

func validateDate(field string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	if !datePattern.MatchString(*v) {
		return badRequest("%s must be YYYY-MM-DD", field)
	}
	if _, err := time.Parse(dateLayout, *v); err != nil {
		return badRequest("%s is not a valid date", field)
	}
	return nil
}

func notFound(kind string, id int64) error {
	return fmt.Errorf("%s %d: %w", kind, id, repo.ErrNotFound)
}

func wrapNotFound(err error, kind string, id int64) error {
	if errors.Is(err, repo.ErrNotFound) {
		return notFound(kind, id)
	}
	return err
}

func optionalID(v *int64) *int64 {
	if v == nil || *v == 0 {
		return nil
	}
	return v
}
