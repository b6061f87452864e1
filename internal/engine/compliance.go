package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"compliancehub/internal/domain"
	"compliancehub/internal/events"
	"compliancehub/internal/repo"
)

type ComplianceCreateOptions struct {
	TaskID        int64
	StatusID      int64
	Valor         *int64
	Ceco          *int64
	Cuenta        *int64
	SolpedMemoSap *int64
	HesHemSap     *int64
	ActorID       string
}

// CreateCompliance opens the compliance workflow for a task. A task carries at most one.
func (e Engine) CreateCompliance(ctx context.Context, opts ComplianceCreateOptions) (domain.Compliance, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Compliance{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetTask(ctx, tx, opts.TaskID); err != nil {
		return domain.Compliance{}, wrapNotFound(err, "task", opts.TaskID)
	}
	exists, err := e.Repo.ComplianceExistsForTask(ctx, tx, opts.TaskID)
	if err != nil {
		return domain.Compliance{}, err
	}
	if exists {
		return domain.Compliance{}, badRequest("task %d already has a compliance", opts.TaskID)
	}
	statuses, err := e.Repo.ListComplianceStatuses(ctx, tx)
	if err != nil {
		return domain.Compliance{}, err
	}
	if len(statuses) == 0 {
		return domain.Compliance{}, errors.New("no compliance statuses configured")
	}
	if opts.StatusID == 0 {
		opts.StatusID = statuses[0].ID
	} else if statusIndex(statuses, opts.StatusID) < 0 {
		return domain.Compliance{}, badRequest("unknown compliance status %d", opts.StatusID)
	}
	now := e.timestamp()
	c := domain.Compliance{
		TaskID:        opts.TaskID,
		StatusID:      opts.StatusID,
		Valor:         opts.Valor,
		Ceco:          opts.Ceco,
		Cuenta:        opts.Cuenta,
		SolpedMemoSap: opts.SolpedMemoSap,
		HesHemSap:     opts.HesHemSap,
		CreatedAt:       now,
		UpdatedAt:       now,
		StatusChangedAt: now,
	}
	if err := e.Repo.InsertCompliance(ctx, tx, &c); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Compliance{}, badRequest("task %d already has a compliance", opts.TaskID)
		}
		return domain.Compliance{}, err
	}
	if err := e.Events.Append(ctx, tx, "compliance.create", "compliance", c.ID, opts.ActorID, events.EventPayload{
		"task_id": c.TaskID, "status_id": c.StatusID,
	}); err != nil {
		return domain.Compliance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Compliance{}, err
	}
	return c, nil
}

// ComplianceUpdateOptions patches a compliance; nil fields are left unchanged.
type ComplianceUpdateOptions struct {
	ID            int64
	StatusID      *int64
	Valor         *int64
	Ceco          *int64
	Cuenta        *int64
	SolpedMemoSap *int64
	HesHemSap     *int64
	Listo         *bool
	ActorID       string
}

func (e Engine) UpdateCompliance(ctx context.Context, opts ComplianceUpdateOptions) (domain.Compliance, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Compliance{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCompliance(ctx, tx, opts.ID)
	if err != nil {
		return domain.Compliance{}, wrapNotFound(err, "compliance", opts.ID)
	}
	prevStatus := c.StatusID
	if opts.StatusID != nil {
		if _, err := e.Repo.GetComplianceStatus(ctx, tx, *opts.StatusID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Compliance{}, badRequest("unknown compliance status %d", *opts.StatusID)
			}
			return domain.Compliance{}, err
		}
		c.StatusID = *opts.StatusID
	}
	if opts.Valor != nil {
		c.Valor = opts.Valor
	}
	if opts.Ceco != nil {
		c.Ceco = opts.Ceco
	}
	if opts.Cuenta != nil {
		c.Cuenta = opts.Cuenta
	}
	if opts.SolpedMemoSap != nil {
		c.SolpedMemoSap = opts.SolpedMemoSap
	}
	if opts.HesHemSap != nil {
		c.HesHemSap = opts.HesHemSap
	}
	if opts.Listo != nil {
		c.Listo = *opts.Listo
		if c.Listo && e.Config.Compliance.ListoCompletes {
			c.StatusID = e.Config.Compliance.CompletedStatusID
		}
	}
	c.UpdatedAt = e.timestamp()
	if c.StatusID != prevStatus {
		c.StatusChangedAt = c.UpdatedAt
	}
	if err := e.Repo.UpdateCompliance(ctx, tx, c); err != nil {
		return domain.Compliance{}, wrapNotFound(err, "compliance", c.ID)
	}
	evt := "compliance.update"
	if c.StatusID != prevStatus {
		evt = "compliance.status"
	}
	if err := e.Events.Append(ctx, tx, evt, "compliance", c.ID, opts.ActorID, events.EventPayload{
		"from_status": prevStatus, "to_status": c.StatusID, "listo": c.Listo,
	}); err != nil {
		return domain.Compliance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Compliance{}, err
	}
	return c, nil
}

// AdvanceStatus moves a compliance to the next status in order. The last
// status is terminal and cannot be advanced.
func (e Engine) AdvanceStatus(ctx context.Context, id int64, actorID string) (domain.Compliance, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Compliance{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCompliance(ctx, tx, id)
	if err != nil {
		return domain.Compliance{}, wrapNotFound(err, "compliance", id)
	}
	statuses, err := e.Repo.ListComplianceStatuses(ctx, tx)
	if err != nil {
		return domain.Compliance{}, err
	}
	i := statusIndex(statuses, c.StatusID)
	if i < 0 {
		return domain.Compliance{}, fmt.Errorf("compliance %d has unknown status %d", id, c.StatusID)
	}
	if i == len(statuses)-1 || c.StatusID == e.Config.Compliance.CompletedStatusID {
		return domain.Compliance{}, badRequest("compliance %d is already in terminal status %q", id, statuses[i].Name)
	}
	prev := c.StatusID
	c.StatusID = statuses[i+1].ID
	c.UpdatedAt = e.timestamp()
	c.StatusChangedAt = c.UpdatedAt
	if err := e.Repo.UpdateCompliance(ctx, tx, c); err != nil {
		return domain.Compliance{}, err
	}
	if err := e.Events.Append(ctx, tx, "compliance.advance", "compliance", c.ID, actorID, events.EventPayload{
		"from_status": prev, "to_status": c.StatusID,
	}); err != nil {
		return domain.Compliance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Compliance{}, err
	}
	return c, nil
}

func statusIndex(statuses []domain.ComplianceStatus, id int64) int {
	for i, s := range statuses {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (e Engine) GetCompliance(ctx context.Context, id int64) (domain.Compliance, error) {
	c, err := e.Repo.GetCompliance(ctx, e.DB, id)
	if err != nil {
		return domain.Compliance{}, wrapNotFound(err, "compliance", id)
	}
	if c.Registries, err = e.registries(ctx, e.DB, id); err != nil {
		return domain.Compliance{}, err
	}
	return c, nil
}

func (e Engine) ListCompliances(ctx context.Context) ([]domain.Compliance, error) {
	return e.Repo.ListCompliances(ctx, e.DB)
}

func (e Engine) RemoveCompliance(ctx context.Context, id int64, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetCompliance(ctx, tx, id); err != nil {
		return wrapNotFound(err, "compliance", id)
	}
	if err := e.removeCompliance(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "compliance.delete", "compliance", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// removeCompliance deletes a compliance and its registries, solpeds and memos inside tx.
func (e Engine) removeCompliance(ctx context.Context, tx *sql.Tx, id int64) error {
	if err := e.Repo.DeleteFinancialsByCompliance(ctx, tx, id); err != nil {
		return fmt.Errorf("delete solpeds and memos of compliance %d: %w", id, err)
	}
	if err := e.Repo.DeleteRegistriesByCompliance(ctx, tx, id); err != nil {
		return fmt.Errorf("delete registries of compliance %d: %w", id, err)
	}
	if err := e.Repo.DeleteCompliance(ctx, tx, id); err != nil {
		return wrapNotFound(err, "compliance", id)
	}
	return nil
}

// SLADeadline is when the compliance's current status runs out of time, counted
// from the last status change. Statuses with no allotted days never expire.
func SLADeadline(c domain.Compliance, status domain.ComplianceStatus) (time.Time, bool) {
	if status.Days <= 0 {
		return time.Time{}, false
	}
	since := c.StatusChangedAt
	if since == "" {
		since = c.UpdatedAt
	}
	start, err := time.Parse(time.RFC3339, since)
	if err != nil {
		return time.Time{}, false
	}
	return start.Add(time.Duration(status.Days) * 24 * time.Hour), true
}

// IsExpired reports whether the compliance has overstayed its current status.
func IsExpired(c domain.Compliance, status domain.ComplianceStatus, now time.Time) bool {
	deadline, ok := SLADeadline(c, status)
	return ok && now.After(deadline)
}

// ExpiredCompliances lists open compliances that have overstayed their status.
func (e Engine) ExpiredCompliances(ctx context.Context) ([]domain.Compliance, error) {
	statuses, err := e.Repo.ListComplianceStatuses(ctx, e.DB)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]domain.ComplianceStatus, len(statuses))
	for _, s := range statuses {
		byID[s.ID] = s
	}
	open, err := e.Repo.ListOpenCompliances(ctx, e.DB, e.Config.Compliance.CompletedStatusID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	var expired []domain.Compliance
	for _, c := range open {
		if IsExpired(c, byID[c.StatusID], now) {
			expired = append(expired, c)
		}
	}
	return expired, nil
}
