package engine

import (
	"context"
	"errors"
	"strings"

	"compliancehub/internal/domain"
	"compliancehub/internal/events"
	"compliancehub/internal/repo"
)

type SubtaskCreateOptions struct {
	TaskID        int64
	Name          string
	Description   string
	Budget        int64
	Expense       int64
	StartDate     *string
	EndDate       *string
	FinalDate     *string
	StatusID      int64
	PriorityID    *int64
	BeneficiaryID *int64
	ActorID       string
}

func validateSubtask(st domain.Subtask) error {
	if strings.TrimSpace(st.Name) == "" {
		return badRequest("name is required")
	}
	if st.Budget < 0 {
		return badRequest("budget cannot be negative")
	}
	if st.Expense < 0 {
		return badRequest("expense cannot be negative")
	}
	if err := validateDate("start_date", st.StartDate); err != nil {
		return err
	}
	if err := validateDate("end_date", st.EndDate); err != nil {
		return err
	}
	if err := validateDate("final_date", st.FinalDate); err != nil {
		return err
	}
	if st.StartDate != nil && st.EndDate != nil && *st.EndDate < *st.StartDate {
		return badRequest("end_date is before start_date")
	}
	return nil
}

func optionalDate(v *string) *string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	d := strings.TrimSpace(*v)
	return &d
}

func (e Engine) CreateSubtask(ctx context.Context, opts SubtaskCreateOptions) (domain.Subtask, error) {
	if opts.StatusID == 0 {
		opts.StatusID = e.Config.Lifecycle.SubtaskDefaultStatusID
	}
	now := e.timestamp()
	st := domain.Subtask{
		TaskID:        opts.TaskID,
		Name:          strings.TrimSpace(opts.Name),
		Description:   opts.Description,
		Budget:        opts.Budget,
		Expense:       opts.Expense,
		StartDate:     optionalDate(opts.StartDate),
		EndDate:       optionalDate(opts.EndDate),
		FinalDate:     optionalDate(opts.FinalDate),
		StatusID:      opts.StatusID,
		PriorityID:    optionalID(opts.PriorityID),
		BeneficiaryID: optionalID(opts.BeneficiaryID),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := validateSubtask(st); err != nil {
		return domain.Subtask{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Subtask{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetTask(ctx, tx, opts.TaskID); err != nil {
		return domain.Subtask{}, wrapNotFound(err, "task", opts.TaskID)
	}
	if err := e.Repo.InsertSubtask(ctx, tx, &st); err != nil {
		return domain.Subtask{}, referenceError(err, "subtask")
	}
	if err := e.Events.Append(ctx, tx, "subtask.create", "subtask", st.ID, opts.ActorID, events.EventPayload{
		"task_id": st.TaskID, "budget": st.Budget, "expense": st.Expense,
	}); err != nil {
		return domain.Subtask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Subtask{}, err
	}
	return st, nil
}

// SubtaskUpdateOptions patches a subtask. Nil fields are left unchanged; an
// empty date clears it and a zero id clears the reference.
type SubtaskUpdateOptions struct {
	ID            int64
	Name          *string
	Description   *string
	Budget        *int64
	Expense       *int64
	StartDate     *string
	EndDate       *string
	FinalDate     *string
	StatusID      *int64
	PriorityID    *int64
	BeneficiaryID *int64
	ActorID       string
}

func (e Engine) UpdateSubtask(ctx context.Context, opts SubtaskUpdateOptions) (domain.Subtask, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Subtask{}, err
	}
	defer tx.Rollback()

	st, err := e.Repo.GetSubtask(ctx, tx, opts.ID)
	if err != nil {
		return domain.Subtask{}, wrapNotFound(err, "subtask", opts.ID)
	}
	if opts.Name != nil {
		st.Name = strings.TrimSpace(*opts.Name)
	}
	if opts.Description != nil {
		st.Description = *opts.Description
	}
	if opts.Budget != nil {
		st.Budget = *opts.Budget
	}
	if opts.Expense != nil {
		st.Expense = *opts.Expense
	}
	if opts.StartDate != nil {
		st.StartDate = optionalDate(opts.StartDate)
	}
	if opts.EndDate != nil {
		st.EndDate = optionalDate(opts.EndDate)
	}
	if opts.FinalDate != nil {
		st.FinalDate = optionalDate(opts.FinalDate)
	}
	if opts.StatusID != nil {
		if _, err := e.Repo.GetSubtaskStatus(ctx, tx, *opts.StatusID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Subtask{}, badRequest("unknown subtask status %d", *opts.StatusID)
			}
			return domain.Subtask{}, err
		}
		st.StatusID = *opts.StatusID
	}
	if opts.PriorityID != nil {
		st.PriorityID = optionalID(opts.PriorityID)
	}
	if opts.BeneficiaryID != nil {
		st.BeneficiaryID = optionalID(opts.BeneficiaryID)
	}
	if err := validateSubtask(st); err != nil {
		return domain.Subtask{}, err
	}
	st.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateSubtask(ctx, tx, st); err != nil {
		return domain.Subtask{}, referenceError(wrapNotFound(err, "subtask", st.ID), "subtask")
	}
	if err := e.Events.Append(ctx, tx, "subtask.update", "subtask", st.ID, opts.ActorID, events.EventPayload{
		"status_id": st.StatusID, "budget": st.Budget, "expense": st.Expense,
	}); err != nil {
		return domain.Subtask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Subtask{}, err
	}
	return st, nil
}

func (e Engine) RemoveSubtask(ctx context.Context, id int64, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteSubtask(ctx, tx, id); err != nil {
		return wrapNotFound(err, "subtask", id)
	}
	if err := e.Events.Append(ctx, tx, "subtask.delete", "subtask", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetSubtask(ctx context.Context, id int64) (domain.Subtask, error) {
	st, err := e.Repo.GetSubtask(ctx, e.DB, id)
	if err != nil {
		return domain.Subtask{}, wrapNotFound(err, "subtask", id)
	}
	return st, nil
}

func (e Engine) ListSubtasks(ctx context.Context, taskID int64) ([]domain.Subtask, error) {
	if _, err := e.Repo.GetTask(ctx, e.DB, taskID); err != nil {
		return nil, wrapNotFound(err, "task", taskID)
	}
	return e.Repo.ListSubtasks(ctx, e.DB, taskID)
}
