package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"compliancehub/internal/domain"
	"compliancehub/internal/events"
	"compliancehub/internal/repo"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Name          string
	Description   string
	ValleyID      int64
	FaenaID       *int64
	ProcessID     int64
	StatusID      int64
	Applies       bool
	BeneficiaryID *int64
	ActorID       string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	opts.Name = strings.TrimSpace(opts.Name)
	if opts.Name == "" {
		return domain.Task{}, badRequest("name is required")
	}
	if opts.ValleyID == 0 {
		return domain.Task{}, badRequest("valley is required")
	}
	if opts.ProcessID == 0 {
		return domain.Task{}, badRequest("process is required")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if opts.StatusID == 0 {
		opts.StatusID = e.Config.Lifecycle.TaskDefaultStatusID
	}
	now := e.timestamp()
	t := domain.Task{
		Name:          opts.Name,
		Description:   opts.Description,
		ValleyID:      opts.ValleyID,
		FaenaID:       optionalID(opts.FaenaID),
		ProcessID:     opts.ProcessID,
		StatusID:      opts.StatusID,
		Applies:       opts.Applies,
		BeneficiaryID: optionalID(opts.BeneficiaryID),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.Repo.InsertTask(ctx, tx, &t); err != nil {
		return domain.Task{}, referenceError(err, "task")
	}
	if err := e.Events.Append(ctx, tx, "task.create", "task", t.ID, opts.ActorID, events.EventPayload{
		"name": t.Name, "valley_id": t.ValleyID, "process_id": t.ProcessID, "status_id": t.StatusID,
	}); err != nil {
		return domain.Task{}, err
	}
	if t.StatusID == e.Config.Lifecycle.TaskCompletedStatusID {
		if _, err := e.archiveTask(ctx, tx, t.ID, opts.ActorID); err != nil {
			return domain.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, e.DB, t.ID)
}

// TaskUpdateOptions patches a task. Nil fields are left unchanged; a zero
// FaenaID or BeneficiaryID clears the reference.
type TaskUpdateOptions struct {
	ID            int64
	Name          *string
	Description   *string
	ValleyID      *int64
	FaenaID       *int64
	ProcessID     *int64
	StatusID      *int64
	Applies       *bool
	BeneficiaryID *int64
	ActorID       string
}

// UpdateTask applies the patch and, when the status moves into the completed
// status, archives the task into history within the same transaction.
func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTask(ctx, tx, opts.ID)
	if err != nil {
		return domain.Task{}, wrapNotFound(err, "task", opts.ID)
	}
	prevStatus := t.StatusID
	changed := map[string]any{}
	if opts.Name != nil {
		name := strings.TrimSpace(*opts.Name)
		if name == "" {
			return domain.Task{}, badRequest("name cannot be empty")
		}
		t.Name = name
		changed["name"] = name
	}
	if opts.Description != nil {
		t.Description = *opts.Description
		changed["description"] = t.Description
	}
	if opts.ValleyID != nil {
		if *opts.ValleyID == 0 {
			return domain.Task{}, badRequest("valley is required")
		}
		t.ValleyID = *opts.ValleyID
		changed["valley_id"] = t.ValleyID
	}
	if opts.FaenaID != nil {
		t.FaenaID = optionalID(opts.FaenaID)
		changed["faena_id"] = t.FaenaID
	}
	if opts.ProcessID != nil {
		if *opts.ProcessID == 0 {
			return domain.Task{}, badRequest("process is required")
		}
		t.ProcessID = *opts.ProcessID
		changed["process_id"] = t.ProcessID
	}
	if opts.StatusID != nil {
		t.StatusID = *opts.StatusID
		changed["status_id"] = t.StatusID
	}
	if opts.Applies != nil {
		t.Applies = *opts.Applies
		changed["applies"] = t.Applies
	}
	if opts.BeneficiaryID != nil {
		t.BeneficiaryID = optionalID(opts.BeneficiaryID)
		changed["beneficiary_id"] = t.BeneficiaryID
	}
	t.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, referenceError(err, "task")
	}
	if err := e.Events.Append(ctx, tx, "task.update", "task", t.ID, opts.ActorID, events.EventPayload(changed)); err != nil {
		return domain.Task{}, err
	}
	completed := e.Config.Lifecycle.TaskCompletedStatusID
	if t.StatusID == completed && prevStatus != completed {
		h, err := e.archiveTask(ctx, tx, t.ID, opts.ActorID)
		if err != nil {
			return domain.Task{}, err
		}
		e.Log.WithFields(log.Fields{"task_id": t.ID, "history_id": h.ID}).Info("task archived")
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, e.DB, t.ID)
}

// archiveTask snapshots a task into a history row. Document paths are reused,
// the blobs themselves are not copied.
func (e Engine) archiveTask(ctx context.Context, tx *sql.Tx, taskID int64, actorID string) (domain.History, error) {
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return domain.History{}, wrapNotFound(err, "task", taskID)
	}
	compliances, err := e.Repo.ListCompliancesByTask(ctx, tx, taskID)
	if err != nil {
		return domain.History{}, err
	}
	docs, err := e.Repo.ListDocumentsByTask(ctx, tx, taskID)
	if err != nil {
		return domain.History{}, err
	}
	total, err := e.Repo.SumSubtaskExpense(ctx, tx, taskID)
	if err != nil {
		return domain.History{}, err
	}
	var solpedMemoSap, hesHemSap int64
	if len(compliances) > 0 {
		if v := compliances[0].SolpedMemoSap; v != nil {
			solpedMemoSap = *v
		}
		if v := compliances[0].HesHemSap; v != nil {
			hesHemSap = *v
		}
	}
	valleyID, processID := t.ValleyID, t.ProcessID
	h := domain.History{
		TaskID:        &t.ID,
		Name:          t.Name,
		Description:   t.Description,
		ProcessID:     &processID,
		FinalDate:     e.Today(),
		TotalExpense:  total,
		ValleyID:      &valleyID,
		FaenaID:       t.FaenaID,
		BeneficiaryID: t.BeneficiaryID,
		SolpedMemoSap: solpedMemoSap,
		HesHemSap:     hesHemSap,
		CreatedAt:     e.timestamp(),
	}
	if err := e.Repo.InsertHistory(ctx, tx, &h); err != nil {
		return domain.History{}, fmt.Errorf("insert history: %w", err)
	}
	for _, d := range docs {
		hd := domain.HistoryDoc{
			HistoryID:  h.ID,
			Filename:   d.Filename,
			TypeID:     d.TypeID,
			Path:       d.Path,
			Size:       d.Size,
			UploadDate: d.UploadDate,
		}
		if err := e.Repo.InsertHistoryDoc(ctx, tx, &hd); err != nil {
			return domain.History{}, fmt.Errorf("insert history document: %w", err)
		}
		h.Documents = append(h.Documents, hd)
	}
	if err := e.Events.Append(ctx, tx, "task.archived", "task", t.ID, actorID, events.EventPayload{
		"history_id": h.ID, "total_expense": total, "documents": len(docs),
	}); err != nil {
		return domain.History{}, err
	}
	return h, nil
}

// RemoveTask deletes a task with everything it owns and returns what was deleted.
// Blobs are removed after commit unless the task was archived to history.
func (e Engine) RemoveTask(ctx context.Context, id int64, actorID string) (domain.TaskDetail, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.TaskDetail{}, err
	}
	defer tx.Rollback()

	detail, err := e.taskDetail(ctx, tx, id)
	if err != nil {
		return domain.TaskDetail{}, err
	}
	archived, err := e.Repo.HasHistoryForTask(ctx, tx, id, detail.Name)
	if err != nil {
		return domain.TaskDetail{}, err
	}
	var orphaned []string
	for _, d := range detail.Documents {
		keep, err := e.retainsBlob(ctx, tx, archived, d.Path)
		if err != nil {
			return domain.TaskDetail{}, err
		}
		if !keep {
			orphaned = append(orphaned, d.Path)
		}
	}
	if err := e.Repo.DeleteDocumentsByTask(ctx, tx, id); err != nil {
		return domain.TaskDetail{}, err
	}
	for _, c := range detail.Compliances {
		if err := e.removeCompliance(ctx, tx, c.ID); err != nil {
			return domain.TaskDetail{}, err
		}
	}
	if err := e.Repo.DeleteSubtasksByTask(ctx, tx, id); err != nil {
		return domain.TaskDetail{}, err
	}
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return domain.TaskDetail{}, wrapNotFound(err, "task", id)
	}
	if err := e.Events.Append(ctx, tx, "task.delete", "task", id, actorID, events.EventPayload{
		"name":        detail.Name,
		"subtasks":    len(detail.Subtasks),
		"compliances": len(detail.Compliances),
		"documents":   len(detail.Documents),
	}); err != nil {
		return domain.TaskDetail{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskDetail{}, err
	}
	for _, path := range orphaned {
		e.deleteBlob(ctx, path)
	}
	return detail, nil
}

func (e Engine) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, e.DB, id)
	if err != nil {
		return domain.Task{}, wrapNotFound(err, "task", id)
	}
	return t, nil
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, e.DB, f)
}

// GetTaskDetail loads a task with its subtasks, compliances (and their registries) and documents.
func (e Engine) GetTaskDetail(ctx context.Context, id int64) (domain.TaskDetail, error) {
	return e.taskDetail(ctx, e.DB, id)
}

func (e Engine) taskDetail(ctx context.Context, q repo.Querier, id int64) (domain.TaskDetail, error) {
	t, err := e.Repo.GetTask(ctx, q, id)
	if err != nil {
		return domain.TaskDetail{}, wrapNotFound(err, "task", id)
	}
	detail := domain.TaskDetail{Task: t}
	if detail.Subtasks, err = e.Repo.ListSubtasks(ctx, q, id); err != nil {
		return domain.TaskDetail{}, err
	}
	if detail.Compliances, err = e.Repo.ListCompliancesByTask(ctx, q, id); err != nil {
		return domain.TaskDetail{}, err
	}
	for i := range detail.Compliances {
		regs, err := e.registries(ctx, q, detail.Compliances[i].ID)
		if err != nil {
			return domain.TaskDetail{}, err
		}
		detail.Compliances[i].Registries = regs
	}
	if detail.Documents, err = e.Repo.ListDocumentsByTask(ctx, q, id); err != nil {
		return domain.TaskDetail{}, err
	}
	if detail.Subtasks == nil {
		detail.Subtasks = []domain.Subtask{}
	}
	if detail.Compliances == nil {
		detail.Compliances = []domain.Compliance{}
	}
	if detail.Documents == nil {
		detail.Documents = []domain.Document{}
	}
	return detail, nil
}

// deleteBlob removes stored content; failures are logged and otherwise ignored.
func (e Engine) deleteBlob(ctx context.Context, path string) bool {
	if path == "" {
		return false
	}
	if err := e.Blobs.Delete(ctx, path); err != nil {
		e.Log.WithError(err).WithField("path", path).Warn("blob delete failed")
		return false
	}
	return true
}
