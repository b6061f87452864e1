package engine

import (
	"context"

	"compliancehub/internal/domain"
	"compliancehub/internal/repo"
)

func (e Engine) ListHistories(ctx context.Context, f repo.HistoryFilters) ([]domain.History, error) {
	return e.Repo.ListHistories(ctx, e.DB, f)
}

// GetHistory loads an archived task with its documents.
func (e Engine) GetHistory(ctx context.Context, id int64) (domain.History, error) {
	h, err := e.Repo.GetHistory(ctx, e.DB, id)
	if err != nil {
		return domain.History{}, wrapNotFound(err, "history", id)
	}
	return h, nil
}

// ListEvents returns the audit log, newest first.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.ListEvents(ctx, e.DB, f)
}
