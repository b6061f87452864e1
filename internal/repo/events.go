package repo

import (
	"context"
	"database/sql"
	"strings"

	"compliancehub/internal/domain"
)

type EventFilters struct {
	Type       string
	EntityKind string
	EntityID   int64
	Limit      int
}

func (r Repo) ListEvents(ctx context.Context, q Querier, f EventFilters) ([]domain.Event, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID > 0 {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query += " LIMIT ?"
	args = append(args, f.Limit)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var (
			e        domain.Event
			entityID sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &e.PayloadJSON); err != nil {
			return nil, err
		}
		e.EntityID = intPtr(entityID)
		res = append(res, e)
	}
	return res, rows.Err()
}
