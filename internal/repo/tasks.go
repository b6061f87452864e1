package repo

import (
	"context"
	"database/sql"
	"strings"

	"compliancehub/internal/domain"
)

const taskSelect = `SELECT t.id,t.name,COALESCE(t.description,''),t.valley_id,t.faena_id,t.process_id,t.status_id,t.applies,t.beneficiary_id,
t.created_at,t.updated_at,COALESCE(ts.name,''),COALESCE(v.name,''),f.name,COALESCE(p.name,'')
FROM tasks t
LEFT JOIN task_statuses ts ON ts.id=t.status_id
LEFT JOIN valleys v ON v.id=t.valley_id
LEFT JOIN faenas f ON f.id=t.faena_id
LEFT JOIN processes p ON p.id=t.process_id`

func scanTask(s scanner) (domain.Task, error) {
	var (
		t                  domain.Task
		faena, beneficiary sql.NullInt64
		faenaName          sql.NullString
		applies            int
	)
	err := s.Scan(&t.ID, &t.Name, &t.Description, &t.ValleyID, &faena, &t.ProcessID, &t.StatusID, &applies, &beneficiary,
		&t.CreatedAt, &t.UpdatedAt, &t.StatusName, &t.ValleyName, &faenaName, &t.ProcessName)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.FaenaID = intPtr(faena)
	t.BeneficiaryID = intPtr(beneficiary)
	t.FaenaName = strPtr(faenaName)
	t.Applies = applies == 1
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, q Querier, t *domain.Task) error {
	res, err := q.ExecContext(ctx, `INSERT INTO tasks(name,description,valley_id,faena_id,process_id,status_id,applies,beneficiary_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.Name, nullable(t.Description), t.ValleyID, nullableInt(t.FaenaID), t.ProcessID, t.StatusID, boolInt(t.Applies),
		nullableInt(t.BeneficiaryID), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return conflictOr(err, "task %q already exists for this process, valley and beneficiary", t.Name)
	}
	t.ID, err = res.LastInsertId()
	return err
}

func (r Repo) GetTask(ctx context.Context, q Querier, id int64) (domain.Task, error) {
	return scanTask(q.QueryRowContext(ctx, taskSelect+` WHERE t.id=?`, id))
}

type TaskFilters struct {
	ValleyID      int64
	ProcessID     int64
	StatusID      int64
	BeneficiaryID int64
	Name          string
	Limit         int
	Offset        int
}

func (r Repo) ListTasks(ctx context.Context, q Querier, f TaskFilters) ([]domain.Task, error) {
	var (
		clauses []string
		args    []any
	)
	if f.ValleyID > 0 {
		clauses = append(clauses, "t.valley_id=?")
		args = append(args, f.ValleyID)
	}
	if f.ProcessID > 0 {
		clauses = append(clauses, "t.process_id=?")
		args = append(args, f.ProcessID)
	}
	if f.StatusID > 0 {
		clauses = append(clauses, "t.status_id=?")
		args = append(args, f.StatusID)
	}
	if f.BeneficiaryID > 0 {
		clauses = append(clauses, "t.beneficiary_id=?")
		args = append(args, f.BeneficiaryID)
	}
	if name := strings.TrimSpace(f.Name); name != "" {
		clauses = append(clauses, "t.name LIKE ?")
		args = append(args, "%"+name+"%")
	}
	query := taskSelect
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY t.id DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTask(ctx context.Context, q Querier, t domain.Task) error {
	res, err := q.ExecContext(ctx, `UPDATE tasks SET name=?,description=?,valley_id=?,faena_id=?,process_id=?,status_id=?,applies=?,beneficiary_id=?,updated_at=? WHERE id=?`,
		t.Name, nullable(t.Description), t.ValleyID, nullableInt(t.FaenaID), t.ProcessID, t.StatusID, boolInt(t.Applies),
		nullableInt(t.BeneficiaryID), t.UpdatedAt, t.ID)
	if err != nil {
		return conflictOr(err, "task %q already exists for this process, valley and beneficiary", t.Name)
	}
	return affected(res, nil)
}

func (r Repo) DeleteTask(ctx context.Context, q Querier, id int64) error {
	return affected(q.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id))
}
