package repo

import (
	"context"
	"database/sql"

	"compliancehub/internal/domain"
)

const subtaskSelect = `SELECT id,task_id,name,COALESCE(description,''),budget,expense,start_date,end_date,final_date,status_id,priority_id,beneficiary_id,created_at,updated_at FROM subtasks`

func scanSubtask(s scanner) (domain.Subtask, error) {
	var (
		st                    domain.Subtask
		start, end, final     sql.NullString
		priority, beneficiary sql.NullInt64
	)
	err := s.Scan(&st.ID, &st.TaskID, &st.Name, &st.Description, &st.Budget, &st.Expense, &start, &end, &final,
		&st.StatusID, &priority, &beneficiary, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return st, ErrNotFound
	}
	if err != nil {
		return st, err
	}
	st.StartDate = strPtr(start)
	st.EndDate = strPtr(end)
	st.FinalDate = strPtr(final)
	st.PriorityID = intPtr(priority)
	st.BeneficiaryID = intPtr(beneficiary)
	return st, nil
}

func (r Repo) InsertSubtask(ctx context.Context, q Querier, st *domain.Subtask) error {
	res, err := q.ExecContext(ctx, `INSERT INTO subtasks(task_id,name,description,budget,expense,start_date,end_date,final_date,status_id,priority_id,beneficiary_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		st.TaskID, st.Name, nullable(st.Description), st.Budget, st.Expense, nullableStr(st.StartDate), nullableStr(st.EndDate),
		nullableStr(st.FinalDate), st.StatusID, nullableInt(st.PriorityID), nullableInt(st.BeneficiaryID), st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return err
	}
	st.ID, err = res.LastInsertId()
	return err
}

func (r Repo) GetSubtask(ctx context.Context, q Querier, id int64) (domain.Subtask, error) {
	return scanSubtask(q.QueryRowContext(ctx, subtaskSelect+` WHERE id=?`, id))
}

func (r Repo) ListSubtasks(ctx context.Context, q Querier, taskID int64) ([]domain.Subtask, error) {
	return r.querySubtasks(ctx, q, subtaskSelect+` WHERE task_id=? ORDER BY id`, taskID)
}

// ListOverdueSubtasks returns open subtasks whose end date is before day and
// whose status is not fully complete.
func (r Repo) ListOverdueSubtasks(ctx context.Context, q Querier, day string) ([]domain.Subtask, error) {
	return r.querySubtasks(ctx, q, subtaskSelect+` WHERE end_date IS NOT NULL AND end_date < ? AND final_date IS NULL
AND status_id IN (SELECT id FROM subtask_statuses WHERE percentage < 100) ORDER BY task_id, id`, day)
}

func (r Repo) querySubtasks(ctx context.Context, q Querier, query string, args ...any) ([]domain.Subtask, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Subtask
	for rows.Next() {
		st, err := scanSubtask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

func (r Repo) UpdateSubtask(ctx context.Context, q Querier, st domain.Subtask) error {
	return affected(q.ExecContext(ctx, `UPDATE subtasks SET name=?,description=?,budget=?,expense=?,start_date=?,end_date=?,final_date=?,status_id=?,priority_id=?,beneficiary_id=?,updated_at=? WHERE id=?`,
		st.Name, nullable(st.Description), st.Budget, st.Expense, nullableStr(st.StartDate), nullableStr(st.EndDate), nullableStr(st.FinalDate),
		st.StatusID, nullableInt(st.PriorityID), nullableInt(st.BeneficiaryID), st.UpdatedAt, st.ID))
}

func (r Repo) DeleteSubtask(ctx context.Context, q Querier, id int64) error {
	return affected(q.ExecContext(ctx, `DELETE FROM subtasks WHERE id=?`, id))
}

func (r Repo) DeleteSubtasksByTask(ctx context.Context, q Querier, taskID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM subtasks WHERE task_id=?`, taskID)
	return err
}

// SumSubtaskExpense returns the total expense of a task's subtasks, 0 when none.
func (r Repo) SumSubtaskExpense(ctx context.Context, q Querier, taskID int64) (int64, error) {
	var total int64
	err := q.QueryRowContext(ctx, `SELECT COALESCE(SUM(expense),0) FROM subtasks WHERE task_id=?`, taskID).Scan(&total)
	return total, err
}

func (r Repo) GetSubtaskStatus(ctx context.Context, q Querier, id int64) (domain.SubtaskStatus, error) {
	var s domain.SubtaskStatus
	err := q.QueryRowContext(ctx, `SELECT id,name,percentage FROM subtask_statuses WHERE id=?`, id).Scan(&s.ID, &s.Name, &s.Percentage)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}
