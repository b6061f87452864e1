package repo

import (
	"context"
	"database/sql"
	"strings"

	"compliancehub/internal/domain"
)

const historySelect = `SELECT id,task_id,name,COALESCE(description,''),process_id,final_date,total_expense,valley_id,faena_id,beneficiary_id,
solped_memo_sap,hes_hem_sap,created_at FROM histories`

func scanHistory(s scanner) (domain.History, error) {
	var (
		h                                           domain.History
		taskID, process, valley, faena, beneficiary sql.NullInt64
	)
	err := s.Scan(&h.ID, &taskID, &h.Name, &h.Description, &process, &h.FinalDate, &h.TotalExpense, &valley, &faena, &beneficiary,
		&h.SolpedMemoSap, &h.HesHemSap, &h.CreatedAt)
	if err == sql.ErrNoRows {
		return h, ErrNotFound
	}
	if err != nil {
		return h, err
	}
	h.TaskID = intPtr(taskID)
	h.ProcessID = intPtr(process)
	h.ValleyID = intPtr(valley)
	h.FaenaID = intPtr(faena)
	h.BeneficiaryID = intPtr(beneficiary)
	return h, nil
}

func (r Repo) InsertHistory(ctx context.Context, q Querier, h *domain.History) error {
	res, err := q.ExecContext(ctx, `INSERT INTO histories(task_id,name,description,process_id,final_date,total_expense,valley_id,faena_id,beneficiary_id,solped_memo_sap,hes_hem_sap,created_at,source_task_id)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		nullableInt(h.TaskID), h.Name, nullable(h.Description), nullableInt(h.ProcessID), h.FinalDate, h.TotalExpense,
		nullableInt(h.ValleyID), nullableInt(h.FaenaID), nullableInt(h.BeneficiaryID), h.SolpedMemoSap, h.HesHemSap, h.CreatedAt, nullableInt(h.TaskID))
	if err != nil {
		return err
	}
	h.ID, err = res.LastInsertId()
	return err
}

func (r Repo) InsertHistoryDoc(ctx context.Context, q Querier, d *domain.HistoryDoc) error {
	res, err := q.ExecContext(ctx, `INSERT INTO history_docs(history_id,filename,type_id,path,size,upload_date) VALUES (?,?,?,?,?,?)`,
		d.HistoryID, d.Filename, nullableInt(d.TypeID), d.Path, d.Size, d.UploadDate)
	if err != nil {
		return err
	}
	d.ID, err = res.LastInsertId()
	return err
}

func (r Repo) GetHistory(ctx context.Context, q Querier, id int64) (domain.History, error) {
	h, err := scanHistory(q.QueryRowContext(ctx, historySelect+` WHERE id=?`, id))
	if err != nil {
		return h, err
	}
	h.Documents, err = r.ListHistoryDocs(ctx, q, h.ID)
	return h, err
}

type HistoryFilters struct {
	TaskID   int64
	ValleyID int64
	Name     string
	Limit    int
}

func (r Repo) ListHistories(ctx context.Context, q Querier, f HistoryFilters) ([]domain.History, error) {
	var (
		clauses []string
		args    []any
	)
	if f.TaskID > 0 {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.ValleyID > 0 {
		clauses = append(clauses, "valley_id=?")
		args = append(args, f.ValleyID)
	}
	if name := strings.TrimSpace(f.Name); name != "" {
		clauses = append(clauses, "name LIKE ?")
		args = append(args, "%"+name+"%")
	}
	query := historySelect
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.History
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r Repo) ListHistoryDocs(ctx context.Context, q Querier, historyID int64) ([]domain.HistoryDoc, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,history_id,filename,type_id,path,size,upload_date FROM history_docs WHERE history_id=? ORDER BY id`, historyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryDoc
	for rows.Next() {
		var (
			d      domain.HistoryDoc
			typeID sql.NullInt64
		)
		if err := rows.Scan(&d.ID, &d.HistoryID, &d.Filename, &typeID, &d.Path, &d.Size, &d.UploadDate); err != nil {
			return nil, err
		}
		d.TypeID = intPtr(typeID)
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) GetHistoryDoc(ctx context.Context, q Querier, id int64) (domain.HistoryDoc, error) {
	var (
		d      domain.HistoryDoc
		typeID sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `SELECT id,history_id,filename,type_id,path,size,upload_date FROM history_docs WHERE id=?`, id).
		Scan(&d.ID, &d.HistoryID, &d.Filename, &typeID, &d.Path, &d.Size, &d.UploadDate)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	d.TypeID = intPtr(typeID)
	return d, err
}

// HasHistoryForTask reports whether the task was ever archived. Rows written
// before histories carried a task id are matched by name; rows whose task was
// deleted later are not.
func (r Repo) HasHistoryForTask(ctx context.Context, q Querier, taskID int64, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM histories WHERE task_id=? OR (source_task_id IS NULL AND name=?) LIMIT 1`, taskID, name).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// PathReferencedByHistory reports whether any archived document still points at path.
func (r Repo) PathReferencedByHistory(ctx context.Context, q Querier, path string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM history_docs WHERE path=? LIMIT 1`, path).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
