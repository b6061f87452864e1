package repo

import (
	"context"
	"database/sql"

	"compliancehub/internal/domain"
)

const documentSelect = `SELECT id,task_id,type_id,path,filename,size,upload_date FROM documents`

func scanDocument(s scanner) (domain.Document, error) {
	var (
		d              domain.Document
		taskID, typeID sql.NullInt64
	)
	err := s.Scan(&d.ID, &taskID, &typeID, &d.Path, &d.Filename, &d.Size, &d.UploadDate)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.TaskID = intPtr(taskID)
	d.TypeID = intPtr(typeID)
	return d, nil
}

func (r Repo) InsertDocument(ctx context.Context, q Querier, d *domain.Document) error {
	res, err := q.ExecContext(ctx, `INSERT INTO documents(task_id,type_id,path,filename,size,upload_date) VALUES (?,?,?,?,?,?)`,
		nullableInt(d.TaskID), nullableInt(d.TypeID), d.Path, d.Filename, d.Size, d.UploadDate)
	if err != nil {
		return err
	}
	d.ID, err = res.LastInsertId()
	return err
}

func (r Repo) GetDocument(ctx context.Context, q Querier, id int64) (domain.Document, error) {
	return scanDocument(q.QueryRowContext(ctx, documentSelect+` WHERE id=?`, id))
}

func (r Repo) ListDocumentsByTask(ctx context.Context, q Querier, taskID int64) ([]domain.Document, error) {
	rows, err := q.QueryContext(ctx, documentSelect+` WHERE task_id=? ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) DeleteDocument(ctx context.Context, q Querier, id int64) error {
	return affected(q.ExecContext(ctx, `DELETE FROM documents WHERE id=?`, id))
}

func (r Repo) DeleteDocumentsByTask(ctx context.Context, q Querier, taskID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM documents WHERE task_id=?`, taskID)
	return err
}
