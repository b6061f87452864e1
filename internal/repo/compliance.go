package repo

import (
	"context"
	"database/sql"

	"compliancehub/internal/domain"
)

const complianceSelect = `SELECT id,task_id,status_id,valor,ceco,cuenta,solped_memo_sap,hes_hem_sap,listo,created_at,updated_at,status_changed_at FROM compliances`

func scanCompliance(s scanner) (domain.Compliance, error) {
	var (
		c                                   domain.Compliance
		valor, ceco, cuenta, solped, hesHem sql.NullInt64
		listo                               int
	)
	err := s.Scan(&c.ID, &c.TaskID, &c.StatusID, &valor, &ceco, &cuenta, &solped, &hesHem, &listo, &c.CreatedAt, &c.UpdatedAt, &c.StatusChangedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Valor = intPtr(valor)
	c.Ceco = intPtr(ceco)
	c.Cuenta = intPtr(cuenta)
	c.SolpedMemoSap = intPtr(solped)
	c.HesHemSap = intPtr(hesHem)
	c.Listo = listo == 1
	return c, nil
}

func (r Repo) InsertCompliance(ctx context.Context, q Querier, c *domain.Compliance) error {
	res, err := q.ExecContext(ctx, `INSERT INTO compliances(task_id,status_id,valor,ceco,cuenta,solped_memo_sap,hes_hem_sap,listo,created_at,updated_at,status_changed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.TaskID, c.StatusID, nullableInt(c.Valor), nullableInt(c.Ceco), nullableInt(c.Cuenta), nullableInt(c.SolpedMemoSap),
		nullableInt(c.HesHemSap), boolInt(c.Listo), c.CreatedAt, c.UpdatedAt, c.StatusChangedAt)
	if err != nil {
		return conflictOr(err, "compliance already exists for task %d", c.TaskID)
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (r Repo) GetCompliance(ctx context.Context, q Querier, id int64) (domain.Compliance, error) {
	return scanCompliance(q.QueryRowContext(ctx, complianceSelect+` WHERE id=?`, id))
}

func (r Repo) ComplianceExistsForTask(ctx context.Context, q Querier, taskID int64) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM compliances WHERE task_id=? LIMIT 1`, taskID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListCompliancesByTask(ctx context.Context, q Querier, taskID int64) ([]domain.Compliance, error) {
	return r.queryCompliances(ctx, q, complianceSelect+` WHERE task_id=? ORDER BY id`, taskID)
}

func (r Repo) ListCompliances(ctx context.Context, q Querier) ([]domain.Compliance, error) {
	return r.queryCompliances(ctx, q, complianceSelect+` ORDER BY id`)
}

// ListOpenCompliances returns compliances not yet in the terminal status.
func (r Repo) ListOpenCompliances(ctx context.Context, q Querier, terminalStatusID int64) ([]domain.Compliance, error) {
	return r.queryCompliances(ctx, q, complianceSelect+` WHERE status_id<>? ORDER BY id`, terminalStatusID)
}

func (r Repo) queryCompliances(ctx context.Context, q Querier, query string, args ...any) ([]domain.Compliance, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Compliance
	for rows.Next() {
		c, err := scanCompliance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateCompliance(ctx context.Context, q Querier, c domain.Compliance) error {
	return affected(q.ExecContext(ctx, `UPDATE compliances SET status_id=?,valor=?,ceco=?,cuenta=?,solped_memo_sap=?,hes_hem_sap=?,listo=?,updated_at=?,status_changed_at=? WHERE id=?`,
		c.StatusID, nullableInt(c.Valor), nullableInt(c.Ceco), nullableInt(c.Cuenta), nullableInt(c.SolpedMemoSap),
		nullableInt(c.HesHemSap), boolInt(c.Listo), c.UpdatedAt, c.StatusChangedAt, c.ID))
}

func (r Repo) DeleteCompliance(ctx context.Context, q Querier, id int64) error {
	return affected(q.ExecContext(ctx, `DELETE FROM compliances WHERE id=?`, id))
}

func (r Repo) GetComplianceStatus(ctx context.Context, q Querier, id int64) (domain.ComplianceStatus, error) {
	var s domain.ComplianceStatus
	err := q.QueryRowContext(ctx, `SELECT id,name,days,ordinal FROM compliance_statuses WHERE id=?`, id).Scan(&s.ID, &s.Name, &s.Days, &s.Ordinal)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// ListComplianceStatuses returns statuses in ordinal order.
func (r Repo) ListComplianceStatuses(ctx context.Context, q Querier) ([]domain.ComplianceStatus, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,name,days,ordinal FROM compliance_statuses ORDER BY ordinal, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ComplianceStatus
	for rows.Next() {
		var s domain.ComplianceStatus
		if err := rows.Scan(&s.ID, &s.Name, &s.Days, &s.Ordinal); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
