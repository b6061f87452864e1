package repo

import (
	"context"
	"database/sql"

	"compliancehub/internal/domain"
)

const registrySelect = `SELECT id,compliance_id,hes,hem,COALESCE(provider,''),start_date,end_date,created_at FROM registries`

func scanRegistry(s scanner) (domain.Registry, error) {
	var (
		reg        domain.Registry
		hes, hem   int
		start, end sql.NullString
	)
	err := s.Scan(&reg.ID, &reg.ComplianceID, &hes, &hem, &reg.Provider, &start, &end, &reg.CreatedAt)
	if err == sql.ErrNoRows {
		return reg, ErrNotFound
	}
	if err != nil {
		return reg, err
	}
	reg.Hes = hes == 1
	reg.Hem = hem == 1
	reg.StartDate = strPtr(start)
	reg.EndDate = strPtr(end)
	return reg, nil
}

func (r Repo) InsertRegistry(ctx context.Context, q Querier, reg *domain.Registry) error {
	res, err := q.ExecContext(ctx, `INSERT INTO registries(compliance_id,hes,hem,provider,start_date,end_date,created_at) VALUES (?,?,?,?,?,?,?)`,
		reg.ComplianceID, boolInt(reg.Hes), boolInt(reg.Hem), nullable(reg.Provider), nullableStr(reg.StartDate), nullableStr(reg.EndDate), reg.CreatedAt)
	if err != nil {
		return err
	}
	reg.ID, err = res.LastInsertId()
	return err
}

func (r Repo) GetRegistry(ctx context.Context, q Querier, id int64) (domain.Registry, error) {
	return scanRegistry(q.QueryRowContext(ctx, registrySelect+` WHERE id=?`, id))
}

func (r Repo) ListRegistries(ctx context.Context, q Querier, complianceID int64) ([]domain.Registry, error) {
	rows, err := q.QueryContext(ctx, registrySelect+` WHERE compliance_id=? ORDER BY id`, complianceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Registry
	for rows.Next() {
		reg, err := scanRegistry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, reg)
	}
	return res, rows.Err()
}

func (r Repo) UpdateRegistry(ctx context.Context, q Querier, reg domain.Registry) error {
	return affected(q.ExecContext(ctx, `UPDATE registries SET hes=?,hem=?,provider=?,start_date=?,end_date=? WHERE id=?`,
		boolInt(reg.Hes), boolInt(reg.Hem), nullable(reg.Provider), nullableStr(reg.StartDate), nullableStr(reg.EndDate), reg.ID))
}

func (r Repo) DeleteRegistry(ctx context.Context, q Querier, id int64) error {
	return affected(q.ExecContext(ctx, `DELETE FROM registries WHERE id=?`, id))
}

func (r Repo) DeleteRegistriesByCompliance(ctx context.Context, q Querier, complianceID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM registries WHERE compliance_id=?`, complianceID)
	return err
}

func (r Repo) InsertSolped(ctx context.Context, q Querier, s *domain.Solped) error {
	res, err := q.ExecContext(ctx, `INSERT INTO solpeds(registry_id,ceco,cuenta,valor,sap_number) VALUES (?,?,?,?,?)`,
		s.RegistryID, nullableInt(s.Ceco), nullableInt(s.Cuenta), nullableInt(s.Valor), nullableInt(s.SapNumber))
	if err != nil {
		return conflictOr(err, "registry %d already has a solped", s.RegistryID)
	}
	s.ID, err = res.LastInsertId()
	return err
}

func (r Repo) GetSolpedByRegistry(ctx context.Context, q Querier, registryID int64) (domain.Solped, error) {
	var (
		s                              domain.Solped
		ceco, cuenta, valor, sapNumber sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `SELECT id,registry_id,ceco,cuenta,valor,sap_number FROM solpeds WHERE registry_id=?`, registryID).
		Scan(&s.ID, &s.RegistryID, &ceco, &cuenta, &valor, &sapNumber)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Ceco, s.Cuenta, s.Valor, s.SapNumber = intPtr(ceco), intPtr(cuenta), intPtr(valor), intPtr(sapNumber)
	return s, nil
}

func (r Repo) UpdateSolped(ctx context.Context, q Querier, s domain.Solped) error {
	return affected(q.ExecContext(ctx, `UPDATE solpeds SET ceco=?,cuenta=?,valor=?,sap_number=? WHERE id=?`,
		nullableInt(s.Ceco), nullableInt(s.Cuenta), nullableInt(s.Valor), nullableInt(s.SapNumber), s.ID))
}

func (r Repo) DeleteSolpedByRegistry(ctx context.Context, q Querier, registryID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM solpeds WHERE registry_id=?`, registryID)
	return err
}

func (r Repo) InsertMemo(ctx context.Context, q Querier, m *domain.Memo) error {
	res, err := q.ExecContext(ctx, `INSERT INTO memos(registry_id,ceco,cuenta,valor,memo_number) VALUES (?,?,?,?,?)`,
		m.RegistryID, nullableInt(m.Ceco), nullableInt(m.Cuenta), nullableInt(m.Valor), nullableInt(m.MemoNumber))
	if err != nil {
		return conflictOr(err, "registry %d already has a memo", m.RegistryID)
	}
	m.ID, err = res.LastInsertId()
	return err
}

func (r Repo) GetMemoByRegistry(ctx context.Context, q Querier, registryID int64) (domain.Memo, error) {
	var (
		m                               domain.Memo
		ceco, cuenta, valor, memoNumber sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `SELECT id,registry_id,ceco,cuenta,valor,memo_number FROM memos WHERE registry_id=?`, registryID).
		Scan(&m.ID, &m.RegistryID, &ceco, &cuenta, &valor, &memoNumber)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.Ceco, m.Cuenta, m.Valor, m.MemoNumber = intPtr(ceco), intPtr(cuenta), intPtr(valor), intPtr(memoNumber)
	return m, nil
}

func (r Repo) UpdateMemo(ctx context.Context, q Querier, m domain.Memo) error {
	return affected(q.ExecContext(ctx, `UPDATE memos SET ceco=?,cuenta=?,valor=?,memo_number=? WHERE id=?`,
		nullableInt(m.Ceco), nullableInt(m.Cuenta), nullableInt(m.Valor), nullableInt(m.MemoNumber), m.ID))
}

func (r Repo) DeleteMemoByRegistry(ctx context.Context, q Querier, registryID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM memos WHERE registry_id=?`, registryID)
	return err
}

// DeleteFinancialsByCompliance removes every solped and memo hanging off the
// compliance's registries.
func (r Repo) DeleteFinancialsByCompliance(ctx context.Context, q Querier, complianceID int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM solpeds WHERE registry_id IN (SELECT id FROM registries WHERE compliance_id=?)`, complianceID); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `DELETE FROM memos WHERE registry_id IN (SELECT id FROM registries WHERE compliance_id=?)`, complianceID)
	return err
}
