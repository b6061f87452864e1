package repo

import (
	"context"
	"database/sql"
	"strings"

	"compliancehub/internal/domain"
)

const beneficiarySelect = `SELECT id,legal_name,rut,COALESCE(address,''),COALESCE(phone,''),COALESCE(email,''),COALESCE(structure,''),created_at FROM beneficiaries`

func scanBeneficiary(s scanner) (domain.Beneficiary, error) {
	var b domain.Beneficiary
	err := s.Scan(&b.ID, &b.LegalName, &b.Rut, &b.Address, &b.Phone, &b.Email, &b.Structure, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

func (r Repo) InsertBeneficiary(ctx context.Context, q Querier, b *domain.Beneficiary) error {
	res, err := q.ExecContext(ctx, `INSERT INTO beneficiaries(legal_name,rut,address,phone,email,structure,created_at) VALUES (?,?,?,?,?,?,?)`,
		b.LegalName, b.Rut, nullable(b.Address), nullable(b.Phone), nullable(b.Email), nullable(b.Structure), b.CreatedAt)
	if err != nil {
		return conflictOr(err, "beneficiary with rut %s already exists", b.Rut)
	}
	b.ID, err = res.LastInsertId()
	return err
}

func (r Repo) GetBeneficiary(ctx context.Context, q Querier, id int64) (domain.Beneficiary, error) {
	b, err := scanBeneficiary(q.QueryRowContext(ctx, beneficiarySelect+` WHERE id=?`, id))
	if err != nil {
		return b, err
	}
	b.Contacts, err = r.ListContacts(ctx, q, b.ID)
	return b, err
}

func (r Repo) ListBeneficiaries(ctx context.Context, q Querier, search string) ([]domain.Beneficiary, error) {
	query := beneficiarySelect
	var args []any
	if s := strings.TrimSpace(search); s != "" {
		query += ` WHERE legal_name LIKE ? OR rut LIKE ?`
		args = append(args, "%"+s+"%", "%"+s+"%")
	}
	rows, err := q.QueryContext(ctx, query+` ORDER BY legal_name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Beneficiary
	for rows.Next() {
		b, err := scanBeneficiary(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r Repo) UpdateBeneficiary(ctx context.Context, q Querier, b domain.Beneficiary) error {
	res, err := q.ExecContext(ctx, `UPDATE beneficiaries SET legal_name=?,rut=?,address=?,phone=?,email=?,structure=? WHERE id=?`,
		b.LegalName, b.Rut, nullable(b.Address), nullable(b.Phone), nullable(b.Email), nullable(b.Structure), b.ID)
	if err != nil {
		return conflictOr(err, "beneficiary with rut %s already exists", b.Rut)
	}
	return affected(res, nil)
}

func (r Repo) DeleteBeneficiary(ctx context.Context, q Querier, id int64) error {
	return affected(q.ExecContext(ctx, `DELETE FROM beneficiaries WHERE id=?`, id))
}

func (r Repo) InsertContact(ctx context.Context, q Querier, c *domain.Contact) error {
	res, err := q.ExecContext(ctx, `INSERT INTO contacts(beneficiary_id,name,phone,email) VALUES (?,?,?,?)`,
		c.BeneficiaryID, c.Name, nullable(c.Phone), nullable(c.Email))
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (r Repo) GetContact(ctx context.Context, q Querier, id int64) (domain.Contact, error) {
	var c domain.Contact
	err := q.QueryRowContext(ctx, `SELECT id,beneficiary_id,name,COALESCE(phone,''),COALESCE(email,'') FROM contacts WHERE id=?`, id).
		Scan(&c.ID, &c.BeneficiaryID, &c.Name, &c.Phone, &c.Email)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListContacts(ctx context.Context, q Querier, beneficiaryID int64) ([]domain.Contact, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,beneficiary_id,name,COALESCE(phone,''),COALESCE(email,'') FROM contacts WHERE beneficiary_id=? ORDER BY id`, beneficiaryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Contact{}
	for rows.Next() {
		var c domain.Contact
		if err := rows.Scan(&c.ID, &c.BeneficiaryID, &c.Name, &c.Phone, &c.Email); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateContact(ctx context.Context, q Querier, c domain.Contact) error {
	return affected(q.ExecContext(ctx, `UPDATE contacts SET name=?,phone=?,email=? WHERE id=?`, c.Name, nullable(c.Phone), nullable(c.Email), c.ID))
}

func (r Repo) DeleteContact(ctx context.Context, q Querier, id int64) error {
	return affected(q.ExecContext(ctx, `DELETE FROM contacts WHERE id=?`, id))
}
