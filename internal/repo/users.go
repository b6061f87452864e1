package repo

import (
	"context"
	"database/sql"
	"strings"

	"compliancehub/internal/domain"
)

const userSelect = `SELECT u.id,u.name,u.email,u.password_hash,u.role_id,r.name,u.email_verified,u.created_at FROM users u JOIN roles r ON r.id=u.role_id`

func scanUser(s scanner) (domain.User, error) {
	var (
		u        domain.User
		verified int
	)
	err := s.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.RoleID, &u.RoleName, &verified, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	u.EmailVerified = verified == 1
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, q Querier, u *domain.User) error {
	res, err := q.ExecContext(ctx, `INSERT INTO users(name,email,password_hash,role_id,email_verified,created_at) VALUES (?,?,?,?,?,?)`,
		u.Name, strings.ToLower(strings.TrimSpace(u.Email)), u.PasswordHash, u.RoleID, boolInt(u.EmailVerified), u.CreatedAt)
	if err != nil {
		return conflictOr(err, "email %s already registered", u.Email)
	}
	u.ID, err = res.LastInsertId()
	return err
}

func (r Repo) GetUser(ctx context.Context, q Querier, id int64) (domain.User, error) {
	return scanUser(q.QueryRowContext(ctx, userSelect+` WHERE u.id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, q Querier, email string) (domain.User, error) {
	return scanUser(q.QueryRowContext(ctx, userSelect+` WHERE u.email=?`, strings.ToLower(strings.TrimSpace(email))))
}

func (r Repo) ListUsers(ctx context.Context, q Querier) ([]domain.User, error) {
	rows, err := q.QueryContext(ctx, userSelect+` ORDER BY u.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// ListUsersByRole returns users holding any of the given roles.
func (r Repo) ListUsersByRole(ctx context.Context, q Querier, roles ...string) ([]domain.User, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	args := make([]any, len(roles))
	for i, role := range roles {
		args[i] = role
	}
	rows, err := q.QueryContext(ctx, userSelect+` WHERE r.name IN (?`+strings.Repeat(",?", len(roles)-1)+`) ORDER BY u.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) UpdatePassword(ctx context.Context, q Querier, userID int64, hash string) error {
	return affected(q.ExecContext(ctx, `UPDATE users SET password_hash=? WHERE id=?`, hash, userID))
}

func (r Repo) MarkEmailVerified(ctx context.Context, q Querier, userID int64) error {
	return affected(q.ExecContext(ctx, `UPDATE users SET email_verified=1 WHERE id=?`, userID))
}

func (r Repo) AssignRole(ctx context.Context, q Querier, userID, roleID int64) error {
	return affected(q.ExecContext(ctx, `UPDATE users SET role_id=? WHERE id=?`, roleID, userID))
}

func (r Repo) EnsureRole(ctx context.Context, q Querier, name string) (int64, error) {
	if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO roles(name) VALUES (?)`, name); err != nil {
		return 0, err
	}
	role, err := r.GetRoleByName(ctx, q, name)
	return role.ID, err
}

func (r Repo) GetRoleByName(ctx context.Context, q Querier, name string) (domain.Role, error) {
	var role domain.Role
	err := q.QueryRowContext(ctx, `SELECT id,name FROM roles WHERE name=?`, name).Scan(&role.ID, &role.Name)
	if err == sql.ErrNoRows {
		return role, ErrNotFound
	}
	return role, err
}

func (r Repo) ListRoles(ctx context.Context, q Querier) ([]domain.Role, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,name FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Role
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.Name); err != nil {
			return nil, err
		}
		res = append(res, role)
	}
	return res, rows.Err()
}
