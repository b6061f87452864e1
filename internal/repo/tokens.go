package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"compliancehub/internal/domain"
)

// HashToken returns a stable SHA-256 hex digest for the provided token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

// InsertUserToken stores a hashed one-time token. TokenHash must already be hashed.
func (r Repo) InsertUserToken(ctx context.Context, q Querier, t domain.UserToken) error {
	if t.TokenHash == "" {
		return errors.New("token_hash required")
	}
	if t.Purpose == "" {
		return errors.New("purpose required")
	}
	_, err := q.ExecContext(ctx, `INSERT INTO user_tokens(token_hash,user_id,purpose,expires_at,created_at) VALUES (?,?,?,?,?)`,
		t.TokenHash, t.UserID, t.Purpose, t.ExpiresAt, t.CreatedAt)
	return err
}

func (r Repo) GetUserToken(ctx context.Context, q Querier, hash, purpose string) (domain.UserToken, error) {
	var (
		t    domain.UserToken
		used sql.NullString
	)
	err := q.QueryRowContext(ctx, `SELECT token_hash,user_id,purpose,expires_at,used_at,created_at FROM user_tokens WHERE token_hash=? AND purpose=?`, hash, purpose).
		Scan(&t.TokenHash, &t.UserID, &t.Purpose, &t.ExpiresAt, &used, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	t.UsedAt = strPtr(used)
	return t, err
}

// MarkTokenUsed consumes the token; a token already used reports ErrNotFound.
func (r Repo) MarkTokenUsed(ctx context.Context, q Querier, hash, usedAt string) error {
	return affected(q.ExecContext(ctx, `UPDATE user_tokens SET used_at=? WHERE token_hash=? AND used_at IS NULL`, usedAt, hash))
}

func (r Repo) DeleteExpiredTokens(ctx context.Context, q Querier, before string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM user_tokens WHERE expires_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
