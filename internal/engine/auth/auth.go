package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"compliancehub/internal/config"
	"compliancehub/internal/domain"
	"compliancehub/internal/events"
	"compliancehub/internal/repo"
)

const (
	PurposeReset  = "reset"
	PurposeVerify = "verify"

	minPasswordLen = 8
)

// ErrUnauthorized is returned for any credential or token mismatch.
var ErrUnauthorized = errors.New("invalid credentials")

// ForbiddenError indicates the caller's role may not perform the action.
type ForbiddenError struct {
	Role    string
	Allowed []string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %q not allowed; requires one of %s", e.Role, strings.Join(e.Allowed, ", "))
}

// InvalidInputError reports a rejected registration or password.
type InvalidInputError struct {
	Msg string
}

func (e InvalidInputError) Error() string { return e.Msg }

// Principal is the authenticated caller.
type Principal struct {
	UserID int64
	Email  string
	Role   string
}

// ActorID identifies the principal in the audit log.
func (p Principal) ActorID() string {
	if p.UserID == 0 {
		return ""
	}
	return fmt.Sprintf("user:%d", p.UserID)
}

// Mailer delivers account emails.
type Mailer interface {
	SendEmailValidation(ctx context.Context, to, name, link string) error
	SendPasswordReset(ctx context.Context, to, name, link string) error
}

// Service issues and verifies credentials backed by SQL.
type Service struct {
	DB          *sql.DB
	Repo        repo.Repo
	Events      events.Writer
	Config      *config.Config
	Secret      []byte
	FrontendURL string
	Mailer      Mailer
	Log         log.FieldLogger
	Now         func() time.Time
	// Cost is the bcrypt cost; zero uses bcrypt.DefaultCost.
	Cost int
}

func NewService(db *sql.DB, cfg *config.Config, secret, frontendURL string, mailer Mailer, logger log.FieldLogger) Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return Service{
		DB:          db,
		Repo:        repo.Repo{DB: db},
		Events:      events.Writer{DB: db},
		Config:      cfg,
		Secret:      []byte(secret),
		FrontendURL: frontendURL,
		Mailer:      mailer,
		Log:         logger,
		Now:         time.Now,
	}
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Service) cost() int {
	if s.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return s.Cost
}

type UserInput struct {
	Name     string
	Email    string
	Password string
	Role     string
}

func (in UserInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return InvalidInputError{Msg: "name is required"}
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(in.Email)); err != nil {
		return InvalidInputError{Msg: "a valid email is required"}
	}
	return validatePassword(in.Password)
}

func validatePassword(pw string) error {
	if len(pw) < minPasswordLen {
		return InvalidInputError{Msg: fmt.Sprintf("password must be at least %d characters", minPasswordLen)}
	}
	if len(pw) > 72 {
		return InvalidInputError{Msg: "password must be at most 72 bytes"}
	}
	return nil
}

// CreateUser stores a user with a bcrypt password hash. An empty role gets the
// configured default role.
func (s Service) CreateUser(ctx context.Context, in UserInput, verified bool) (domain.User, error) {
	if err := in.validate(); err != nil {
		return domain.User{}, err
	}
	if in.Role == "" {
		in.Role = s.Config.Auth.DefaultRole
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost())
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	role, err := s.Repo.GetRoleByName(ctx, tx, in.Role)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, InvalidInputError{Msg: fmt.Sprintf("unknown role %q", in.Role)}
		}
		return domain.User{}, err
	}
	u := domain.User{
		Name:          strings.TrimSpace(in.Name),
		Email:         strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash:  string(hash),
		RoleID:        role.ID,
		RoleName:      role.Name,
		EmailVerified: verified,
		CreatedAt:     s.now().UTC().Format(time.RFC3339),
	}
	if err := s.Repo.InsertUser(ctx, tx, &u); err != nil {
		return domain.User{}, err
	}
	if err := s.Events.Append(ctx, tx, "user.create", "user", u.ID, "", events.EventPayload{"role": role.Name}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Register creates an unverified user and emails a verification link. A failed
// email is logged; the account still exists and can request a new link.
func (s Service) Register(ctx context.Context, in UserInput) (domain.User, error) {
	in.Role = ""
	u, err := s.CreateUser(ctx, in, false)
	if err != nil {
		return domain.User{}, err
	}
	token, err := s.issueToken(ctx, u.ID, PurposeVerify, s.Config.VerifyTTL())
	if err != nil {
		return domain.User{}, err
	}
	if s.Mailer != nil {
		if err := s.Mailer.SendEmailValidation(ctx, u.Email, u.Name, s.link("/verify-email", token)); err != nil {
			s.Log.WithError(err).WithField("user_id", u.ID).Warn("email validation not sent")
		}
	}
	return u, nil
}

// VerifyEmail consumes a verification token.
func (s Service) VerifyEmail(ctx context.Context, token string) (domain.User, error) {
	var u domain.User
	err := s.consumeToken(ctx, token, PurposeVerify, func(tx *sql.Tx, userID int64) error {
		if err := s.Repo.MarkEmailVerified(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		u, err = s.Repo.GetUser(ctx, tx, userID)
		return err
	})
	return u, err
}

// Login checks the password and returns a signed token and its expiry.
func (s Service) Login(ctx context.Context, email, password string) (string, time.Time, domain.User, error) {
	u, err := s.Repo.GetUserByEmail(ctx, s.DB, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", time.Time{}, domain.User{}, ErrUnauthorized
		}
		return "", time.Time{}, domain.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", time.Time{}, domain.User{}, ErrUnauthorized
	}
	token, exp, err := s.IssueJWT(u)
	if err != nil {
		return "", time.Time{}, domain.User{}, err
	}
	return token, exp, u, nil
}

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// IssueJWT signs an HS256 token for u.
func (s Service) IssueJWT(u domain.User) (string, time.Time, error) {
	if len(s.Secret) == 0 {
		return "", time.Time{}, errors.New("jwt secret not configured")
	}
	now := s.now()
	exp := now.Add(s.Config.TokenTTL())
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   fmt.Sprint(u.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: u.Email,
		Role:  u.RoleName,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// ParseJWT verifies a bearer token and returns its principal.
func (s Service) ParseJWT(token string) (Principal, error) {
	if len(s.Secret) == 0 {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	c := &claims{}
	parsed, err := parser.ParseWithClaims(token, c, func(t *jwt.Token) (any, error) {
		return s.Secret, nil
	})
	if err != nil || !parsed.Valid {
		return Principal{}, ErrUnauthorized
	}
	var id int64
	if _, err := fmt.Sscan(c.Subject, &id); err != nil || id <= 0 {
		return Principal{}, ErrUnauthorized
	}
	return Principal{UserID: id, Email: c.Email, Role: c.Role}, nil
}

// RequestPasswordReset emails a one-time reset link. Unknown addresses are
// ignored so callers cannot learn which emails are registered.
func (s Service) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.Repo.GetUserByEmail(ctx, s.DB, email)
	if errors.Is(err, repo.ErrNotFound) {
		s.Log.WithField("email", email).Debug("password reset for unknown email")
		return nil
	}
	if err != nil {
		return err
	}
	token, err := s.issueToken(ctx, u.ID, PurposeReset, s.Config.ResetTTL())
	if err != nil {
		return err
	}
	if s.Mailer == nil {
		return nil
	}
	if err := s.Mailer.SendPasswordReset(ctx, u.Email, u.Name, s.link("/reset-password", token)); err != nil {
		return fmt.Errorf("send password reset: %w", err)
	}
	return nil
}

// ResetPassword sets a new password using a reset token. Each token works once.
func (s Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost())
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.consumeToken(ctx, token, PurposeReset, func(tx *sql.Tx, userID int64) error {
		return s.Repo.UpdatePassword(ctx, tx, userID, string(hash))
	})
}

// ChangeRole assigns a new role to a user.
func (s Service) ChangeRole(ctx context.Context, userID int64, roleName, actorID string) (domain.User, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	role, err := s.Repo.GetRoleByName(ctx, tx, roleName)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, InvalidInputError{Msg: fmt.Sprintf("unknown role %q", roleName)}
		}
		return domain.User{}, err
	}
	if err := s.Repo.AssignRole(ctx, tx, userID, role.ID); err != nil {
		return domain.User{}, fmt.Errorf("user %d: %w", userID, err)
	}
	if err := s.Events.Append(ctx, tx, "user.role", "user", userID, actorID, events.EventPayload{"role": role.Name}); err != nil {
		return domain.User{}, err
	}
	u, err := s.Repo.GetUser(ctx, tx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (s Service) issueToken(ctx context.Context, userID int64, purpose string, ttl time.Duration) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	now := s.now().UTC()
	err := s.Repo.InsertUserToken(ctx, s.DB, domain.UserToken{
		TokenHash: repo.HashToken(token),
		UserID:    userID,
		Purpose:   purpose,
		ExpiresAt: now.Add(ttl).Format(time.RFC3339),
		CreatedAt: now.Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("store %s token: %w", purpose, err)
	}
	return token, nil
}

func (s Service) consumeToken(ctx context.Context, token, purpose string, fn func(tx *sql.Tx, userID int64) error) error {
	if strings.TrimSpace(token) == "" {
		return ErrUnauthorized
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	hash := repo.HashToken(token)
	t, err := s.Repo.GetUserToken(ctx, tx, hash, purpose)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrUnauthorized
	}
	if err != nil {
		return err
	}
	now := s.now().UTC()
	exp, err := time.Parse(time.RFC3339, t.ExpiresAt)
	if err != nil || t.UsedAt != nil || !now.Before(exp) {
		return ErrUnauthorized
	}
	if err := s.Repo.MarkTokenUsed(ctx, tx, hash, now.Format(time.RFC3339)); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	if err := fn(tx, t.UserID); err != nil {
		return err
	}
	if err := s.Events.Append(ctx, tx, "user.token."+purpose, "user", t.UserID, "", nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (s Service) link(path, token string) string {
	base := strings.TrimRight(s.FrontendURL, "/")
	return base + path + "?token=" + url.QueryEscape(token)
}

// RequireRole returns a ForbiddenError unless p holds one of roles.
func RequireRole(p Principal, roles ...string) error {
	for _, r := range roles {
		if p.Role == r {
			return nil
		}
	}
	return ForbiddenError{Role: p.Role, Allowed: roles}
}

// CanWrite checks that p may modify records.
func (s Service) CanWrite(p Principal) error {
	return RequireRole(p, append(append([]string{}, s.Config.Auth.AdminRoles...), s.Config.Auth.WriteRoles...)...)
}

// CanAdmin checks that p may manage users.
func (s Service) CanAdmin(p Principal) error {
	return RequireRole(p, s.Config.Auth.AdminRoles...)
}
