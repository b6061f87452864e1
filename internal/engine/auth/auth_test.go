package auth_test

import (
	"context"
	"errors"
	"io"
	"net/url"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"compliancehub/internal/config"
	"compliancehub/internal/db"
	"compliancehub/internal/engine/auth"
	"compliancehub/internal/migrate"
	"compliancehub/internal/repo"
)

type sentMail struct {
	kind, to, link string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *fakeMailer) SendEmailValidation(ctx context.Context, to, name, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{"verify", to, link})
	return nil
}

func (m *fakeMailer) SendPasswordReset(ctx context.Context, to, name, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{"reset", to, link})
	return nil
}

func (m *fakeMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatalf("no mail sent")
	}
	return m.sent[len(m.sent)-1]
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	return u.Query().Get("token")
}

func newTestService(t *testing.T) (auth.Service, *fakeMailer, *time.Time) {
	t.Helper()
	conn, err := db.Open(db.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	logger := log.New()
	logger.SetOutput(io.Discard)
	mailer := &fakeMailer{}
	svc := auth.NewService(conn, config.Default(), "test-secret", "https://app.example.com/", mailer, logger)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return now }
	svc.Cost = bcrypt.MinCost
	return svc, mailer, &now
}

func TestRegisterVerifyAndLogin(t *testing.T) {
	svc, mailer, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, auth.UserInput{Name: "Ana", Email: "Ana@Example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Email != "ana@example.com" || u.RoleName != "viewer" || u.EmailVerified {
		t.Fatalf("unexpected user %+v", u)
	}
	mail := mailer.last(t)
	if mail.kind != "verify" || mail.to != "ana@example.com" {
		t.Fatalf("unexpected mail %+v", mail)
	}
	verified, err := svc.VerifyEmail(ctx, tokenFromLink(t, mail.link))
	if err != nil || !verified.EmailVerified {
		t.Fatalf("verify: %v %+v", err, verified)
	}

	token, exp, _, err := svc.Login(ctx, "ana@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if want := svc.Now().Add(24 * time.Hour); !exp.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, exp)
	}
	p, err := svc.ParseJWT(token)
	if err != nil {
		t.Fatalf("parse jwt: %v", err)
	}
	if p.UserID != u.ID || p.Role != "viewer" || p.ActorID() == "" {
		t.Fatalf("unexpected principal %+v", p)
	}
	if _, _, _, err := svc.Login(ctx, "ana@example.com", "wrong-password"); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, _, _, err := svc.Login(ctx, "nobody@example.com", "whatever1"); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for unknown email, got %v", err)
	}
	if _, err := svc.Register(ctx, auth.UserInput{Name: "Ana", Email: "ana@example.com", Password: "another-pass"}); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict for duplicate email, got %v", err)
	}
}

func TestExpiredJWTRejected(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()
	if _, err := svc.CreateUser(ctx, auth.UserInput{Name: "Root", Email: "root@example.com", Password: "supersecret", Role: "admin"}, true); err != nil {
		t.Fatal(err)
	}
	token, _, _, err := svc.Login(ctx, "root@example.com", "supersecret")
	if err != nil {
		t.Fatal(err)
	}
	*now = now.Add(25 * time.Hour)
	if _, err := svc.ParseJWT(token); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
	other := svc
	other.Secret = []byte("different")
	*now = now.Add(-25 * time.Hour)
	if _, err := other.ParseJWT(token); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected foreign signature rejected, got %v", err)
	}
}

func TestPasswordResetIsSingleUse(t *testing.T) {
	svc, mailer, now := newTestService(t)
	ctx := context.Background()
	if _, err := svc.CreateUser(ctx, auth.UserInput{Name: "Luis", Email: "luis@example.com", Password: "old-password"}, true); err != nil {
		t.Fatal(err)
	}
	if err := svc.RequestPasswordReset(ctx, "ghost@example.com"); err != nil {
		t.Fatalf("unknown email should be ignored: %v", err)
	}
	if err := svc.RequestPasswordReset(ctx, "luis@example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	mail := mailer.last(t)
	if mail.kind != "reset" {
		t.Fatalf("expected reset mail, got %+v", mail)
	}
	token := tokenFromLink(t, mail.link)
	if err := svc.ResetPassword(ctx, token, "short"); err == nil {
		t.Fatalf("expected short password rejected")
	}
	if err := svc.ResetPassword(ctx, token, "new-password"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := svc.ResetPassword(ctx, token, "third-password"); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected used token rejected, got %v", err)
	}
	if _, _, _, err := svc.Login(ctx, "luis@example.com", "new-password"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}

	if err := svc.RequestPasswordReset(ctx, "luis@example.com"); err != nil {
		t.Fatal(err)
	}
	stale := tokenFromLink(t, mailer.last(t).link)
	*now = now.Add(2 * time.Hour)
	if err := svc.ResetPassword(ctx, stale, "later-password"); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
}

func TestRoleChecks(t *testing.T) {
	svc, _, _ := newTestService(t)
	admin := auth.Principal{UserID: 1, Role: "admin"}
	editor := auth.Principal{UserID: 2, Role: "editor"}
	viewer := auth.Principal{UserID: 3, Role: "viewer"}
	if err := svc.CanWrite(admin); err != nil {
		t.Fatalf("admin should write: %v", err)
	}
	if err := svc.CanWrite(editor); err != nil {
		t.Fatalf("editor should write: %v", err)
	}
	var forbidden auth.ForbiddenError
	if err := svc.CanWrite(viewer); !errors.As(err, &forbidden) || forbidden.Role != "viewer" {
		t.Fatalf("expected forbidden for viewer, got %v", err)
	}
	if err := svc.CanAdmin(editor); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden for editor admin action, got %v", err)
	}
}

func TestChangeRole(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.CreateUser(ctx, auth.UserInput{Name: "Sofía", Email: "sofia@example.com", Password: "password1"}, true)
	if err != nil {
		t.Fatal(err)
	}
	u, err = svc.ChangeRole(ctx, u.ID, "editor", "user:1")
	if err != nil || u.RoleName != "editor" {
		t.Fatalf("change role: %v %+v", err, u)
	}
	var invalid auth.InvalidInputError
	if _, err := svc.ChangeRole(ctx, u.ID, "superuser", "user:1"); !errors.As(err, &invalid) {
		t.Fatalf("expected invalid input for unknown role, got %v", err)
	}
}
