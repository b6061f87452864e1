package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultAttempts = 3
	defaultDelay    = 500 * time.Millisecond
)

// Config holds the Logic-App webhook URLs. An empty URL disables that message kind.
type Config struct {
	EmailValidationURL string
	PasswordResetURL   string
	AlertURL           string
	Attempts           uint
	Delay              time.Duration
}

// Client posts JSON payloads to Logic-App HTTP triggers, which own
// templating and delivery.
type Client struct {
	cfg  Config
	http *resty.Client
	log  log.FieldLogger
}

func New(cfg Config, logger log.FieldLogger) *Client {
	if cfg.Attempts == 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.Delay == 0 {
		cfg.Delay = defaultDelay
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{
		cfg: cfg,
		http: resty.New().
			SetTimeout(defaultTimeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", "compliancehub"),
		log: logger.WithField("component", "notify"),
	}
}

type emailMessage struct {
	To      string `json:"to"`
	Name    string `json:"name"`
	Link    string `json:"link"`
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
}

// Alert is a job notification fanned out to a list of recipients.
type Alert struct {
	Kind       string   `json:"kind"`
	Message    string   `json:"message"`
	EntityKind string   `json:"entity_kind"`
	EntityID   int64    `json:"entity_id"`
	Recipients []string `json:"recipients"`
}

func (c *Client) SendEmailValidation(ctx context.Context, to, name, link string) error {
	return c.post(ctx, c.cfg.EmailValidationURL, "email_validation", emailMessage{
		To: to, Name: name, Link: link, Kind: "email_validation", Subject: "Valida tu correo",
	})
}

func (c *Client) SendPasswordReset(ctx context.Context, to, name, link string) error {
	return c.post(ctx, c.cfg.PasswordResetURL, "password_reset", emailMessage{
		To: to, Name: name, Link: link, Kind: "password_reset", Subject: "Restablecer contraseña",
	})
}

func (c *Client) SendAlert(ctx context.Context, a Alert) error {
	return c.post(ctx, c.cfg.AlertURL, a.Kind, a)
}

type statusError struct {
	status int
	body   string
}

func (e statusError) Error() string {
	return fmt.Sprintf("webhook responded %d: %s", e.status, e.body)
}

func (c *Client) post(ctx context.Context, url, kind string, payload any) error {
	if url == "" {
		c.log.WithField("kind", kind).Debug("webhook url not configured; skipping")
		return nil
	}
	return retry.Do(
		func() error {
			resp, err := c.http.R().
				SetContext(ctx).
				SetHeader("X-Chub-Message", kind).
				SetBody(payload).
				Post(url)
			if err != nil {
				return err
			}
			if resp.IsError() {
				return statusError{status: resp.StatusCode(), body: resp.String()}
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.cfg.Attempts),
		retry.Delay(c.cfg.Delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			c.log.WithFields(log.Fields{"kind": kind, "attempt": n + 1}).WithError(err).Warn("webhook post failed; retrying")
		}),
	)
}

// retryable keeps retrying transport failures and 5xx/429 responses only.
func retryable(err error) bool {
	se, ok := err.(statusError)
	if !ok {
		return true
	}
	return se.status >= http.StatusInternalServerError || se.status == http.StatusTooManyRequests
}
