package report

import (
	"time"

	sentry "github.com/getsentry/sentry-go"

	"github.com/foundermark/friended-backend/pkg/config"
)

// Client forwards diagnostic reports to Sentry. A client built without a
// DSN is inert; every method is safe on it, so callers never branch on
// whether reporting is configured.
type Client struct {
	hub *sentry.Hub
}

// New builds a reporting client. An empty DSN yields a no-op client.
func New(cfg config.ReportConfig, environment string) (*Client, error) {
	if cfg.SentryDSN == "" {
		return &Client{}, nil
	}
	sentryClient, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: environment,
	})
	if err != nil {
		return nil, err
	}
	return &Client{hub: sentry.NewHub(sentryClient, sentry.NewScope())}, nil
}

// CaptureMessage reports a tagged diagnostic message.
func (c *Client) CaptureMessage(message string, tags map[string]string) {
	if c == nil || c.hub == nil {
		return
	}
	c.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		c.hub.CaptureMessage(message)
	})
}

// Flush drains buffered reports, typically on shutdown.
func (c *Client) Flush(timeout time.Duration) {
	if c == nil || c.hub == nil {
		return
	}
	c.hub.Flush(timeout)
}
