package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/foundermark/friended-backend/pkg/config"
)

// LocalyticsSink updates Localytics customer profiles on renewals.
type LocalyticsSink struct {
	httpClient *http.Client
	cfg        config.AnalyticsConfig
}

func NewLocalyticsSink(cfg config.AnalyticsConfig) *LocalyticsSink {
	return &LocalyticsSink{httpClient: newSinkHTTPClient(), cfg: cfg}
}

func (s *LocalyticsSink) Name() string { return "localytics" }

func (s *LocalyticsSink) Deliver(ctx context.Context, event Event) error {
	attributes := map[string]any{
		"subscription_event": string(event.Type),
		"product_id":         event.ProductID,
	}
	if event.ExpiresAt != nil {
		attributes["subscription_expires_at"] = event.ExpiresAt.Unix()
	}
	body, err := json.Marshal(map[string]any{"attributes": attributes})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/apps/%s/profiles/%s", s.cfg.LocalyticsURL, s.cfg.LocalyticsAppID, event.UserID)
	return doJSON(ctx, s.httpClient, http.MethodPatch, endpoint, body, func(req *http.Request) {
		req.SetBasicAuth(s.cfg.LocalyticsAppID, s.cfg.LocalyticsAPIKey)
	})
}
