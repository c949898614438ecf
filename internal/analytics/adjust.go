package analytics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/foundermark/friended-backend/pkg/config"
	"github.com/foundermark/friended-backend/pkg/enums"
)

// AdjustSink reports subscription lifecycle events to Adjust's S2S API.
type AdjustSink struct {
	httpClient *http.Client
	cfg        config.AnalyticsConfig
}

func NewAdjustSink(cfg config.AnalyticsConfig) *AdjustSink {
	return &AdjustSink{httpClient: newSinkHTTPClient(), cfg: cfg}
}

func (s *AdjustSink) Name() string { return "adjust" }

func (s *AdjustSink) Deliver(ctx context.Context, event Event) error {
	token := s.eventToken(event.Type)
	if token == "" {
		return fmt.Errorf("no adjust event token configured for %s", event.Type)
	}

	form := url.Values{}
	form.Set("app_token", s.cfg.AdjustAppToken)
	form.Set("event_token", token)
	form.Set("s2s", "1")
	form.Set("created_at_unix", strconv.FormatInt(event.OccurredAt.Unix(), 10))
	form.Set("callback_params", fmt.Sprintf(`{"user_id":%q}`, event.UserID.String()))
	if event.Price != nil {
		form.Set("revenue", event.Price.StringFixed(2))
		currency := event.Currency
		if currency == "" {
			currency = "USD"
		}
		form.Set("currency", currency)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.AdjustURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("adjust returned %s", resp.Status)
	}
	return nil
}

func (s *AdjustSink) eventToken(eventType enums.AnalyticsEventType) string {
	switch eventType {
	case enums.AnalyticsEventNewTrial:
		return s.cfg.AdjustTokenNewTrial
	case enums.AnalyticsEventRenewal:
		return s.cfg.AdjustTokenRenewal
	case enums.AnalyticsEventSubscriptionCancelled:
		return s.cfg.AdjustTokenCancel
	}
	return ""
}
