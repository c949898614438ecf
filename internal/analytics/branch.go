package analytics

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/foundermark/friended-backend/pkg/config"
	"github.com/foundermark/friended-backend/pkg/enums"
)

// BranchSink forwards purchase lifecycle events to Branch.
type BranchSink struct {
	httpClient *http.Client
	cfg        config.AnalyticsConfig
}

func NewBranchSink(cfg config.AnalyticsConfig) *BranchSink {
	return &BranchSink{httpClient: newSinkHTTPClient(), cfg: cfg}
}

func (s *BranchSink) Name() string { return "branch" }

func (s *BranchSink) Deliver(ctx context.Context, event Event) error {
	eventData := map[string]any{
		"transaction_id": event.TransactionID,
	}
	if event.Price != nil {
		eventData["revenue"] = event.Price.InexactFloat64()
		currency := event.Currency
		if currency == "" {
			currency = "USD"
		}
		eventData["currency"] = currency
	}
	body, err := json.Marshal(map[string]any{
		"name":       branchEventName(event.Type),
		"branch_key": s.cfg.BranchKey,
		"user_data": map[string]any{
			"developer_identity": event.UserID.String(),
		},
		"event_data": eventData,
	})
	if err != nil {
		return err
	}
	return doJSON(ctx, s.httpClient, http.MethodPost, s.cfg.BranchURL, body, nil)
}

func branchEventName(eventType enums.AnalyticsEventType) string {
	switch eventType {
	case enums.AnalyticsEventRenewal:
		return "PURCHASE"
	case enums.AnalyticsEventSubscriptionCancelled:
		return "UNSUBSCRIBE"
	}
	return string(eventType)
}
