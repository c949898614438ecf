package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/foundermark/friended-backend/pkg/config"
)

// CustomerIOSink tracks events against Customer.io profiles.
type CustomerIOSink struct {
	httpClient *http.Client
	cfg        config.AnalyticsConfig
}

func NewCustomerIOSink(cfg config.AnalyticsConfig) *CustomerIOSink {
	return &CustomerIOSink{httpClient: newSinkHTTPClient(), cfg: cfg}
}

func (s *CustomerIOSink) Name() string { return "customerio" }

func (s *CustomerIOSink) Deliver(ctx context.Context, event Event) error {
	data := map[string]any{
		"product_id":     event.ProductID,
		"transaction_id": event.TransactionID,
		"trial":          event.Trial,
	}
	if event.Price != nil {
		data["price"] = event.Price.StringFixed(2)
	}
	if event.ExpiresAt != nil {
		data["expires_at"] = event.ExpiresAt.Unix()
	}
	for key, value := range event.Properties {
		data[key] = value
	}
	body, err := json.Marshal(map[string]any{
		"name":      string(event.Type),
		"timestamp": event.OccurredAt.Unix(),
		"data":      data,
	})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/customers/%s/events", s.cfg.CustomerIOURL, event.UserID)
	return doJSON(ctx, s.httpClient, http.MethodPost, endpoint, body, func(req *http.Request) {
		req.SetBasicAuth(s.cfg.CustomerIOSiteID, s.cfg.CustomerIOAPIKey)
	})
}
