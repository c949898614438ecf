package analytics

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/foundermark/friended-backend/pkg/enums"
)

// Envelope is a decoded analytics message as consumed from Pub/Sub.
type Envelope struct {
	EventID       string
	EventType     enums.AnalyticsEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	OccurredAt    time.Time
	Payload       json.RawMessage
}

// DecodeEvent unpacks the envelope payload into the event structure the
// sinks consume.
func (e Envelope) DecodeEvent() (*Event, error) {
	var event Event
	if err := json.Unmarshal(e.Payload, &event); err != nil {
		return nil, fmt.Errorf("decode analytics event: %w", err)
	}
	if event.Type == "" {
		event.Type = e.EventType
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.OccurredAt
	}
	return &event, nil
}
