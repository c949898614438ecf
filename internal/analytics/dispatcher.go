package analytics

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/foundermark/friended-backend/pkg/enums"
	"github.com/foundermark/friended-backend/pkg/logger"
)

// Dispatcher fans one analytics event out to the sinks registered for its
// type. Each event type has a fixed destination set; sinks that were not
// wired at startup are skipped with a warning so one missing credential
// does not stall the pipeline.
type Dispatcher struct {
	logg  *logger.Logger
	sinks map[string]Sink
}

// DispatcherParams carries Dispatcher dependencies.
type DispatcherParams struct {
	Logger *logger.Logger
	Sinks  []Sink
}

// NewDispatcher builds the routing layer over the configured sinks.
func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("analytics: logger is required")
	}
	sinks := make(map[string]Sink, len(params.Sinks))
	for _, sink := range params.Sinks {
		if sink == nil {
			continue
		}
		sinks[sink.Name()] = sink
	}
	return &Dispatcher{logg: params.Logger, sinks: sinks}, nil
}

// routes maps event types to the sinks that receive them.
var routes = map[enums.AnalyticsEventType][]string{
	enums.AnalyticsEventNewTrial:              {"adjust", "customerio"},
	enums.AnalyticsEventRenewal:               {"adjust", "customerio", "localytics", "branch"},
	enums.AnalyticsEventSubscriptionCancelled: {"adjust", "customerio", "branch"},
	enums.AnalyticsEventTrackUser:             {"customerio"},
}

// Handle decodes the envelope and delivers the event to every routed sink,
// collecting per-sink failures.
func (d *Dispatcher) Handle(ctx context.Context, envelope Envelope) error {
	event, err := envelope.DecodeEvent()
	if err != nil {
		return err
	}

	names, ok := routes[event.Type]
	if !ok {
		d.logg.Warn(d.logg.WithField(ctx, "event_type", string(event.Type)),
			"no sinks routed for event type")
		return nil
	}

	var errs error
	for _, name := range names {
		sink, ok := d.sinks[name]
		if !ok {
			d.logg.Warn(d.logg.WithField(ctx, "sink", name), "sink not configured; skipping")
			continue
		}
		if err := sink.Deliver(ctx, *event); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("deliver to %s: %w", name, err))
			continue
		}
		d.logg.Info(d.logg.WithFields(ctx, map[string]any{
			"sink":       name,
			"event_type": string(event.Type),
		}), "analytics event delivered")
	}
	return errs
}
