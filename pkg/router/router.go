// Package router is the content-based dispatcher for inbound integration
// messages. Every message is fingerprinted against the idempotency ledger
// before dispatch; upstream delivery is at-least-once and duplicates are the
// normal case, not an error.
package router

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/zlovtnik/clm-ingest/pkg/fingerprint"
	"github.com/zlovtnik/clm-ingest/pkg/metrics"
	"github.com/zlovtnik/clm-ingest/pkg/models"
	"github.com/zlovtnik/clm-ingest/pkg/outcome"
	"github.com/zlovtnik/clm-ingest/pkg/tracing"
)

// Routing results reported to callers.
const (
	ResultProcessed  = "PROCESSED"
	ResultDuplicate  = "DUPLICATE"
	ResultConflict   = "IN_PROGRESS"
	ResultBuffered   = "BUFFERED"
	ResultUnroutable = "UNROUTABLE"
)

// Outcome is the caller-visible result of routing one message.
type Outcome struct {
	Result      string           `json:"result"`
	Fingerprint string           `json:"fingerprint"`
	Failure     *outcome.Failure `json:"failure,omitempty"`
}

// Ledger is the idempotency surface the router depends on.
type Ledger interface {
	CheckAndMark(ctx context.Context, fingerprint string) (models.CheckResult, error)
	MarkOutcome(ctx context.Context, fingerprint string, outcome models.LedgerOutcome) error
}

// Handler processes one delivered batch. Non-aggregating event types always
// receive a single-message batch. partial marks a timed-out aggregate
// delivered as-is.
type Handler func(ctx context.Context, msgs []models.IntegrationMessage, partial bool) error

// Router dispatches by event type over a closed handler set.
type Router struct {
	ledger     Ledger
	handlers   map[models.EventType]Handler
	aggregated map[models.EventType]bool
	aggregator *Aggregator
	logger     ectologger.Logger
}

// NewRouter creates a router with the given handler set. Event types listed in
// aggregated buffer by correlation id within the window before delivery.
func NewRouter(ledger Ledger, handlers map[models.EventType]Handler, aggregated []models.EventType, window time.Duration, logger ectologger.Logger) *Router {
	r := &Router{
		ledger:     ledger,
		handlers:   handlers,
		aggregated: map[models.EventType]bool{},
		logger:     logger,
	}
	for _, t := range aggregated {
		r.aggregated[t] = true
	}
	r.aggregator = NewAggregator(window, r.deliver, logger)
	return r
}

// Route processes one inbound message end to end: fingerprint, ledger check,
// dispatch or buffer, ledger resolution. Handler failures surface as errors
// after the ledger entry is marked FAILED.
func (r *Router) Route(ctx context.Context, msg models.IntegrationMessage) (Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "router.Router.Route")
	defer span.End()

	// An unrecognized event type is a configuration error, not a message to
	// claim: the ledger stays untouched so a corrected deployment can retry.
	handler, ok := r.handlers[msg.EventType]
	if !msg.EventType.Valid() || !ok {
		r.logger.WithContext(ctx).WithFields(map[string]any{"event_type": msg.EventType, "tenant_id": msg.TenantID}).Error("Unroutable integration message")
		metrics.RouterDispatches.WithLabelValues(string(msg.EventType), ResultUnroutable).Inc()
		return Outcome{
			Result:  ResultUnroutable,
			Failure: outcome.Failf(outcome.CodeUnroutableMessage, "no handler registered for event type %q", msg.EventType),
		}, nil
	}

	fp := fingerprint.ForMessage(&msg)
	check, err := r.ledger.CheckAndMark(ctx, fp)
	if err != nil {
		return Outcome{}, err
	}
	metrics.LedgerChecks.WithLabelValues(string(check)).Inc()

	switch check {
	case models.CheckAlreadyProcessed:
		metrics.RouterDispatches.WithLabelValues(string(msg.EventType), ResultDuplicate).Inc()
		return Outcome{Result: ResultDuplicate, Fingerprint: fp}, nil
	case models.CheckInProgressConflict:
		metrics.RouterDispatches.WithLabelValues(string(msg.EventType), ResultConflict).Inc()
		return Outcome{Result: ResultConflict, Fingerprint: fp}, nil
	}

	if r.aggregated[msg.EventType] && msg.CorrelationID != "" {
		r.aggregator.Add(ctx, msg, fp)
		metrics.RouterDispatches.WithLabelValues(string(msg.EventType), ResultBuffered).Inc()
		return Outcome{Result: ResultBuffered, Fingerprint: fp}, nil
	}

	if err := handler(ctx, []models.IntegrationMessage{msg}, false); err != nil {
		if markErr := r.ledger.MarkOutcome(ctx, fp, models.LedgerOutcomeFailed); markErr != nil {
			r.logger.WithContext(ctx).WithError(markErr).WithFields(map[string]any{"fingerprint": fp}).Error("Failed to mark ledger entry FAILED")
		}
		metrics.RouterDispatches.WithLabelValues(string(msg.EventType), "FAILED").Inc()
		return Outcome{Fingerprint: fp}, err
	}

	if err := r.ledger.MarkOutcome(ctx, fp, models.LedgerOutcomeProcessed); err != nil {
		return Outcome{Fingerprint: fp}, err
	}
	metrics.RouterDispatches.WithLabelValues(string(msg.EventType), ResultProcessed).Inc()
	return Outcome{Result: ResultProcessed, Fingerprint: fp}, nil
}

// deliver hands an aggregated batch to its handler and resolves every
// buffered fingerprint. Partial aggregates are delivered as-is; the handler
// sees the marker and the outcome records it.
func (r *Router) deliver(ctx context.Context, eventType models.EventType, batch []pendingMessage, partial bool) {
	handler, ok := r.handlers[eventType]
	if !ok {
		// Handlers are fixed at construction; a buffered type without one
		// cannot happen unless the registry was mutated.
		r.logger.WithContext(ctx).WithFields(map[string]any{"event_type": eventType}).Error("No handler for aggregated batch")
		return
	}

	msgs := make([]models.IntegrationMessage, 0, len(batch))
	for _, p := range batch {
		msgs = append(msgs, p.msg)
	}

	handlerErr := handler(ctx, msgs, partial)
	result := models.LedgerOutcomeProcessed
	if handlerErr != nil {
		result = models.LedgerOutcomeFailed
		r.logger.WithContext(ctx).WithError(handlerErr).WithFields(map[string]any{"event_type": eventType, "batch": len(batch), "partial": partial}).Error("Aggregated handler failed")
	}

	for _, p := range batch {
		if err := r.ledger.MarkOutcome(ctx, p.fingerprint, result); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"fingerprint": p.fingerprint}).Error("Failed to resolve buffered ledger entry")
		}
	}
	metrics.RouterDispatches.WithLabelValues(string(eventType), string(result)).Inc()
}

// Pending exposes the number of open correlations for health reporting.
func (r *Router) Pending() int {
	return r.aggregator.Pending()
}
