package router

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/zlovtnik/clm-ingest/pkg/metrics"
	"github.com/zlovtnik/clm-ingest/pkg/models"
)

// pendingMessage pairs a buffered message with its ledger fingerprint so the
// flush path can resolve each claim.
type pendingMessage struct {
	msg         models.IntegrationMessage
	fingerprint string
}

// flushFunc delivers an aggregated batch. partial is true when the window
// timed out before the completeness predicate was met.
type flushFunc func(ctx context.Context, eventType models.EventType, batch []pendingMessage, partial bool)

// Aggregator buffers messages by correlation id until a completeness
// predicate is met or the window elapses. Completeness is driven by the
// `expected_parts` payload hint; without it only the timeout flushes.
type Aggregator struct {
	mu      sync.Mutex
	window  time.Duration
	buffers map[string]*correlationBuffer
	flush   flushFunc
	logger  ectologger.Logger
}

type correlationBuffer struct {
	eventType models.EventType
	pending   []pendingMessage
	expected  int
	timer     *time.Timer
}

// NewAggregator creates a new aggregator. flush is invoked on its own
// goroutine once per completed or timed-out correlation.
func NewAggregator(window time.Duration, flush flushFunc, logger ectologger.Logger) *Aggregator {
	return &Aggregator{
		window:  window,
		buffers: map[string]*correlationBuffer{},
		flush:   flush,
		logger:  logger,
	}
}

// Add buffers one message under its correlation id. Returns true when the
// addition completed the correlation and triggered an immediate flush.
func (a *Aggregator) Add(ctx context.Context, msg models.IntegrationMessage, fingerprint string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := msg.CorrelationID
	buf, ok := a.buffers[key]
	if !ok {
		buf = &correlationBuffer{eventType: msg.EventType}
		buf.timer = time.AfterFunc(a.window, func() {
			a.flushExpired(key)
		})
		a.buffers[key] = buf
	}

	buf.pending = append(buf.pending, pendingMessage{msg: msg, fingerprint: fingerprint})
	if expected := expectedParts(msg); expected > buf.expected {
		buf.expected = expected
	}

	if buf.expected > 0 && len(buf.pending) >= buf.expected {
		delete(a.buffers, key)
		buf.timer.Stop()
		metrics.AggregationsFlushed.WithLabelValues("complete").Inc()
		go a.flush(context.WithoutCancel(ctx), buf.eventType, buf.pending, false)
		return true
	}
	return false
}

// flushExpired delivers whatever accumulated when the window elapses.
func (a *Aggregator) flushExpired(key string) {
	a.mu.Lock()
	buf, ok := a.buffers[key]
	if ok {
		delete(a.buffers, key)
	}
	a.mu.Unlock()
	if !ok || len(buf.pending) == 0 {
		return
	}

	a.logger.WithContext(context.Background()).WithFields(map[string]any{"correlation_id": key, "received": len(buf.pending), "expected": buf.expected}).Warn("Aggregation window expired, delivering partial aggregate")
	metrics.AggregationsFlushed.WithLabelValues("timeout").Inc()
	a.flush(context.Background(), buf.eventType, buf.pending, true)
}

// Pending reports the number of open correlations, used by tests and health.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers)
}

// expectedParts reads the completeness hint from the payload. Zero means the
// sender gave no hint.
func expectedParts(msg models.IntegrationMessage) int {
	payload, err := msg.PayloadMap()
	if err != nil {
		return 0
	}
	if v, ok := payload["expected_parts"].(float64); ok && v > 0 {
		return int(v)
	}
	return 0
}
