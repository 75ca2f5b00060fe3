package ratecache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/solar-finance-core/internal/model"
)

// StreamEventType discriminates the events emitted by ConnectStream.
type StreamEventType string

const (
	// EventMarketSnapshot carries a freshly obtained snapshot
	EventMarketSnapshot StreamEventType = "MARKET_SNAPSHOT"

	// EventConnectionStatus reports a failed poll; failures are events,
	// not errors, so one bad tick never kills the loop
	EventConnectionStatus StreamEventType = "CONNECTION_STATUS"
)

// StreamEvent is one emission of the polling loop.
type StreamEvent struct {
	Type      StreamEventType       `json:"type"`
	Snapshot  *model.MarketSnapshot `json:"snapshot,omitempty"`
	Status    string                `json:"status,omitempty"`
	Error     string                `json:"error,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// StreamConfig configures the polling loop.
type StreamConfig struct {
	// UpdateFrequency is the poll interval
	UpdateFrequency time.Duration
}

// ConnectStream starts a cooperative polling loop that calls
// GetMarketSnapshot on the configured interval and emits one event per
// tick. This is a client-side loop, not a push subscription. The returned
// disposer cancels the loop; results of a tick in flight at disposal time
// are never delivered.
func (c *Cache) ConnectStream(cfg StreamConfig, onEvent func(StreamEvent)) func() {
	interval := cfg.UpdateFrequency
	if interval <= 0 {
		interval = time.Minute
	}

	done := make(chan struct{})
	var once sync.Once

	emit := func(ev StreamEvent) {
		// Re-check after the fetch: a tick racing Unsubscribe must not
		// deliver.
		select {
		case <-done:
		default:
			onEvent(ev)
		}
	}

	poll := func() {
		snap, err := c.GetMarketSnapshot(context.Background())
		if err != nil {
			emit(StreamEvent{
				Type:      EventConnectionStatus,
				Status:    "disconnected",
				Error:     err.Error(),
				Timestamp: c.now(),
			})
			return
		}
		emit(StreamEvent{
			Type:      EventMarketSnapshot,
			Snapshot:  snap,
			Timestamp: c.now(),
		})
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		poll()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				poll()
			}
		}
	}()

	logrus.WithField("interval", interval).Debug("Market snapshot polling started")

	return func() {
		once.Do(func() { close(done) })
	}
}
