package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/roach88/searchsync/internal/syncer"
)

// SubscriberConfig configures the websocket stream client.
type SubscriberConfig struct {
	URL        string
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// SubscriberStats counts stream traffic.
type SubscriberStats struct {
	Connects int64 `json:"connects"`
	Received int64 `json:"received"`
	Rejected int64 `json:"rejected"`
}

// Subscriber reads events from a websocket stream and submits them.
// Dropped connections are re-dialed with capped exponential backoff until
// the context ends.
type Subscriber struct {
	cfg       SubscriberConfig
	validator *Validator
	sink      Submitter
	logger    *slog.Logger

	connects atomic.Int64
	received atomic.Int64
	rejected atomic.Int64
}

// NewSubscriber creates a stream subscriber.
func NewSubscriber(cfg SubscriberConfig, v *Validator, sink Submitter, logger *slog.Logger) *Subscriber {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = max(30*time.Second, cfg.MinBackoff)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{cfg: cfg, validator: v, sink: sink, logger: logger.With("stream", cfg.URL)}
}

// Run consumes the stream until ctx is cancelled or the sink stops
// accepting events. It returns ctx.Err() on cancellation.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := s.cfg.MinBackoff
	for {
		delivered, err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, syncer.ErrDispatcherClosed) {
			return err
		}
		if delivered > 0 {
			backoff = s.cfg.MinBackoff
		}
		s.logger.Warn("event stream disconnected", "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.cfg.MaxBackoff)
	}
}

// session holds one connection and returns how many events it delivered.
func (s *Subscriber) session(ctx context.Context) (int, error) {
	conn, _, err := websocket.Dial(ctx, s.cfg.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()
	s.connects.Add(1)
	s.logger.Info("event stream connected")

	delivered := 0
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			if ctx.Err() != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "")
			}
			return delivered, err
		}
		s.received.Add(1)

		events, err := s.validator.Decode(raw)
		if err != nil {
			s.rejected.Add(1)
			s.logger.Warn("rejected stream event", "error", err)
			continue
		}
		for _, ev := range events {
			if err := s.sink.Submit(ev); err != nil {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return delivered, err
			}
			delivered++
		}
	}
}

// Stats returns stream counters.
func (s *Subscriber) Stats() SubscriberStats {
	return SubscriberStats{
		Connects: s.connects.Load(),
		Received: s.received.Load(),
		Rejected: s.rejected.Load(),
	}
}
