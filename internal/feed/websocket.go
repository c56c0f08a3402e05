package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebSocketOptions configure a streaming venue connection.
type WebSocketOptions struct {
	Name  string
	Venue string
	URL   string
	// Subscribe messages are written verbatim after every (re)connect.
	Subscribe []string
	Headers   http.Header
	// ReadTimeout is the longest silence tolerated before reconnecting.
	ReadTimeout    time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffFactor  float64
}

// WebSocket streams canonical JSON ticker events and reconnects with
// exponential backoff.
type WebSocket struct {
	opts   WebSocketOptions
	logger zerolog.Logger

	reconnects atomic.Uint64
}

// NewWebSocket constructs a streaming source.
func NewWebSocket(opts WebSocketOptions, logger zerolog.Logger) *WebSocket {
	if opts.Name == "" {
		opts.Name = opts.Venue
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = 250 * time.Millisecond
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if opts.BackoffFactor < 1 {
		opts.BackoffFactor = 2
	}
	return &WebSocket{
		opts:   opts,
		logger: logger.With().Str("component", "ws_source").Str("venue", opts.Venue).Logger(),
	}
}

// Name identifies the source.
func (w *WebSocket) Name() string {
	return w.opts.Name
}

// Reconnects returns how many times the connection was re-established.
func (w *WebSocket) Reconnects() uint64 {
	return w.reconnects.Load()
}

// Run keeps a connection open until ctx is cancelled.
func (w *WebSocket) Run(ctx context.Context, out chan<- Event) error {
	if w.opts.URL == "" {
		return fmt.Errorf("websocket source %s: url not configured", w.opts.Name)
	}

	delay := w.opts.BackoffInitial
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.reconnects.Add(1)
		}
		received, err := w.session(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received > 0 {
			delay = w.opts.BackoffInitial
		}
		w.logger.Warn().Err(err).Int("received", received).Dur("backoff", delay).Msg("websocket disconnected")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * w.opts.BackoffFactor)
		if delay > w.opts.BackoffMax {
			delay = w.opts.BackoffMax
		}
	}
}

func (w *WebSocket) session(ctx context.Context, out chan<- Event) (int, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.opts.URL, w.opts.Headers)
	if err != nil {
		return 0, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for _, msg := range w.opts.Subscribe {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return 0, fmt.Errorf("subscribe: %w", err)
		}
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(w.opts.ReadTimeout))
	})
	w.logger.Info().Str("url", w.opts.URL).Msg("websocket connected")

	received := 0
	for {
		if err := conn.SetReadDeadline(time.Now().Add(w.opts.ReadTimeout)); err != nil {
			return received, err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return received, errors.New("closed by peer")
			}
			return received, err
		}

		events, err := DecodeEvents(data)
		if err != nil {
			w.logger.Debug().Err(err).Msg("ignoring non-ticker message")
			continue
		}
		for _, ev := range events {
			if ev.Symbol == "" {
				continue
			}
			if ev.Venue == "" {
				ev.Venue = w.opts.Venue
			}
			select {
			case out <- ev:
				received++
			case <-ctx.Done():
				return received, ctx.Err()
			}
		}
	}
}

var _ Source = (*WebSocket)(nil)
