package remote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// WSWatcher turns the relay's /v1/watch websocket into wake-up signals for
// the inbound poller. It reconnects with capped exponential backoff after
// the connection drops.
type WSWatcher struct {
	url        string
	dialer     *websocket.Dialer
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewWSWatcher creates a watcher for a ws:// or wss:// URL.
func NewWSWatcher(url string, logger *slog.Logger) *WSWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSWatcher{
		url:        url,
		dialer:     websocket.DefaultDialer,
		logger:     logger,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// Watch implements Watcher. The first connection is made synchronously so
// a bad URL is reported to the caller; later drops are retried in the
// background until ctx is cancelled.
func (w *WSWatcher) Watch(ctx context.Context) (<-chan struct{}, error) {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", w.url, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		backoff := w.minBackoff
		for {
			w.readLoop(ctx, conn, out)
			if ctx.Err() != nil {
				return
			}
			for {
				w.logger.Debug("watch reconnecting", "url", w.url, "backoff", backoff)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				conn, _, err = w.dialer.DialContext(ctx, w.url, nil)
				if err == nil {
					backoff = w.minBackoff
					// Changes may have landed while disconnected.
					signal(out)
					break
				}
				backoff = min(backoff*2, w.maxBackoff)
			}
		}
	}()
	return out, nil
}

// readLoop forwards notices until the connection fails or ctx ends.
func (w *WSWatcher) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- struct{}) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer conn.Close()

	for {
		var notice WatchNotice
		if err := conn.ReadJSON(&notice); err != nil {
			if ctx.Err() == nil {
				w.logger.Debug("watch connection closed", "url", w.url, "error", err)
			}
			return
		}
		signal(out)
	}
}

// signal performs a non-blocking, coalescing send.
func signal(out chan<- struct{}) {
	select {
	case out <- struct{}{}:
	default:
	}
}
