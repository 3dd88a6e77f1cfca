package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/benchsync/internal/remote"
)

var (
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "benchsync_relay_batches_total",
		Help: "Batches received by the relay by outcome",
	}, []string{"outcome"})

	watchersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "benchsync_relay_watchers",
		Help: "Connected /v1/watch clients",
	})
)

// PathMetrics serves the Prometheus registry.
const PathMetrics = "/metrics"

// maxBatchBytes bounds the request body of POST /v1/batch.
const maxBatchBytes = 32 << 20

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server serves the relay HTTP API over a Log.
type Server struct {
	log      *Log
	logger   *slog.Logger
	pageSize int

	mu       sync.Mutex
	watchers map[*websocket.Conn]chan remote.WatchNotice
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger. Default: slog.Default().
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithPageSize sets the maximum entries per feed page.
func WithPageSize(n int) ServerOption {
	return func(s *Server) { s.pageSize = n }
}

// NewServer creates a server for log.
func NewServer(log *Log, opts ...ServerOption) *Server {
	s := &Server{
		log:      log,
		logger:   slog.Default(),
		pageSize: DefaultPageSize,
		watchers: make(map[*websocket.Conn]chan remote.WatchNotice),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the gin router for the relay API.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET(remote.PathHealth, s.handleHealth)
	router.POST(remote.PathBatch, s.handleBatch)
	router.GET(remote.PathChanges, s.handleChanges)
	router.GET(remote.PathWatch, s.handleWatch)
	router.GET(PathMetrics, gin.WrapH(promhttp.Handler()))
	return router
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.closeWatchers()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleBatch(c *gin.Context) {
	dec := json.NewDecoder(http.MaxBytesReader(c.Writer, c.Request.Body, maxBatchBytes))
	dec.UseNumber()

	var req remote.BatchRequest
	if err := dec.Decode(&req); err != nil {
		batchesTotal.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch: " + err.Error()})
		return
	}
	if req.Origin == "" {
		batchesTotal.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "origin is required"})
		return
	}
	for i, e := range req.Entries {
		if err := e.Validate(); err != nil {
			batchesTotal.WithLabelValues("invalid").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "entry " + strconv.Itoa(i) + ": " + err.Error()})
			return
		}
		if e.Origin != "" && e.Origin != req.Origin {
			batchesTotal.WithLabelValues("invalid").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "entry " + strconv.Itoa(i) + ": origin mismatch"})
			return
		}
	}

	head, err := s.log.Append(c.Request.Context(), req.Origin, req.Entries)
	if err != nil {
		batchesTotal.WithLabelValues("failed").Inc()
		s.logger.Error("append batch", "origin", req.Origin, "entries", len(req.Entries), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "append failed"})
		return
	}

	batchesTotal.WithLabelValues("accepted").Inc()
	s.logger.Debug("batch accepted", "origin", req.Origin, "entries", len(req.Entries), "head", head)
	s.notify(remote.WatchNotice{Checkpoint: head})
	c.Status(http.StatusNoContent)
}

func (s *Server) handleChanges(c *gin.Context) {
	var since int64
	if v := c.Query("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a non-negative integer"})
			return
		}
		since = n
	}

	cs, err := s.log.Since(c.Request.Context(), since, c.Query("replica"), s.pageSize)
	if err != nil {
		s.logger.Error("read changes", "since", since, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read failed"})
		return
	}
	c.JSON(http.StatusOK, cs)
}

func (s *Server) handleWatch(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade the websocket", "error", err)
		return
	}
	notices := make(chan remote.WatchNotice, 16)
	s.addWatcher(ws, notices)
	defer s.removeWatcher(ws)

	// The client never sends; reading detects the disconnect.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case n, ok := <-notices:
			if !ok {
				return
			}
			if err := ws.WriteJSON(n); err != nil {
				s.logger.Debug("watch write failed", "error", err)
				return
			}
		}
	}
}

func (s *Server) addWatcher(ws *websocket.Conn, ch chan remote.WatchNotice) {
	s.mu.Lock()
	s.watchers[ws] = ch
	s.mu.Unlock()
	watchersGauge.Inc()
}

func (s *Server) removeWatcher(ws *websocket.Conn) {
	s.mu.Lock()
	_, ok := s.watchers[ws]
	delete(s.watchers, ws)
	s.mu.Unlock()
	if ok {
		watchersGauge.Dec()
	}
	ws.Close()
}

// notify queues n for every watcher. Watchers that are behind miss the
// notice; a later one carries a newer checkpoint.
func (s *Server) notify(n remote.WatchNotice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- n:
		default:
		}
	}
}

// Watchers returns the number of connected watch clients.
func (s *Server) Watchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

func (s *Server) closeWatchers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ws, ch := range s.watchers {
		close(ch)
		delete(s.watchers, ws)
		watchersGauge.Dec()
	}
}
