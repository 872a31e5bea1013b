// Package inspect serves a read-only diagnostics view of a running dispatch
// loop.
//
// Endpoints:
//
//	GET /healthz       liveness probe
//	GET /metrics       Prometheus text from the metrics registry
//	GET /invocations   JSON list of pending invocations
//	GET /events        websocket stream of dispatched events
//
// Server → client event frame:
//
//	{"type":"event","seq":1,"app":"<uuid>","kind":"TimerFired","priority":"High","detail":"TimerFired{timer=1v1}"}
//
// Each websocket client gets its own token bucket. Frames over the limit are
// dropped for that client and counted, never queued; the dispatch goroutine
// does not wait on slow readers.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/horizonanalytic/lattice-sub007/internal/dispatch"
	"github.com/horizonanalytic/lattice-sub007/internal/event"
	"github.com/horizonanalytic/lattice-sub007/internal/invocation"
	"github.com/horizonanalytic/lattice-sub007/internal/metrics"
)

// subscriberBuffer is the number of frames buffered per websocket client.
const subscriberBuffer = 64

// Config configures a Server.
type Config struct {
	Addr       string
	RatePerSec float64
	Burst      int
}

// Server is the inspector HTTP server. It implements dispatch.Observer so
// it can be registered with dispatch.WithObserver.
type Server struct {
	dispatch.BaseObserver

	cfg     Config
	appID   string
	reg     *invocation.Registry
	metrics *metrics.Registry
	inner   *http.Server

	seq     atomic.Uint64
	dropped atomic.Int64

	mu   sync.Mutex
	subs map[*subscriber]struct{}
	done chan struct{}
	once sync.Once
}

var _ dispatch.Observer = (*Server)(nil)

type subscriber struct {
	frames  chan []byte
	limiter *rate.Limiter
}

// eventFrame is the JSON structure streamed to websocket clients.
type eventFrame struct {
	Type     string `json:"type"`
	Seq      uint64 `json:"seq"`
	App      string `json:"app,omitempty"`
	Kind     string `json:"kind"`
	Priority string `json:"priority"`
	Detail   string `json:"detail"`
}

var upgrader = gorillaws.Upgrader{
	// Same-origin browsers and non-browser clients only.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		return u.Host == r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// New builds a Server. m may be nil, in which case /metrics is not mounted.
func New(cfg Config, appID string, reg *invocation.Registry, m *metrics.Registry) *Server {
	s := &Server{
		cfg:     cfg,
		appID:   appID,
		reg:     reg,
		metrics: m,
		subs:    make(map[*subscriber]struct{}),
		done:    make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.health)
	mux.HandleFunc("GET /invocations", s.invocations)
	mux.HandleFunc("GET /events", s.events)
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	s.inner = &http.Server{
		Addr:        cfg.Addr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	return s
}

// Handler returns the composed http.Handler (useful for testing).
func (s *Server) Handler() http.Handler { return s.inner.Handler }

// Serve listens on the configured address until ctx is cancelled, then shuts
// the server down and closes every event stream.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("inspector listening", "addr", s.cfg.Addr)
		errCh <- s.inner.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("inspector: %w", err)
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.inner.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("inspector shutdown: %w", err)
	}
	return nil
}

// Close ends every event stream. Safe to call more than once.
func (s *Server) Close() {
	s.once.Do(func() { close(s.done) })
}

// Subscribers returns the number of connected event streams.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Dropped returns the number of frames dropped by rate limiting or full
// client buffers.
func (s *Server) Dropped() int64 {
	return s.dropped.Load()
}

// EventDispatched broadcasts ev to every event stream. It never blocks.
func (s *Server) EventDispatched(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) == 0 {
		return
	}

	data, err := json.Marshal(eventFrame{
		Type:     "event",
		Seq:      s.seq.Add(1),
		App:      s.appID,
		Kind:     ev.Kind.String(),
		Priority: ev.Priority().String(),
		Detail:   ev.String(),
	})
	if err != nil {
		slog.Error("encode event frame", "error", err)
		return
	}

	for sub := range s.subs {
		if !sub.limiter.Allow() {
			s.dropped.Add(1)
			continue
		}
		select {
		case sub.frames <- data:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "app": s.appID})
}

func (s *Server) invocations(w http.ResponseWriter, _ *http.Request) {
	pending := s.reg.Snapshot()
	if pending == nil {
		pending = []invocation.Pending{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":       len(pending),
		"invocations": pending,
	})
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := &subscriber{
		frames:  make(chan []byte, subscriberBuffer),
		limiter: rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), s.cfg.Burst),
	}
	s.add(sub)
	defer s.remove(sub)

	// Client frames are ignored; the read loop only detects disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			_ = conn.WriteControl(gorillaws.CloseMessage,
				gorillaws.FormatCloseMessage(gorillaws.CloseGoingAway, "inspector closing"),
				time.Now().Add(time.Second))
			return
		case <-gone:
			return
		case data := <-sub.frames:
			if err := conn.WriteMessage(gorillaws.TextMessage, data); err != nil {
				slog.Debug("event stream write failed", "error", err)
				return
			}
		}
	}
}

func (s *Server) add(sub *subscriber) {
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) remove(sub *subscriber) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write json response", "error", err)
	}
}
