package localui

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/soulink-ai/soulink/internal/observe"
)

// shutdownGrace bounds how long Serve waits for in-flight requests when the
// context is cancelled.
const shutdownGrace = 5 * time.Second

// readyTimeout bounds the remote link probe on /readyz.
const readyTimeout = 5 * time.Second

// Server exposes the snapshot feed over HTTP and WebSocket.
type Server struct {
	feed    *Feed
	metrics *observe.Metrics
	ready   func(ctx context.Context) error
}

// NewServer returns a Server over the given feed. metrics may be nil, in
// which case request instrumentation is skipped.
func NewServer(feed *Feed, metrics *observe.Metrics) *Server {
	return &Server{feed: feed, metrics: metrics}
}

// WithReadyCheck installs a probe for /readyz, typically a roundtrip to the
// remote character service. Without one /readyz always reports ok.
func (s *Server) WithReadyCheck(check func(ctx context.Context) error) *Server {
	s.ready = check
	return s
}

// Handler builds the route table:
//
//	/ws        WebSocket snapshot stream
//	/snapshot  latest snapshot as JSON
//	/metrics   Prometheus scrape endpoint
//	/healthz   liveness probe
//	/readyz    readiness probe (remote link reachable)
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	instrument := func(h http.Handler) http.Handler { return h }
	if s.metrics != nil {
		instrument = observe.Middleware(s.metrics)
	}

	// The WebSocket route stays uninstrumented: the middleware's response
	// wrapper hides http.Hijacker from the upgrade handshake.
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/snapshot", instrument(http.HandlerFunc(s.handleSnapshot)))
	mux.Handle("/metrics", instrument(promhttp.Handler()))
	mux.Handle("GET /healthz", instrument(http.HandlerFunc(s.handleHealthz)))
	mux.Handle("GET /readyz", instrument(http.HandlerFunc(s.handleReadyz)))
	return mux
}

// Serve runs the server on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("local surface listening", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	last := s.feed.Last()
	if last == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(last)
}

type healthResult struct {
	Status string `json:"status"`
	Link   string `json:"link,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResult{Status: "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready == nil {
		writeJSON(w, http.StatusOK, healthResult{Status: "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := s.ready(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResult{Status: "fail", Link: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResult{Status: "ok", Link: "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The surface is bound to loopback; cross-origin pages on the same
		// machine are allowed to attach.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	sub, cancel := s.feed.Subscribe()
	defer cancel()

	// Late joiners get the current state immediately.
	if last := s.feed.Last(); last != nil {
		if err := conn.Write(ctx, websocket.MessageText, last); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}
