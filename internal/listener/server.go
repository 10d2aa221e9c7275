// Package listener is the inbound HTTP boundary. It parses the three
// supported webhook shapes into normalized events, assigns each request a
// short trace id and submits the result to the engine. Classification
// happens here, once, from the route that received the request.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hookpush/internal/engine"
	"hookpush/internal/event"
	"hookpush/internal/stats"
	"hookpush/internal/storage"
	logx "hookpush/pkg/logx"
)

const maxBodyBytes = 1 << 20

type Config struct {
	Port int
	// Route lists; defaults are applied for empty lists.
	MediaRoutes  []string
	GameRoutes   []string
	CommonRoutes []string
	// DestinationKey is stamped on every accepted event.
	DestinationKey string
	// MetricsEnabled exposes GET /metrics.
	MetricsEnabled bool
}

// Submitter is the engine seam.
type Submitter interface {
	Submit(ev event.Normalized) error
	Status() []engine.KeyStatus
}

// AuditReader exposes the recent delivery trail for the status view. Nil
// when the audit store is disabled.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]storage.DeliveryRecord, error)
}

type Server struct {
	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	addr string

	cfg   Config
	sub   Submitter
	stats *stats.Registry
	audit AuditReader
	log   logx.Logger
}

func New(cfg Config, sub Submitter, st *stats.Registry, audit AuditReader, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, sub: sub, stats: st, audit: audit, log: log.With(logx.String("comp", "listener"))}
}

// Start binds and serves in the background. The returned error covers bind
// failures only; serve errors are logged.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("webhook listen on %s: %w", addr, err)
	}

	s.srv = srv
	s.ln = ln
	s.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("webhook server error", logx.String("addr", s.addr), logx.Err(err))
		}
	}()
	s.log.Info("webhook server listening", logx.String("addr", s.addr))
	return nil
}

// Addr returns the bound address, empty until Start succeeds.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	addr := s.addr
	s.srv = nil
	s.ln = nil
	s.addr = ""
	s.mu.Unlock()

	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("webhook shutdown error", logx.String("addr", addr), logx.Err(err))
	}
}

// Handler builds the full router. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	for _, route := range routesOrDefault(s.cfg.MediaRoutes, "/media-webhook") {
		r.HandleFunc(normalizeRoute(route), s.handleWebhook(event.KindMedia)).Methods(http.MethodPost)
	}
	for _, route := range routesOrDefault(s.cfg.GameRoutes, "/game-webhook") {
		r.HandleFunc(normalizeRoute(route), s.handleWebhook(event.KindGame)).Methods(http.MethodPost)
	}
	for _, route := range routesOrDefault(s.cfg.CommonRoutes, "/webhook") {
		r.HandleFunc(normalizeRoute(route), s.handleWebhook(event.KindGeneric)).Methods(http.MethodPost)
	}
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
	return r
}

func (s *Server) handleWebhook(kind event.SourceKind) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		traceID := shortTrace()
		body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
		if err != nil {
			s.log.Warn("read body failed", logx.String("trace_id", traceID), logx.Err(err))
			http.Error(w, "read error", http.StatusBadRequest)
			return
		}

		ev, err := Parse(kind, body, req.Header)
		if err != nil {
			s.log.Warn("rejected payload",
				logx.String("trace_id", traceID),
				logx.String("kind", string(kind)),
				logx.Err(err))
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		ev.TraceID = traceID
		ev.DestinationKey = s.cfg.DestinationKey
		ev.ReceivedAt = time.Now()

		if err := s.sub.Submit(ev); err != nil {
			s.log.Error("submit failed", logx.String("trace_id", traceID), logx.Err(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		s.log.Info("queued",
			logx.String("trace_id", traceID),
			logx.String("kind", string(kind)),
			logx.String("path", req.URL.Path))
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "queued (id: %s)\n", traceID)
	}
}

const statusRecentLimit = 10

type statusResponse struct {
	Stats            stats.Snapshot           `json:"stats"`
	Pending          []engine.KeyStatus       `json:"pending"`
	RecentDeliveries []storage.DeliveryRecord `json:"recent_deliveries,omitempty"`
	Timestamp        time.Time                `json:"timestamp"`
}

func (s *Server) handleStatus(w http.ResponseWriter, req *http.Request) {
	resp := statusResponse{Timestamp: time.Now()}
	if s.stats != nil {
		resp.Stats = s.stats.Snapshot()
	}
	if s.sub != nil {
		resp.Pending = s.sub.Status()
	}
	if s.audit != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		recent, err := s.audit.Recent(ctx, statusRecentLimit)
		cancel()
		if err != nil {
			s.log.Warn("status: recent deliveries unavailable", logx.Err(err))
		} else {
			resp.RecentDeliveries = recent
		}
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(resp)
}

// shortTrace returns the 8-char request trace id.
func shortTrace() string {
	return uuid.NewString()[:8]
}

func routesOrDefault(routes []string, def string) []string {
	out := make([]string, 0, len(routes))
	for _, r := range routes {
		if strings.TrimSpace(r) != "" {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return []string{def}
	}
	return out
}

func normalizeRoute(route string) string {
	route = strings.TrimSpace(route)
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return route
}
