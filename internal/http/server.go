package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hookbot/hookbot/internal/core"
	"github.com/hookbot/hookbot/internal/db"
	"github.com/hookbot/hookbot/internal/event"
	"github.com/hookbot/hookbot/internal/telemetry"
)

// GitHub caps webhook payloads at 25 MiB.
const maxWebhookBodyBytes = 25 << 20

type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
}

// Dispatcher handles an accepted delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, del core.Delivery, p *event.Payload) core.Outcome
}

// AuditStore backs the audit listing endpoint and the database health
// check. *db.DB satisfies it.
type AuditStore interface {
	ListDeliveries(ctx context.Context, limit int) ([]*db.Delivery, error)
	Ping(ctx context.Context) error
}

type Config struct {
	Addr            string
	WebhookSecret   []byte
	DispatchTimeout time.Duration
	Build           BuildInfo
}

type Server struct {
	cfg        Config
	dispatcher Dispatcher
	store      AuditStore
	srv        *http.Server
	logger     *slog.Logger

	// Deliveries run detached from the request; baseCtx outlives it and is
	// cancelled only when Shutdown gives up waiting.
	baseCtx  context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	// closing is set once Shutdown starts draining; no inflight.Add after.
	mu      sync.Mutex
	closing bool
}

// NewServer wires the routes. store may be nil when no database is
// configured.
func NewServer(cfg Config, dispatcher Dispatcher, store AuditStore, logger *slog.Logger) *Server {
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = time.Minute
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		store:      store,
		logger:     logger,
		baseCtx:    baseCtx,
		cancel:     cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.Handle("GET /metrics", telemetry.Handler())
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /api/v1/deliveries", s.handleListDeliveries)

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      withLogging(logger, mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("http server starting", "addr", s.srv.Addr)
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.srv.Serve(ln)
}

// Shutdown stops accepting requests and waits for in-flight deliveries.
// If ctx expires first, the deliveries are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
		<-done
		return errors.Join(err, fmt.Errorf("in-flight deliveries: %w", ctx.Err()))
	}
	s.cancel()
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("database ping failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Build)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	eventType := r.Header.Get("X-GitHub-Event")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErr(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeErr(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	if err := VerifySignature(s.cfg.WebhookSecret, body, r.Header.Get("X-Hub-Signature-256")); err != nil {
		// The event header is unauthenticated here; keep the label fixed.
		s.logger.Warn("webhook rejected", "reason", "signature", "err", err)
		telemetry.IncDelivery("unverified", "rejected")
		writeErr(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	if eventType == "" {
		writeErr(w, http.StatusBadRequest, "missing X-GitHub-Event header")
		return
	}
	if eventType == "ping" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	}

	p, err := core.ParseDelivery(body)
	if err != nil {
		info := core.MapError(err)
		telemetry.IncDelivery(eventType, "rejected")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": info.Message, "code": info.Code})
		return
	}

	del := core.Delivery{
		ID:         r.Header.Get("X-GitHub-Delivery"),
		Event:      eventType,
		Body:       body,
		ReceivedAt: time.Now(),
	}

	if !s.track() {
		writeErr(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.DispatchTimeout)
		defer cancel()
		s.dispatcher.Dispatch(ctx, del, p)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// track registers an in-flight delivery unless Shutdown has begun.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeErr(w, http.StatusServiceUnavailable, "audit database not configured")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeErr(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	list, err := s.store.ListDeliveries(r.Context(), limit)
	if err != nil {
		s.logger.Error("list deliveries failed", "err", err)
		writeErr(w, http.StatusInternalServerError, "list deliveries failed")
		return
	}
	if list == nil {
		list = []*db.Delivery{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": list})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"delivery_id", r.Header.Get("X-GitHub-Delivery"),
			"duration", fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
