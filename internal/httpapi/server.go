package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/interviewer/internal/config"
	"github.com/ent0n29/interviewer/internal/interview"
	"github.com/ent0n29/interviewer/internal/logging"
	"github.com/ent0n29/interviewer/internal/observability"
	"github.com/ent0n29/interviewer/internal/records"
	"github.com/ent0n29/interviewer/internal/render"
	"github.com/ent0n29/interviewer/internal/session"
)

// Orchestrator is the interview pipeline as seen by the transport layer.
type Orchestrator interface {
	Start(ctx context.Context, req interview.StartRequest) (interview.StartResult, error)
	Turn(ctx context.Context, sessionID, candidateText string, sink interview.Sink) (interview.TurnResult, error)
	Interact(ctx context.Context, sessionID, candidateText string) (interview.TurnResult, error)
	End(ctx context.Context, sessionID string) (interview.EndResult, error)
	Get(ctx context.Context, sessionID string) (session.Session, error)
	List(ctx context.Context, ownerID string, limit int) ([]session.Summary, error)
}

// ownerHeader carries the caller identity established by the upstream auth proxy.
const ownerHeader = "X-User-ID"

type Server struct {
	cfg          config.Config
	orchestrator Orchestrator
	records      records.Store
	renderer     render.Renderer
	metrics      *observability.Metrics
	logger       *log.Logger
	upgrader     websocket.Upgrader
}

// New builds the API server. renderer may be nil to skip report artifacts.
func New(cfg config.Config, orchestrator Orchestrator, recs records.Store, renderer render.Renderer, metrics *observability.Metrics, logger *log.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		records:      recs,
		renderer:     renderer,
		metrics:      metrics,
		logger:       logger.With("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Route("/v1/interviews", func(r chi.Router) {
		r.Use(requireOwner)
		r.Post("/", s.handleStart)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Post("/{id}/turn", s.handleTurn)
		r.Post("/{id}/reply", s.handleReply)
		r.Post("/{id}/end", s.handleEnd)
		r.Get("/{id}/ws", s.handleWS)
	})
	r.With(requireOwner).Get("/v1/analytics", s.handleAnalytics)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.orchestrator == nil || s.records == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "service dependencies not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"llm_mode": s.cfg.LLMMode,
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(started).Round(time.Millisecond),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type ownerKey struct{}

func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(ownerHeader))
		if owner == "" {
			respondError(w, http.StatusUnauthorized, "unauthenticated", "missing "+ownerHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

func ownerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// statusFor maps pipeline errors onto HTTP responses. Generation failures are
// absorbed by the stages and never reach this point.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, session.ErrSessionExists):
		return http.StatusConflict, "session_exists"
	case errors.Is(err, session.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, session.ErrPersistence):
		return http.StatusServiceUnavailable, "persistence_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "code", code, "err", err)
	}
	respondError(w, status, code, err.Error())
}
