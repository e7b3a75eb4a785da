package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"classlens/internal/auth"
	"classlens/internal/engagement"
	"classlens/internal/report"
	"classlens/pkg/interfaces"
	"classlens/pkg/types"
)

// EngagementService is the ingestion side used by the HTTP layer
type EngagementService interface {
	Submit(ctx context.Context, caller types.Identity, sub engagement.Submission) (*engagement.Ack, error)
	ListSession(ctx context.Context, sessionID string) ([]*types.Observation, error)
}

// Reporter is the read-only aggregation side
type Reporter interface {
	SessionReport(ctx context.Context, sessionID string) (*report.SessionReport, error)
	StudentHistory(ctx context.Context, studentID string) ([]report.StudentSession, error)
	TeacherSessionReports(ctx context.Context, teacherID string) ([]*report.SessionReport, error)
	TeacherStudentReports(ctx context.Context, teacherID string) ([]*report.StudentSummary, error)
	WeeklyRollup(ctx context.Context, teacherID string) ([]report.WeeklyBucket, error)
}

type AlertReader interface {
	Active(sessionID string) []types.Alert
}

type RosterReader interface {
	Snapshot(sessionID string) []types.Participant
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsProvider is implemented by every component that reports counters on /health
type StatsProvider interface {
	GetStats() map[string]int
}

// Dependencies wires the server to the rest of the application
type Dependencies struct {
	Sessions       interfaces.SessionManager
	Engagement     EngagementService
	Reports        Reporter
	Alerts         AlertReader
	Roster         RosterReader
	Health         HealthChecker
	Stats          map[string]StatsProvider
	Auth           *auth.Authenticator
	WebSocket      http.Handler
	AllowedOrigins []string
	Logger         *slog.Logger
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	deps    Dependencies
	router  chi.Router
	logger  *slog.Logger
	started time.Time
}

// NewServer builds the chi router over deps
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		deps:    deps,
		logger:  deps.Logger,
		started: time.Now(),
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.healthCheck)
	if s.deps.WebSocket != nil {
		// the upgrade handler authenticates itself, browsers pass ?token=
		r.Get("/ws", s.deps.WebSocket.ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.deps.Auth.Middleware)

		r.Route("/sessions", func(r chi.Router) {
			r.With(auth.RequireTeacher).Post("/", s.createSession)
			r.With(auth.RequireTeacher).Get("/", s.listSessions)
			r.Post("/join", s.joinSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.With(auth.RequireTeacher).Post("/end", s.endSession)
				r.Get("/report", s.sessionReport)
				r.Get("/participants", s.participants)
				r.Get("/alerts", s.alerts)
			})
		})

		r.Route("/engagement", func(r chi.Router) {
			r.Post("/", s.submitEngagement)
			r.Get("/history", s.studentHistory)
			r.Get("/{sessionID}", s.listEngagement)
		})

		r.Route("/teacher", func(r chi.Router) {
			r.Use(auth.RequireTeacher)
			r.Get("/sessions/report", s.teacherSessionReports)
			r.Get("/students/report", s.teacherStudentReports)
			r.Get("/weekly", s.weeklyRollup)
		})
	})

	return r
}

type HealthResponse struct {
	Status     string                    `json:"status"`
	Timestamp  time.Time                 `json:"timestamp"`
	Uptime     string                    `json:"uptime"`
	Database   string                    `json:"database"`
	Components map[string]map[string]int `json:"components"`
}

// healthCheck reports storage health and component counters; 503 when storage fails
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Database:   "healthy",
		Components: make(map[string]map[string]int, len(s.deps.Stats)),
	}
	for name, provider := range s.deps.Stats {
		resp.Components[name] = provider.GetStats()
	}

	status := http.StatusOK
	if err := s.deps.Health.HealthCheck(ctx); err != nil {
		s.logger.Error("health check failed", "error", err)
		resp.Status = "unhealthy"
		resp.Database = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// requestLogger logs one structured line per request
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// corsMiddleware echoes allowed origins; an empty list allows any origin
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(s.deps.AllowedOrigins))
	for _, o := range s.deps.AllowedOrigins {
		allowed[o] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if _, ok := allowed[origin]; ok || len(allowed) == 0 {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
