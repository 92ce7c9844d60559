package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"krishi-billing/internal/infra/logging"
	"krishi-billing/internal/usecase"
)

// Server exposes the webhook endpoint, the admin subscription API
// and operational routes (/healthz, /metrics).
type Server struct {
	billing  usecase.BillingUseCase
	auth     *AuthManager
	password string
	log      *zerolog.Logger
}

func NewServer(billing usecase.BillingUseCase, auth *AuthManager, adminPassword string, logger *zerolog.Logger) *Server {
	return &Server{billing: billing, auth: auth, password: adminPassword, log: logger}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(s.traceID)
	r.Use(s.requestLog)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// the one public, untrusted entry point
	r.Post("/api/v1/webhooks/phonepe", s.handleWebhook)

	r.Post("/api/v1/admin/login", s.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(s.auth.Guard)
		r.Get("/api/v1/subscriptions/{merchantID}", s.handleStatus)
		r.Post("/api/v1/subscriptions/{merchantID}", s.handleRegister)
		r.Post("/api/v1/subscriptions/{merchantID}/mandate", s.handleStartMandate)
		r.Post("/api/v1/subscriptions/{merchantID}/cancel", s.handleCancel)
	})
	return r
}

func (s *Server) traceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithTraceID(r.Context(), uuid.NewString())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := logging.With(r.Context(), s.log)
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		l.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http_request")
	})
}
