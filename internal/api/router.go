package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/eugenenazirov/secure-webapp/internal/requestid"
)

// RouterOption configures the behaviour of NewRouter.
type RouterOption func(*routerConfig)

// WithAuthorizer sets the policy applied to every routed request.
func WithAuthorizer(a Authorizer) RouterOption {
	return func(cfg *routerConfig) {
		cfg.authorizer = a
	}
}

type routerConfig struct {
	authorizer Authorizer
	logger     *zap.Logger
}

// NewRouter routes GET /health to the health handler and everything else to
// pageHandler. Authorization runs once the route has been matched, so the
// policy can read the route pattern from chi.RouteContext.
func NewRouter(handler *Handler, pageHandler http.Handler, logger *zap.Logger, opts ...RouterOption) http.Handler {
	cfg := routerConfig{
		authorizer: AllowAnonymous{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(authorizationMiddleware(cfg.authorizer, cfg.logger))

		r.Handle("/health", http.HandlerFunc(methodNotAllowed))
		r.Get("/health", handler.handleHealth)
		r.Handle("/", pageHandler)
		r.Handle("/*", pageHandler)
	})

	return r
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", http.MethodGet)
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
}

// RequestLogging emits one access log line per request.
func RequestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return loggingMiddleware(logger, next)
	}
}

func loggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", duration),
			zap.String("request_id", requestid.FromContext(r.Context())),
		)
	})
}

// responseRecorder remembers the status code and whether the response has started.
type responseRecorder struct {
	http.ResponseWriter
	status  int
	started bool
}

func (r *responseRecorder) WriteHeader(status int) {
	if !r.started {
		r.status = status
		r.started = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.started = true
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
