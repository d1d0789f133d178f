package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"
)

var (
	// ErrUnauthenticated means the request carries no acceptable identity.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden means the identity is known but not allowed.
	ErrForbidden = errors.New("access denied")
)

// Authorizer decides whether a request may reach its endpoint.
type Authorizer interface {
	Authorize(r *http.Request) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(r *http.Request) error

// Authorize implements Authorizer.
func (f AuthorizerFunc) Authorize(r *http.Request) error {
	return f(r)
}

// AllowAnonymous admits every request.
type AllowAnonymous struct{}

// Authorize implements Authorizer.
func (AllowAnonymous) Authorize(*http.Request) error {
	return nil
}

func authorizationMiddleware(a Authorizer, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := a.Authorize(r)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, ErrUnauthenticated):
				writeError(w, http.StatusUnauthorized, "Unauthorized", err.Error())
			case errors.Is(err, ErrForbidden):
				writeError(w, http.StatusForbidden, "Forbidden", err.Error())
			default:
				logger.Error("authorization failed", zap.String("path", r.URL.Path), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "Internal error", "authorization could not be evaluated")
			}
		})
	}
}
