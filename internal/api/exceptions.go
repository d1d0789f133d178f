package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/eugenenazirov/secure-webapp/internal/requestid"
)

type originalPathKey struct{}

// OriginalPath returns the path of the request that failed when called while
// serving a re-executed error request, or "".
func OriginalPath(ctx context.Context) string {
	if p, ok := ctx.Value(originalPathKey{}).(string); ok {
		return p
	}
	return ""
}

// ExceptionHandler recovers from panics raised further down the pipeline and
// re-executes the pipeline as GET errorPath with status 500. Nothing of the
// failure reaches the client except the error page.
func ExceptionHandler(errorPath string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}

				logger.Error("unhandled request error",
					zap.String("error", fmt.Sprint(v)),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("request_id", requestid.FromContext(r.Context())),
					zap.ByteString("stack", debug.Stack()),
				)

				if rec.started {
					// too late to swap the response; drop the connection
					panic(http.ErrAbortHandler)
				}
				if r.URL.Path == errorPath {
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				reexecute(w, r, errorPath, next, logger)
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

func reexecute(w http.ResponseWriter, r *http.Request, errorPath string, next http.Handler, logger *zap.Logger) {
	resetHeaders(w.Header())

	ctx := context.WithValue(r.Context(), originalPathKey{}, r.URL.Path)
	errReq := r.Clone(ctx)
	errReq.Method = http.MethodGet
	errReq.URL.Path = errorPath
	errReq.URL.RawPath = ""
	errReq.URL.RawQuery = ""
	errReq.RequestURI = errorPath
	errReq.Body = http.NoBody
	errReq.ContentLength = 0

	out := &statusOverrideWriter{ResponseWriter: w, status: http.StatusInternalServerError}
	defer func() {
		if v := recover(); v != nil {
			logger.Error("error page failed", zap.String("error", fmt.Sprint(v)))
			if !out.wroteHeader {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}
	}()
	next.ServeHTTP(out, errReq)
	if !out.wroteHeader {
		out.WriteHeader(http.StatusInternalServerError)
	}
}

func resetHeaders(h http.Header) {
	id := h.Get(requestid.Header)
	for k := range h {
		delete(h, k)
	}
	if id != "" {
		h.Set(requestid.Header, id)
	}
}

// statusOverrideWriter forces a fixed status whatever the handler asks for.
type statusOverrideWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusOverrideWriter) WriteHeader(int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(w.status)
}

func (w *statusOverrideWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(w.status)
	}
	return w.ResponseWriter.Write(b)
}

// DeveloperExceptionPage recovers from panics and writes the panic value and
// stack trace as plain text. Only suitable for local development.
func DeveloperExceptionPage(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}

				stack := debug.Stack()
				logger.Error("unhandled request error",
					zap.String("error", fmt.Sprint(v)),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("request_id", requestid.FromContext(r.Context())),
				)
				if rec.started {
					panic(http.ErrAbortHandler)
				}

				resetHeaders(w.Header())
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.Header().Set("X-Content-Type-Options", "nosniff")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = fmt.Fprintf(w, "An unhandled exception occurred while processing the request.\n\n%s %s\n\npanic: %v\n\n%s",
					r.Method, r.URL.Path, v, stack)
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
