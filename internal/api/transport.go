package api

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HSTSOptions controls the Strict-Transport-Security header.
type HSTSOptions struct {
	MaxAge              time.Duration
	IncludeSubDomains   bool
	Preload             bool
	ExcludedHosts       []string
	TrustForwardedProto bool
}

// HeaderValue renders the header for these options.
func (o HSTSOptions) HeaderValue() string {
	maxAge := o.MaxAge
	if maxAge < 0 {
		maxAge = 0
	}
	value := fmt.Sprintf("max-age=%d", int64(maxAge/time.Second))
	if o.IncludeSubDomains {
		value += "; includeSubDomains"
	}
	if o.Preload {
		value += "; preload"
	}
	return value
}

// HSTS sets Strict-Transport-Security on HTTPS responses for non-excluded hosts.
func HSTS(opts HSTSOptions) func(http.Handler) http.Handler {
	value := opts.HeaderValue()
	excluded := make(map[string]struct{}, len(opts.ExcludedHosts))
	for _, host := range opts.ExcludedHosts {
		excluded[normalizeHost(host)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isHTTPS(r, opts.TrustForwardedProto) {
				if _, skip := excluded[hostname(r.Host)]; !skip {
					w.Header().Set("Strict-Transport-Security", value)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RedirectOptions controls HTTPS redirection.
type RedirectOptions struct {
	// HTTPSPort is the public HTTPS port. Zero means unknown, which disables redirects.
	HTTPSPort           int
	StatusCode          int
	TrustForwardedProto bool
}

// HTTPSRedirection redirects plain HTTP requests to the HTTPS origin.
func HTTPSRedirection(opts RedirectOptions, logger *zap.Logger) func(http.Handler) http.Handler {
	status := opts.StatusCode
	if status == 0 {
		status = http.StatusTemporaryRedirect
	}
	var warnOnce sync.Once

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isHTTPS(r, opts.TrustForwardedProto) {
				next.ServeHTTP(w, r)
				return
			}
			if opts.HTTPSPort <= 0 || r.Host == "" {
				warnOnce.Do(func() {
					logger.Warn("failed to determine the https port for redirect")
				})
				next.ServeHTTP(w, r)
				return
			}

			host := hostname(r.Host)
			if opts.HTTPSPort != 443 {
				host = net.JoinHostPort(host, strconv.Itoa(opts.HTTPSPort))
			} else if strings.Contains(host, ":") {
				host = "[" + host + "]"
			}
			w.Header().Set("Location", "https://"+host+r.URL.RequestURI())
			w.WriteHeader(status)
		})
	}
}

func isHTTPS(r *http.Request, trustForwarded bool) bool {
	if r.TLS != nil {
		return true
	}
	if !trustForwarded {
		return false
	}
	proto := r.Header.Get("X-Forwarded-Proto")
	if i := strings.IndexByte(proto, ','); i >= 0 {
		proto = proto[:i]
	}
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}

// hostname strips the port and IPv6 brackets from a Host header value.
func hostname(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return normalizeHost(hostport)
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(host, "["), "]"))
}
