package application

import (
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/eugenenazirov/secure-webapp/internal/api"
	"github.com/eugenenazirov/secure-webapp/internal/config"
	"github.com/eugenenazirov/secure-webapp/internal/environment"
	"github.com/eugenenazirov/secure-webapp/internal/metrics"
	"github.com/eugenenazirov/secure-webapp/internal/pipeline"
	"github.com/eugenenazirov/secure-webapp/internal/requestid"
)

// Stage names, outermost first.
const (
	StageRequestID              = "request_id"
	StageMetrics                = "metrics"
	StageAccessLog              = "access_log"
	StageRateLimit              = "rate_limit"
	StageExceptionHandler       = "exception_handler"
	StageHSTS                   = "hsts"
	StageDeveloperExceptionPage = "developer_exception_page"
	StageHTTPSRedirection       = "https_redirection"
	StageStaticFiles            = "static_files"
)

// BuildPipeline registers the middleware in its fixed order. Routing,
// authorization and page dispatch form the terminal handler.
func BuildPipeline(mode environment.Mode, cfg config.Config, webRoot string, m *metrics.Metrics, logger *zap.Logger) *pipeline.Builder {
	b := pipeline.New()

	b.Use(StageRequestID, requestid.Middleware)
	b.Use(StageMetrics, m.Middleware)
	if cfg.EnableRequestLogging {
		b.Use(StageAccessLog, api.RequestLogging(logger))
	}
	b.Use(StageRateLimit, api.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

	if mode.IsDevelopment() {
		b.Use(StageDeveloperExceptionPage, api.DeveloperExceptionPage(logger))
	} else {
		b.Use(StageExceptionHandler, api.ExceptionHandler(cfg.ErrorPath, logger))
		b.Use(StageHSTS, api.HSTS(api.HSTSOptions{
			MaxAge:              cfg.HSTS.MaxAge,
			IncludeSubDomains:   cfg.HSTS.IncludeSubDomains,
			Preload:             cfg.HSTS.Preload,
			ExcludedHosts:       cfg.HSTS.ExcludedHosts,
			TrustForwardedProto: cfg.TrustForwardedHeaders,
		}))
	}

	b.Use(StageHTTPSRedirection, api.HTTPSRedirection(api.RedirectOptions{
		HTTPSPort:           httpsPort(cfg),
		TrustForwardedProto: cfg.TrustForwardedHeaders,
	}, logger))
	b.Use(StageStaticFiles, api.StaticFiles(webRoot))

	return b
}

// httpsPort is the explicit HTTPS port, or the TLS listener's port when one is configured.
func httpsPort(cfg config.Config) int {
	if cfg.HTTPSPort > 0 {
		return cfg.HTTPSPort
	}
	if !cfg.TLS.Enabled() {
		return 0
	}

	port := cfg.TLS.Port
	if strings.Contains(port, ":") {
		_, p, err := net.SplitHostPort(port)
		if err != nil {
			return 0
		}
		port = p
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
