package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/secure-webapp/internal/environment"
	"github.com/eugenenazirov/secure-webapp/internal/settings"
)

const (
	defaultPort           = "8080"
	defaultTLSPort        = "8443"
	defaultEnvironment    = "Production"
	defaultLogLevel       = "info"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
	defaultErrorPath      = "/Error"

	// SettingEnvPrefix marks environment variables that feed the settings store.
	// "__" in the remainder of the name becomes the ":" section separator.
	SettingEnvPrefix = "APPSETTING_"
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	Environment           string
	Port                  string
	HTTPSPort             int
	TLS                   TLSConfig
	TrustForwardedHeaders bool
	WebRoot               string
	PagesDir              string
	ErrorPath             string
	HSTS                  HSTSConfig
	SecretStoreTimeout    time.Duration
	ShutdownGracePeriod   time.Duration
	ReadHeaderTimeout     time.Duration
	WriteTimeout          time.Duration
	IdleTimeout           time.Duration
	EnableRequestLogging  bool
	LogLevel              string
	RateLimitRPS          float64
	RateLimitBurst        int
	MetricsAddr           string
	// Settings seeds the key/value settings store.
	Settings map[string]string
}

// TLSConfig enables the HTTPS listener when both files are set.
type TLSConfig struct {
	CertFile string
	KeyFile  string
	Port     string
}

// Enabled reports whether an HTTPS listener should be started.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// HSTSConfig mirrors the Strict-Transport-Security options.
type HSTSConfig struct {
	MaxAge            time.Duration
	IncludeSubDomains bool
	Preload           bool
	ExcludedHosts     []string
}

// DefaultHSTS is a 30 day max-age that never applies to loopback hosts.
func DefaultHSTS() HSTSConfig {
	return HSTSConfig{
		MaxAge:        30 * 24 * time.Hour,
		ExcludedHosts: []string{"localhost", "127.0.0.1", "[::1]"},
	}
}

// Mode returns the parsed environment mode.
func (c Config) Mode() environment.Mode {
	return environment.Parse(c.Environment)
}

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	Environment           string            `yaml:"environment"`
	Port                  string            `yaml:"port"`
	HTTPSPort             int               `yaml:"https_port"`
	TLS                   yamlTLS           `yaml:"tls"`
	TrustForwardedHeaders *bool             `yaml:"trust_forwarded_headers"`
	WebRoot               string            `yaml:"web_root"`
	PagesDir              string            `yaml:"pages_dir"`
	HSTS                  yamlHSTS          `yaml:"hsts"`
	SecretStoreTimeout    string            `yaml:"secret_store_timeout"`
	ShutdownGracePeriod   string            `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout     string            `yaml:"read_header_timeout"`
	WriteTimeout          string            `yaml:"write_timeout"`
	IdleTimeout           string            `yaml:"idle_timeout"`
	EnableRequestLogging  *bool             `yaml:"enable_request_logging"`
	LogLevel              string            `yaml:"log_level"`
	RateLimit             *yamlRateLimit    `yaml:"rate_limit"`
	MetricsAddr           string            `yaml:"metrics_addr"`
	Settings              map[string]string `yaml:"settings"`
}

type yamlTLS struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	Port     string `yaml:"port"`
}

type yamlHSTS struct {
	MaxAge            string   `yaml:"max_age"`
	IncludeSubDomains bool     `yaml:"include_subdomains"`
	Preload           bool     `yaml:"preload"`
	ExcludedHosts     []string `yaml:"excluded_hosts"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile     string
	Port           *string
	Environment    *string
	KeyVaultURL    *string
	LogLevel       *string
	RateLimitRPS   *float64
	RateLimitBurst *int
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	// Environment variables sit above defaults but below the YAML file.
	if err := applyEnvConfig(&cfg); err != nil {
		return Config{}, err
	}

	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("apply YAML config: %w", err)
		}
	}

	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Environment: defaultEnvironment,
		Port:        defaultPort,
		TLS: TLSConfig{
			Port: defaultTLSPort,
		},
		WebRoot:              "web/static",
		PagesDir:             "web/pages",
		ErrorPath:            defaultErrorPath,
		HSTS:                 DefaultHSTS(),
		SecretStoreTimeout:   30 * time.Second,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		LogLevel:             defaultLogLevel,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
		Settings:             map[string]string{},
	}
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) error {
	if yamlCfg.Environment != "" {
		cfg.Environment = yamlCfg.Environment
	}
	if yamlCfg.Port != "" {
		cfg.Port = yamlCfg.Port
	}
	if yamlCfg.HTTPSPort > 0 {
		cfg.HTTPSPort = yamlCfg.HTTPSPort
	}
	if yamlCfg.TLS.CertFile != "" {
		cfg.TLS.CertFile = yamlCfg.TLS.CertFile
	}
	if yamlCfg.TLS.KeyFile != "" {
		cfg.TLS.KeyFile = yamlCfg.TLS.KeyFile
	}
	if yamlCfg.TLS.Port != "" {
		cfg.TLS.Port = yamlCfg.TLS.Port
	}
	if yamlCfg.TrustForwardedHeaders != nil {
		cfg.TrustForwardedHeaders = *yamlCfg.TrustForwardedHeaders
	}
	if yamlCfg.WebRoot != "" {
		cfg.WebRoot = yamlCfg.WebRoot
	}
	if yamlCfg.PagesDir != "" {
		cfg.PagesDir = yamlCfg.PagesDir
	}

	if yamlCfg.HSTS.MaxAge != "" {
		d, err := time.ParseDuration(yamlCfg.HSTS.MaxAge)
		if err != nil {
			return fmt.Errorf("hsts.max_age: %w", err)
		}
		cfg.HSTS.MaxAge = d
	}
	cfg.HSTS.IncludeSubDomains = yamlCfg.HSTS.IncludeSubDomains
	cfg.HSTS.Preload = yamlCfg.HSTS.Preload
	if len(yamlCfg.HSTS.ExcludedHosts) > 0 {
		cfg.HSTS.ExcludedHosts = yamlCfg.HSTS.ExcludedHosts
	}

	durations := []struct {
		name   string
		raw    string
		target *time.Duration
	}{
		{"secret_store_timeout", yamlCfg.SecretStoreTimeout, &cfg.SecretStoreTimeout},
		{"shutdown_grace_period", yamlCfg.ShutdownGracePeriod, &cfg.ShutdownGracePeriod},
		{"read_header_timeout", yamlCfg.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{"write_timeout", yamlCfg.WriteTimeout, &cfg.WriteTimeout},
		{"idle_timeout", yamlCfg.IdleTimeout, &cfg.IdleTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.target = parsed
	}

	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.RateLimit != nil {
		cfg.RateLimitRPS = yamlCfg.RateLimit.RPS
		cfg.RateLimitBurst = yamlCfg.RateLimit.Burst
	}
	if yamlCfg.MetricsAddr != "" {
		cfg.MetricsAddr = yamlCfg.MetricsAddr
	}
	for key, value := range yamlCfg.Settings {
		setSetting(cfg.Settings, key, value)
	}

	return nil
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) error {
	if env := strings.TrimSpace(os.Getenv("APP_ENVIRONMENT")); env != "" {
		cfg.Environment = env
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Port = port
	}

	if raw := strings.TrimSpace(os.Getenv("HTTPS_PORT")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("HTTPS_PORT: invalid integer %q", raw)
		}
		cfg.HTTPSPort = value
	}

	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		cfg.LogLevel = level
	}

	if addr := strings.TrimSpace(os.Getenv("METRICS_ADDR")); addr != "" {
		cfg.MetricsAddr = addr
	}

	if rps := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}

	for key, value := range settingsFromEnv(os.Environ()) {
		setSetting(cfg.Settings, key, value)
	}
	return nil
}

// settingsFromEnv collects APPSETTING_-prefixed variables. A bare KeyVaultUrl
// variable (any case) is also honoured unless a prefixed one sets the same key.
func settingsFromEnv(environ []string) map[string]string {
	out := make(map[string]string)
	var bareVaultURL string
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if strings.EqualFold(name, settings.KeyVaultURL) {
			bareVaultURL = value
			continue
		}
		if !strings.HasPrefix(name, SettingEnvPrefix) {
			continue
		}
		key := strings.ReplaceAll(strings.TrimPrefix(name, SettingEnvPrefix), "__", ":")
		if key == "" {
			continue
		}
		out[key] = value
	}

	if strings.TrimSpace(bareVaultURL) != "" {
		for key := range out {
			if strings.EqualFold(key, settings.KeyVaultURL) {
				return out
			}
		}
		out[settings.KeyVaultURL] = bareVaultURL
	}
	return out
}

// setSetting replaces any entry whose key differs from key only by case.
func setSetting(m map[string]string, key, value string) {
	for existing := range m {
		if strings.EqualFold(existing, key) {
			delete(m, existing)
		}
	}
	m[key] = value
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}

	if overrides.Environment != nil && *overrides.Environment != "" {
		cfg.Environment = *overrides.Environment
	}

	if overrides.KeyVaultURL != nil && *overrides.KeyVaultURL != "" {
		setSetting(cfg.Settings, settings.KeyVaultURL, *overrides.KeyVaultURL)
	}

	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = *overrides.LogLevel
	}

	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}

	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if cfg.HTTPSPort < 0 || cfg.HTTPSPort > 65535 {
		return fmt.Errorf("https_port must be between 0 and 65535, got %d", cfg.HTTPSPort)
	}
	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		return fmt.Errorf("tls.cert_file and tls.key_file must be set together")
	}
	if cfg.SecretStoreTimeout <= 0 {
		return fmt.Errorf("secret_store_timeout must be positive")
	}
	if cfg.HSTS.MaxAge < 0 {
		return fmt.Errorf("hsts.max_age must be >= 0")
	}
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	if !strings.HasPrefix(cfg.ErrorPath, "/") {
		return fmt.Errorf("error path must start with /")
	}
	return nil
}
