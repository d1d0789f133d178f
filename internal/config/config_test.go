package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/eugenenazirov/secure-webapp/internal/environment"
	"github.com/eugenenazirov/secure-webapp/internal/settings"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"APP_ENVIRONMENT", "PORT", "HTTPS_PORT", "LOG_LEVEL", "METRICS_ADDR", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", settings.KeyVaultURL} {
		t.Setenv(name, "")
	}
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != defaultPort {
		t.Fatalf("expected default port %s, got %s", defaultPort, cfg.Port)
	}
	if cfg.Mode() != environment.Production {
		t.Fatalf("expected Production mode, got %s", cfg.Mode())
	}
	if cfg.SecretStoreTimeout != 30*time.Second {
		t.Fatalf("unexpected secret store timeout: %s", cfg.SecretStoreTimeout)
	}
	if cfg.ShutdownGracePeriod != 10*time.Second {
		t.Fatalf("unexpected shutdown grace period: %s", cfg.ShutdownGracePeriod)
	}
	if cfg.ErrorPath != "/Error" {
		t.Fatalf("unexpected error path %q", cfg.ErrorPath)
	}
	if cfg.TLS.Enabled() {
		t.Fatalf("expected TLS to be disabled by default")
	}
	if cfg.HSTS.MaxAge != 30*24*time.Hour || cfg.HSTS.IncludeSubDomains || cfg.HSTS.Preload {
		t.Fatalf("unexpected default HSTS config %+v", cfg.HSTS)
	}
	if !slices.Equal(cfg.HSTS.ExcludedHosts, []string{"localhost", "127.0.0.1", "[::1]"}) {
		t.Fatalf("unexpected HSTS exclusions %v", cfg.HSTS.ExcludedHosts)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENVIRONMENT", "development")
	t.Setenv("PORT", "9000")
	t.Setenv("HTTPS_PORT", "9443")
	t.Setenv("APPSETTING_KeyVaultUrl", "https://env.vault.azure.net/")
	t.Setenv("APPSETTING_Database__Host", "db.internal")

	cfg, err := Load(&CLIOverrides{})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Mode() != environment.Development {
		t.Fatalf("expected Development mode, got %s", cfg.Mode())
	}
	if cfg.Port != "9000" || cfg.HTTPSPort != 9443 {
		t.Fatalf("expected env ports, got %s/%d", cfg.Port, cfg.HTTPSPort)
	}
	if cfg.Settings[settings.KeyVaultURL] != "https://env.vault.azure.net/" {
		t.Fatalf("expected KeyVaultUrl from env, got %v", cfg.Settings)
	}
	if cfg.Settings["Database:Host"] != "db.internal" {
		t.Fatalf("expected section separator mapping, got %v", cfg.Settings)
	}
}

func TestLoadRejectsInvalidHTTPSPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTPS_PORT", "not-a-port")

	if _, err := Load(nil); err == nil {
		t.Fatalf("expected error for invalid HTTPS_PORT")
	}
}

func TestLoadYAMLOverridesEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")

	path := writeYAML(t, `
environment: Staging
port: "7000"
https_port: 7443
trust_forwarded_headers: true
secret_store_timeout: 5s
enable_request_logging: false
rate_limit:
  rps: 0
  burst: 0
hsts:
  max_age: 8760h
  include_subdomains: true
  preload: true
settings:
  KeyVaultUrl: https://file.vault.azure.net/
  Greeting: hello
`)

	cfg, err := Load(&CLIOverrides{ConfigFile: path})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != "7000" {
		t.Fatalf("expected YAML port, got %s", cfg.Port)
	}
	if cfg.Mode() != environment.Staging {
		t.Fatalf("expected Staging, got %s", cfg.Mode())
	}
	if cfg.HTTPSPort != 7443 || !cfg.TrustForwardedHeaders {
		t.Fatalf("expected https settings from YAML, got %+v", cfg)
	}
	if cfg.SecretStoreTimeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %s", cfg.SecretStoreTimeout)
	}
	if cfg.EnableRequestLogging {
		t.Fatalf("expected request logging disabled")
	}
	if cfg.RateLimitRPS != 0 || cfg.RateLimitBurst != 0 {
		t.Fatalf("expected rate limit disabled, got %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.HSTS.MaxAge != 8760*time.Hour || !cfg.HSTS.IncludeSubDomains || !cfg.HSTS.Preload {
		t.Fatalf("unexpected HSTS config %+v", cfg.HSTS)
	}
	if cfg.Settings["Greeting"] != "hello" || cfg.Settings[settings.KeyVaultURL] != "https://file.vault.azure.net/" {
		t.Fatalf("unexpected settings %v", cfg.Settings)
	}
}

func TestLoadCLIOverridesEverything(t *testing.T) {
	clearEnv(t)
	t.Setenv("APPSETTING_KeyVaultUrl", "https://env.vault.azure.net/")

	path := writeYAML(t, "port: \"7000\"\nenvironment: Staging\n")
	port := "6000"
	env := "Development"
	vault := "https://cli.vault.azure.net/"
	rps := 3.0

	cfg, err := Load(&CLIOverrides{
		ConfigFile:   path,
		Port:         &port,
		Environment:  &env,
		KeyVaultURL:  &vault,
		RateLimitRPS: &rps,
	})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != "6000" || cfg.Mode() != environment.Development {
		t.Fatalf("expected CLI values, got port %s mode %s", cfg.Port, cfg.Mode())
	}
	if cfg.Settings[settings.KeyVaultURL] != vault {
		t.Fatalf("expected CLI vault URL, got %q", cfg.Settings[settings.KeyVaultURL])
	}
	if cfg.RateLimitRPS != 3 {
		t.Fatalf("expected CLI rate limit, got %v", cfg.RateLimitRPS)
	}
}

func TestLoadYAMLErrors(t *testing.T) {
	clearEnv(t)

	tests := map[string]string{
		"bad duration":      "secret_store_timeout: soon\n",
		"bad hsts":          "hsts:\n  max_age: forever\n",
		"half tls":          "tls:\n  cert_file: cert.pem\n",
		"zero timeout":      "secret_store_timeout: 0s\n",
		"malformed yaml":    "port: [\n",
		"port out of range": "https_port: 70000\n",
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(&CLIOverrides{ConfigFile: writeYAML(t, body)}); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	if _, err := Load(&CLIOverrides{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSettingsFromEnv(t *testing.T) {
	t.Parallel()

	got := settingsFromEnv([]string{
		"APPSETTING_Simple=1",
		"APPSETTING_Outer__Inner=2",
		"APPSETTING_=ignored",
		"OTHER=3",
		"APPSETTING_WithEquals=a=b",
	})

	want := map[string]string{"Simple": "1", "Outer:Inner": "2", "WithEquals": "a=b"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("expected %s=%s, got %v", k, v, got)
		}
	}
}

func TestSetSettingReplacesCaseVariants(t *testing.T) {
	t.Parallel()

	m := map[string]string{"keyvaulturl": "https://old.vault.azure.net/", "Other": "x"}
	setSetting(m, "KeyVaultUrl", "https://new.vault.azure.net/")

	if len(m) != 2 {
		t.Fatalf("expected case variants to collapse, got %v", m)
	}
	if m["KeyVaultUrl"] != "https://new.vault.azure.net/" {
		t.Fatalf("expected new value, got %v", m)
	}
}

func TestSettingsFromEnvBareVaultURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		environ []string
		want    string
	}{
		{name: "bare", environ: []string{"KeyVaultUrl=https://bare.vault.azure.net/"}, want: "https://bare.vault.azure.net/"},
		{name: "upper case", environ: []string{"KEYVAULTURL=https://upper.vault.azure.net/"}, want: "https://upper.vault.azure.net/"},
		{name: "prefixed wins", environ: []string{
			"KeyVaultUrl=https://bare.vault.azure.net/",
			"APPSETTING_KeyVaultUrl=https://prefixed.vault.azure.net/",
		}, want: "https://prefixed.vault.azure.net/"},
		{name: "blank ignored", environ: []string{"KeyVaultUrl= "}, want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := settingsFromEnv(tc.environ)
			if got[settings.KeyVaultURL] != tc.want {
				t.Fatalf("expected %s=%q, got %v", settings.KeyVaultURL, tc.want, got)
			}
		})
	}
}

func TestLoadReadsBareVaultURLFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("KeyVaultUrl", "https://contoso.vault.azure.net/")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := cfg.Settings[settings.KeyVaultURL]; got != "https://contoso.vault.azure.net/" {
		t.Fatalf("expected vault URL from environment, got %v", cfg.Settings)
	}
}
