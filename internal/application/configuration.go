package application

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/secure-webapp/internal/environment"
	"github.com/eugenenazirov/secure-webapp/internal/secretstore"
	"github.com/eugenenazirov/secure-webapp/internal/settings"
)

// LoadConfiguration augments store with the remote secret store named by the
// KeyVaultUrl setting. Development mode and an absent or empty URL skip the
// remote call entirely. The call is bounded by timeout and is never retried.
// It returns the number of keys merged into the store.
func LoadConfiguration(ctx context.Context, mode environment.Mode, store *settings.Store, loader secretstore.Loader, timeout time.Duration, logger *zap.Logger) (int, error) {
	if mode.IsDevelopment() {
		logger.Debug("secret store skipped in development mode")
		return 0, nil
	}

	vaultURL := strings.TrimSpace(store.Lookup(settings.KeyVaultURL))
	if vaultURL == "" {
		logger.Info("no secret store configured", zap.String("key", settings.KeyVaultURL))
		return 0, nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger.Info("loading configuration from secret store",
		zap.String("vault", vaultHost(vaultURL)),
		zap.Duration("timeout", timeout),
	)
	values, err := loader.Load(ctx, vaultURL)
	if err != nil {
		return 0, fmt.Errorf("load secret store: %w", err)
	}

	if err := store.Merge(values); err != nil {
		return 0, fmt.Errorf("merge secret store values: %w", err)
	}
	return len(values), nil
}

func vaultHost(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return "invalid"
}
