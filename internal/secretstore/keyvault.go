// Package secretstore loads configuration values from Azure Key Vault.
package secretstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"go.uber.org/zap"
)

// Loader fetches every configuration pair held by a secret store.
type Loader interface {
	Load(ctx context.Context, vaultURL string) (map[string]string, error)
}

// CredentialProvider supplies the credential used to authenticate against the vault.
type CredentialProvider interface {
	Credential() (azcore.TokenCredential, error)
}

// DefaultCredentialProvider resolves the ambient Azure credential chain
// (environment, workload identity, managed identity, Azure CLI, ...).
type DefaultCredentialProvider struct{}

// Credential implements CredentialProvider.
func (DefaultCredentialProvider) Credential() (azcore.TokenCredential, error) {
	return azidentity.NewDefaultAzureCredential(nil)
}

// secretsClient is the subset of the vault API the loader needs.
type secretsClient interface {
	ListSecretNames(ctx context.Context) ([]string, error)
	GetSecret(ctx context.Context, name string) (string, error)
}

type clientFactory func(vaultURL string, cred azcore.TokenCredential) (secretsClient, error)

// KeyVaultLoader reads all enabled secrets from an Azure Key Vault.
type KeyVaultLoader struct {
	credentials CredentialProvider
	newClient   clientFactory
	logger      *zap.Logger
}

// KeyVaultOption configures a KeyVaultLoader.
type KeyVaultOption func(*KeyVaultLoader)

// WithCredentialProvider overrides the ambient credential chain.
func WithCredentialProvider(p CredentialProvider) KeyVaultOption {
	return func(l *KeyVaultLoader) {
		l.credentials = p
	}
}

func withClientFactory(f clientFactory) KeyVaultOption {
	return func(l *KeyVaultLoader) {
		l.newClient = f
	}
}

// NewKeyVaultLoader constructs a loader using the default credential chain.
func NewKeyVaultLoader(logger *zap.Logger, opts ...KeyVaultOption) *KeyVaultLoader {
	l := &KeyVaultLoader{
		credentials: DefaultCredentialProvider{},
		newClient:   newAzureClient,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load authenticates, lists the vault's secrets and returns them keyed by
// configuration key. Any failure aborts the whole load.
func (l *KeyVaultLoader) Load(ctx context.Context, vaultURL string) (map[string]string, error) {
	endpoint, err := ParseVaultURL(vaultURL)
	if err != nil {
		return nil, err
	}

	cred, err := l.credentials.Credential()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}

	tracked := &trackedCredential{cred: cred}
	client, err := l.newClient(endpoint.String(), tracked)
	if err != nil {
		return nil, fmt.Errorf("%w: create client: %v", ErrFetchFailed, err)
	}

	names, err := client.ListSecretNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list secrets: %w", tracked.classify(err), err)
	}

	values := make(map[string]string, len(names))
	for _, name := range names {
		value, err := client.GetSecret(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("%w: get secret %q: %w", tracked.classify(err), name, err)
		}
		values[KeyName(name)] = value
	}

	l.logger.Info("secret store loaded",
		zap.String("vault", endpoint.Host),
		zap.Int("keys", len(values)),
	)
	return values, nil
}

// trackedCredential remembers whether token acquisition failed. The ambient
// credential chain is built lazily, so a missing identity only surfaces when
// the first request asks for a token.
type trackedCredential struct {
	cred   azcore.TokenCredential
	failed atomic.Bool
}

func (c *trackedCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	tok, err := c.cred.GetToken(ctx, opts)
	if err != nil {
		c.failed.Store(true)
	}
	return tok, err
}

// classify picks the sentinel for a failed vault call.
func (c *trackedCredential) classify(err error) error {
	var authErr *azidentity.AuthenticationFailedError
	if c.failed.Load() || errors.As(err, &authErr) {
		return ErrCredentialUnavailable
	}
	return ErrFetchFailed
}

// ParseVaultURL validates a vault address.
func ParseVaultURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVaultURL, err)
	}
	if !strings.EqualFold(u.Scheme, "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVaultURL, raw)
	}
	return u, nil
}

// KeyName maps a secret name to a configuration key. Key Vault names cannot
// contain ":", so "--" stands in for the section separator.
func KeyName(secretName string) string {
	return strings.ReplaceAll(secretName, "--", ":")
}

type azureClient struct {
	client *azsecrets.Client
}

func newAzureClient(vaultURL string, cred azcore.TokenCredential) (secretsClient, error) {
	client, err := azsecrets.NewClient(vaultURL, cred, &azsecrets.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			// a negative value means one attempt and no retries
			Retry: policy.RetryOptions{MaxRetries: -1},
		},
	})
	if err != nil {
		return nil, err
	}
	return &azureClient{client: client}, nil
}

func (c *azureClient) ListSecretNames(ctx context.Context) ([]string, error) {
	var names []string
	pager := c.client.NewListSecretPropertiesPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, props := range page.Value {
			if props == nil || props.ID == nil {
				continue
			}
			if props.Attributes == nil || props.Attributes.Enabled == nil || !*props.Attributes.Enabled {
				continue
			}
			names = append(names, props.ID.Name())
		}
	}
	return names, nil
}

func (c *azureClient) GetSecret(ctx context.Context, name string) (string, error) {
	resp, err := c.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		return "", err
	}
	if resp.Value == nil {
		return "", nil
	}
	return *resp.Value, nil
}
