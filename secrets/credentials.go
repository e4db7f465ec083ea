package secrets

import (
	"context"
	"fmt"
	"log"
	"time"

	infisical "github.com/infisical/go-sdk"
	gocache "github.com/patrickmn/go-cache"

	"DeploymentOrchestrator/deployment"
)

// cacheTTL bounds how long a resolved secret may be served without going
// back to the secret manager.
const cacheTTL = 5 * time.Minute

// InfisicalConfig configures the connection to the secret manager.
type InfisicalConfig struct {
	ClientID     string
	ClientSecret string
	ProjectID    string
	Environment  string
}

// Manager resolves secrets from Infisical. Resolved values are cached with a
// TTL, AES-GCM encrypted under a per-process key so plaintext secrets never
// sit in the cache.
type Manager struct {
	client      infisical.InfisicalClientInterface
	projectID   string
	environment string
	cache       *gocache.Cache
	key         string
}

// NewManager authenticates against Infisical with universal auth.
func NewManager(cfg InfisicalConfig) (*Manager, error) {
	client := infisical.NewInfisicalClient(infisical.Config{})

	if _, err := client.Auth().UniversalAuthLogin(cfg.ClientID, cfg.ClientSecret); err != nil {
		return nil, fmt.Errorf("infisical authentication: %w", err)
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating cache encryption key: %w", err)
	}

	return &Manager{
		client:      client,
		projectID:   cfg.ProjectID,
		environment: cfg.Environment,
		cache:       gocache.New(cacheTTL, 2*cacheTTL),
		key:         key,
	}, nil
}

// Resolve returns the secret value at path/key, serving from the encrypted
// cache when fresh.
func (m *Manager) Resolve(path, key string) (string, error) {
	cacheKey := path + "#" + key
	if cached, ok := m.cache.Get(cacheKey); ok {
		value, err := Decrypt(cached.(string), m.key)
		if err == nil {
			return value, nil
		}
		log.Printf("Discarding undecryptable cache entry for %s\n", cacheKey)
		m.cache.Delete(cacheKey)
	}

	secret, err := m.client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
		SecretKey:   key,
		Environment: m.environment,
		ProjectID:   m.projectID,
		SecretPath:  path,
	})
	if err != nil {
		return "", fmt.Errorf("retrieving secret %s/%s: %w", path, key, err)
	}

	if encrypted, err := Encrypt(secret.SecretValue, m.key); err == nil {
		m.cache.Set(cacheKey, encrypted, gocache.DefaultExpiration)
	}

	return secret.SecretValue, nil
}

// Flush drops all cached values, forcing fresh resolution. Called after a
// secrets-rotation event, before redeploying.
func (m *Manager) Flush() {
	m.cache.Flush()
}

// RegistryProvider resolves private-registry credentials through the secret
// manager.
type RegistryProvider struct {
	Manager    *Manager
	URL        string
	SecretPath string
}

// Credentials looks up REGISTRY_USERNAME and REGISTRY_PASSWORD under the
// configured secret path.
func (p *RegistryProvider) Credentials(ctx context.Context) (deployment.RegistryConfig, error) {
	username, err := p.Manager.Resolve(p.SecretPath, "REGISTRY_USERNAME")
	if err != nil {
		return deployment.RegistryConfig{}, err
	}
	password, err := p.Manager.Resolve(p.SecretPath, "REGISTRY_PASSWORD")
	if err != nil {
		return deployment.RegistryConfig{}, err
	}

	return deployment.RegistryConfig{
		URL:      p.URL,
		Username: username,
		Password: password,
	}, nil
}
