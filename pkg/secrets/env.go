package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// DefaultEnvPrefix namespaces secret environment variables.
const DefaultEnvPrefix = "GOVERNOR_SECRET_"

// EnvProvider loads secrets from environment variables. The name
// "redis-password" is read from GOVERNOR_SECRET_REDIS_PASSWORD.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment provider. An empty prefix uses
// DefaultEnvPrefix.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvProvider{prefix: prefix}
}

// Name implements Provider.
func (p *EnvProvider) Name() string {
	return "env"
}

// Lookup implements Provider.
func (p *EnvProvider) Lookup(ctx context.Context, name string) (string, error) {
	envVar := p.envVar(name)
	value, ok := os.LookupEnv(envVar)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s (env var: %s)", ErrNotFound, name, envVar)
	}
	return value, nil
}

func (p *EnvProvider) envVar(name string) string {
	return p.prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}
