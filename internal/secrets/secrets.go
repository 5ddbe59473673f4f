// Package secrets defines the boundary to the secret-storage backend. The
// orchestrator never talks to a secret store directly; it resolves named
// secrets through a Provider. Values are returned as stored, which for SSH
// key material means base64-encoded.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned when the named secret does not exist in the store.
var ErrNotFound = errors.New("secret not found")

// Provider resolves a named secret to its stored value.
type Provider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// Static is a map-backed provider.
type Static map[string]string

func (s Static) GetSecret(_ context.Context, name string) (string, error) {
	value, ok := s[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return value, nil
}

// Env resolves secrets from environment variables, optionally applying a
// prefix to the variable name.
type Env struct {
	Prefix string
}

func (e Env) GetSecret(_ context.Context, name string) (string, error) {
	value, ok := os.LookupEnv(e.Prefix + name)
	if !ok {
		return "", fmt.Errorf("%w: environment variable %q", ErrNotFound, e.Prefix+name)
	}
	return value, nil
}

// Cached wraps a provider with an in-memory cache. Concurrent lookups of the
// same name are collapsed into a single backend call.
type Cached struct {
	provider Provider

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]string
}

func NewCached(provider Provider) *Cached {
	return &Cached{provider: provider, cache: map[string]string{}}
}

func (c *Cached) GetSecret(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	if value, ok := c.cache[name]; ok {
		c.mu.Unlock()
		return value, nil
	}
	c.mu.Unlock()

	value, err, _ := c.group.Do(name, func() (any, error) {
		value, err := c.provider.GetSecret(ctx, name)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.cache[name] = value
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}
