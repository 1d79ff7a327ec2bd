package propertyscout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/c360studio/propscout/provider"
)

// CredentialKey is the persisted name of the API key.
const CredentialKey = "propertyscout_api_key"

// SecretStore persists named secrets. LoadSecret returns "" with a nil error
// when the secret is absent.
type SecretStore interface {
	LoadSecret(ctx context.Context, name string) (string, error)
	StoreSecret(ctx context.Context, name, value string) error
}

// Credentials resolves the PropertyScout API key. A key saved at runtime
// takes precedence over the configured fallback (config file or
// environment).
type Credentials struct {
	store SecretStore

	mu       sync.RWMutex
	fallback string
	memory   string // used when store is nil

	// verified is set after a successful authenticated call and cleared on
	// Unauthorized or when the key changes.
	verified atomic.Bool
}

// NewCredentials creates a resolver. store may be nil.
func NewCredentials(store SecretStore, fallback string) *Credentials {
	return &Credentials{store: store, fallback: strings.TrimSpace(fallback)}
}

// APIKey returns the active key or a MissingCredential error.
func (c *Credentials) APIKey(ctx context.Context) (string, error) {
	if c.store != nil {
		key, err := c.store.LoadSecret(ctx, CredentialKey)
		if err != nil {
			return "", fmt.Errorf("load API key: %w", err)
		}
		if key = strings.TrimSpace(key); key != "" {
			return key, nil
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.memory != "" {
		return c.memory, nil
	}
	if c.fallback != "" {
		return c.fallback, nil
	}
	return "", provider.Errorf(provider.KindMissingCredential, ProviderName, "API key not configured")
}

// Set saves key for subsequent calls.
func (c *Credentials) Set(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return provider.Errorf(provider.KindBadRequest, ProviderName, "API key must not be empty")
	}

	c.verified.Store(false)
	if c.store != nil {
		return c.store.StoreSecret(ctx, CredentialKey, key)
	}
	c.mu.Lock()
	c.memory = key
	c.mu.Unlock()
	return nil
}

// Clear removes the saved key. A configured fallback still applies.
func (c *Credentials) Clear(ctx context.Context) error {
	c.verified.Store(false)
	if c.store != nil {
		return c.store.StoreSecret(ctx, CredentialKey, "")
	}
	c.mu.Lock()
	c.memory = ""
	c.mu.Unlock()
	return nil
}

// SetFallback replaces the configured key, e.g. after a config reload.
func (c *Credentials) SetFallback(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key = strings.TrimSpace(key)
	if key != c.fallback {
		c.fallback = key
		c.verified.Store(false)
	}
}

// Has reports whether any key is configured.
func (c *Credentials) Has(ctx context.Context) bool {
	_, err := c.APIKey(ctx)
	return err == nil
}

// Verified reports whether the provider has accepted the current key.
func (c *Credentials) Verified() bool {
	return c.verified.Load()
}

func (c *Credentials) markVerified() { c.verified.Store(true) }

func (c *Credentials) invalidate() { c.verified.Store(false) }
