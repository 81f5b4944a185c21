// Package secrets sources the JWT signing secret from HashiCorp Vault when
// configured, falling back to the value already present in the loaded
// Config otherwise. The OIDC client secret is not read from Vault; it
// always comes from Config.
package secrets

import (
	"context"
	"fmt"

	vaultapi "github.com/hashicorp/vault/api"
)

// Source resolves secret material, optionally from Vault's KV v2 engine.
type Source struct {
	client *vaultapi.Client
	mount  string
}

// NewSource constructs a Source against the Vault server reachable via the
// standard VAULT_ADDR/VAULT_TOKEN environment, using the given KV v2 mount.
// If addr is empty, NewSource returns (nil, nil): the caller should fall
// back to configuration-supplied secrets.
func NewSource(addr, mount string) (*Source, error) {
	if addr == "" {
		return nil, nil
	}
	cfg := vaultapi.DefaultConfig()
	cfg.Address = addr
	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("secrets: create vault client: %w", err)
	}
	if mount == "" {
		mount = "secret"
	}
	return &Source{client: client, mount: mount}, nil
}

// Get reads a single string value under path/key (key defaults to "value").
func (s *Source) Get(ctx context.Context, path, key string) (string, error) {
	if key == "" {
		key = "value"
	}
	secret, err := s.client.KVv2(s.mount).Get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("secrets: read %q: %w", path, err)
	}
	raw, ok := secret.Data[key]
	if !ok {
		return "", fmt.Errorf("secrets: %q missing key %q", path, key)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("secrets: %q key %q is not a string", path, key)
	}
	return value, nil
}

// ResolveJWTSecret returns the JWT signing secret from Vault at
// secret/delegationauth/jwt (key "value"), falling back to fallback when
// src is nil or the read fails.
func ResolveJWTSecret(ctx context.Context, src *Source, fallback string) string {
	if src == nil {
		return fallback
	}
	value, err := src.Get(ctx, "delegationauth/jwt", "value")
	if err != nil || value == "" {
		return fallback
	}
	return value
}
