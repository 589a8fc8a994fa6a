// internal/vault/vault.go
//
// Vault client wrapper for reroute.
//
// Context
// -------
//   - Thin, concurrency-safe wrapper around the HashiCorp Vault Go SDK.
//   - Resolves `vault:mount/path#key` URIs for the config loader, with a
//     small per-key cache so repeated Reload() calls do not hammer Vault.
//
// Public workflow
// ---------------
//  1. cli, err := vault.New(ctx, logFn)            // during boot.
//  2. pw,  err := cli.Resolve(ctx, "vault:kv/db#password")
//
// Environment expectations
// ------------------------
// • VAULT_ADDR   – scheme and host of the Vault server.
// • VAULT_TOKEN  – initial token (falls back to ~/.vault-token).
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
package vault

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// URIPrefix marks a config value as a Vault reference.
const URIPrefix = "vault:"

const cacheTTL = 5 * time.Minute

// Client is safe for concurrent use.  Zero value is invalid; construct with
// New.
type Client struct {
	api   *vault.Client
	logFn func(string, ...any)

	mu    sync.Mutex
	cache map[string]cached
}

type cached struct {
	val string
	exp time.Time
}

// New constructs a Vault client from the environment.
func New(ctx context.Context, logFn func(string, ...any)) (*Client, error) {
	if logFn == nil {
		logFn = func(string, ...any) {}
	}

	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}

	apiCli, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}
	if tok := os.Getenv("VAULT_TOKEN"); tok != "" {
		apiCli.SetToken(tok)
	}

	return &Client{api: apiCli, logFn: logFn, cache: make(map[string]cached)}, nil
}

// Resolve turns a `vault:mount/path#key` URI into the secret it references.
// Results are cached briefly.
func (c *Client) Resolve(ctx context.Context, uri string) (string, error) {
	ref := strings.TrimPrefix(uri, URIPrefix)
	secretPath, key, ok := strings.Cut(ref, "#")
	if !ok || secretPath == "" || key == "" {
		return "", fmt.Errorf("vault: malformed reference %q, want vault:mount/path#key", uri)
	}

	c.mu.Lock()
	if cv, hit := c.cache[ref]; hit && time.Now().Before(cv.exp) {
		c.mu.Unlock()
		return cv.val, nil
	}
	c.mu.Unlock()

	mount, rel, _ := strings.Cut(secretPath, "/")
	sec, err := c.api.KVv2(mount).Get(ctx, rel)
	if err != nil {
		return "", fmt.Errorf("vault get %s: %w", secretPath, err)
	}

	raw, found := sec.Data[key]
	if !found {
		return "", fmt.Errorf("key %q not found in secret %q", key, secretPath)
	}
	sval, isStr := raw.(string)
	if !isStr {
		return "", fmt.Errorf("value at %s#%s is not a string", secretPath, key)
	}

	c.mu.Lock()
	c.cache[ref] = cached{val: sval, exp: time.Now().Add(cacheTTL)}
	c.mu.Unlock()

	c.logFn("vault: resolved %s#%s", secretPath, key)
	return sval, nil
}
