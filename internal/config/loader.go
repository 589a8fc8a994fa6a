// internal/config/loader.go
//
// Configuration loader and hot-reloader.
//
/*
Context
--------
`Load()` builds one immutable `Config` struct from three layers (highest
precedence last):

  1. Optional `.env` file — first `<root>/conf/.env`, then cwd fallback.
  2. `conf/reroute.yaml`.
  3. Environment variables prefixed `REROUTE_`, where `__` maps to “.”
     (e.g., `REROUTE_HTTP__LISTEN_ADDR → http.listen_addr`).

After merging, the tree is unmarshalled into strongly-typed structs,
validated, enriched with the runtime root path and defaults, and cached in
an `atomic.Pointer` for lock-free reads.  `Reload()` simply calls `Load()`
again and swaps the pointer.

A `vault:` prefix on `database.password` is resolved through the Vault
client before the struct is cached, so downstream code only ever sees the
plain secret.

Notes
-----
  • `rootDir()` climbs the cwd tree until it finds `conf/reroute.yaml`;
    this lets `go run ./cmd/reroute` work from any sub-directory.
  • Logs use the global *sugared* logger (`zap.S()`) so early boot issues
    surface even before the file logger is installed (bootstrap console).
  • Oxford commas, two spaces after periods.
*/
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/yanizio/reroute/internal/vault"
)

var current atomic.Pointer[Config]

/*──────────────────────────── root discovery ───────────────────────────────*/

// rootDir resolves REROUTE_ROOT or climbs directories until conf/reroute.yaml
// is found.  Falls back to executable heuristic for production layout.
func rootDir() string {
	if r := os.Getenv("REROUTE_ROOT"); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "conf", "reroute.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir { // reached filesystem root
			break
		}
		dir = parent
	}

	exe, _ := os.Executable()
	if filepath.Base(filepath.Dir(exe)) == "bin" {
		return filepath.Dir(filepath.Dir(exe))
	}
	return wd
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load reads .env, YAML, env overrides, resolves secrets, validates, and
// caches Config.
func Load(ctx context.Context) (*Config, error) {
	root := rootDir()
	zap.S().Debugw("config root resolved", "root", root)

	// .env (optional, no error if missing)
	_ = godotenv.Load(filepath.Join(root, "conf", ".env"))

	k := koanf.New(".")

	yamlPath := filepath.Join(root, "conf", "reroute.yaml")
	if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
		zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
		return nil, err
	}
	zap.S().Debugw("config yaml loaded", "file", yamlPath)

	// Env overrides: REROUTE_HTTP__LISTEN_ADDR → http.listen_addr
	if err := k.Load(env.Provider("REROUTE_", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "__", "."))
	}), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		zap.S().Errorw("config unmarshal failed", "err", err)
		return nil, err
	}

	cfg.Paths.Root = root
	applyDefaults(&cfg)

	if err := resolveSecrets(ctx, &cfg); err != nil {
		zap.S().Errorw("config secret resolution failed", "err", err)
		return nil, err
	}

	if err := validateStruct(&cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, err
	}

	current.Store(&cfg)
	zap.S().Infow("config loaded",
		"listen_addr", cfg.HTTP.ListenAddr,
		"passthrough_querystring", cfg.Redirect.PassthroughQuerystring,
		"default_status_code", cfg.Redirect.DefaultStatusCode,
		"routes", len(cfg.Routes),
		"root", cfg.Paths.Root,
	)
	return &cfg, nil
}

// applyDefaults fills the knobs YAML may omit.
func applyDefaults(cfg *Config) {
	if cfg.Redirect.DefaultStatusCode == 0 {
		cfg.Redirect.DefaultStatusCode = 301
	}
}

// resolveSecrets replaces `vault:secret/path#key` values with the secret
// they reference, then substitutes the password into a `%s` DSN template.
func resolveSecrets(ctx context.Context, cfg *Config) error {
	if strings.HasPrefix(cfg.Database.Password, vault.URIPrefix) {
		cli, err := vault.New(ctx, zap.S().Infof)
		if err != nil {
			return err
		}
		pw, err := cli.Resolve(ctx, cfg.Database.Password)
		if err != nil {
			return err
		}
		cfg.Database.Password = pw
	}

	if strings.Contains(cfg.Database.DSN, "%s") {
		cfg.Database.DSN = fmt.Sprintf(cfg.Database.DSN, cfg.Database.Password)
	}
	return nil
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func Get() *Config { return current.Load() }

func Reload(ctx context.Context) error { _, err := Load(ctx); return err }
