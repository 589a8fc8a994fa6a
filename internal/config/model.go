// internal/config/model.go
//
// Typed configuration model for reroute.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                          – dotenv values,
//   • `conf/reroute.yaml`                      – primary static file,
//   • `REROUTE_`-prefixed environment overrides – highest precedence.
//
// The database password may be a `vault:` URI; the loader resolves it
// through the Vault client before the model is cached, so the model never
// stores Vault URIs—only plain strings.
//
// Validation happens immediately after unmarshal; the app fails fast if
// required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`—Koanf ignores `yaml` tags
//     unless configured otherwise.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.
//   • Oxford commas, two spaces after periods.  No em-dash.

package config

import "time"

//
// HTTP section
//

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`
}

//
// Database section
//

// Database holds the DSN template and its secret.
//
// The *template* (`DSN`) is kept in YAML so operators can tweak host, port,
// or flags without touching Vault.  When it contains a `%s` verb the
// resolved `Password` is substituted at load time, keeping credentials out
// of flat files and git history.
type Database struct {
	DSN      string `koanf:"dsn" validate:"required"`
	Password string `koanf:"password"`
}

//
// Redirect section
//

// Redirect mirrors the redirect.settings the dispatcher and checker consume.
type Redirect struct {
	GlobalAdminPaths       bool `koanf:"global_admin_paths"`
	PassthroughQuerystring bool `koanf:"passthrough_querystring"`
	DefaultStatusCode      int  `koanf:"default_status_code" validate:"omitempty,oneof=301 302 303 307 308"`
}

//
// Flood section
//

// Flood tunes the loop guard.  Zero values select the guard's defaults
// (5 events, 15 s window, 60 s retention).
type Flood struct {
	Threshold int           `koanf:"threshold"`
	Window    time.Duration `koanf:"window"`
	Cooldown  time.Duration `koanf:"cooldown"`
}

//
// Routes section
//

// RouteDef declares one named internal route for the resolver table.
type RouteDef struct {
	Name    string `koanf:"name"    validate:"required"`
	Pattern string `koanf:"pattern" validate:"required"`
	Admin   bool   `koanf:"admin"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime—never set in YAML or env.  The loader
// discovers `Root` (repo root or REROUTE_ROOT override) so later code can
// build absolute file paths.
type Paths struct {
	Root string // REROUTE_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	HTTP     HTTP       `koanf:"http"`
	Database Database   `koanf:"database"`
	Redirect Redirect   `koanf:"redirect"`
	Flood    Flood      `koanf:"flood"`
	Routes   []RouteDef `koanf:"routes" validate:"dive"`
	Paths    Paths      `koanf:"-"` // not loaded from config files
}
