// Package config provides the configuration schema for the Keygate console.
//
// Configuration is file-based (keygate.yaml) with environment overrides.
// Durations are YAML strings ("30s", "5m") parsed at wiring time so a typo
// fails at startup, not mid-session.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for the Keygate console.
type Config struct {
	// Server configures the console HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Backend configures the licensing backend the console talks to.
	// Ignored when Dev.Enabled is true.
	Backend BackendConfig `yaml:"backend" mapstructure:"backend"`

	// Session configures token lifetime handling and persistence.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Dev configures the embedded development backend.
	Dev DevConfig `yaml:"dev" mapstructure:"dev"`

	// Audit configures the auth event trail.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Rules defines optional access rules applied after the capability
	// check. Rules are evaluated in order; first match wins; no match
	// allows.
	Rules []RuleConfig `yaml:"rules" mapstructure:"rules" validate:"omitempty,dive"`
}

// ServerConfig configures the console HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. Dev.Enabled=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// BackendConfig configures the remote licensing backend.
type BackendConfig struct {
	// BaseURL is the backend base URL (e.g., "https://licensing.example.com").
	// Required unless the dev backend is enabled.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`

	// Timeout is the per-request timeout (e.g., "10s").
	// Defaults to "10s" if not specified.
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// SessionConfig configures session lifetime and persistence.
type SessionConfig struct {
	// StorePath is where the session file is written.
	// Defaults to "~/.keygate/session.json".
	StorePath string `yaml:"store_path" mapstructure:"store_path"`

	// TokenTTL is the fallback token lifetime used when the backend does
	// not report an expiry (e.g., "24h"). Defaults to "24h".
	TokenTTL string `yaml:"token_ttl" mapstructure:"token_ttl" validate:"omitempty,duration"`

	// RenewalWindow is how long before expiry the proactive renewal fires
	// (e.g., "5m"). Defaults to "5m".
	RenewalWindow string `yaml:"renewal_window" mapstructure:"renewal_window" validate:"omitempty,duration"`

	// LogoutDelay is how long after a profile update the forced sign-out
	// happens (e.g., "1500ms"). Defaults to "1500ms"; values above 10s
	// are clamped.
	LogoutDelay string `yaml:"logout_delay" mapstructure:"logout_delay" validate:"omitempty,duration"`
}

// DevConfig configures the embedded development backend.
type DevConfig struct {
	// Enabled switches the console onto the in-process dev backend
	// instead of the remote one.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// AccountsFile is an optional YAML file of dev accounts. When empty,
	// built-in admin/viewer accounts are used.
	AccountsFile string `yaml:"accounts_file" mapstructure:"accounts_file"`

	// TokenTTL is the lifetime of tokens the dev backend issues
	// (e.g., "2m"). Short by default so renewal paths get exercised.
	// Defaults to "2m".
	TokenTTL string `yaml:"token_ttl" mapstructure:"token_ttl" validate:"omitempty,duration"`
}

// AuditConfig configures the auth event trail.
type AuditConfig struct {
	// Enabled turns on the JSON Lines trail of auth events (logins,
	// logouts, refreshes, profile updates).
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Dir is where trail files are written.
	// Defaults to "~/.keygate/audit".
	Dir string `yaml:"dir" mapstructure:"dir"`

	// RetentionDays is how many days of trail files to keep.
	// Defaults to 30.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1,max=365"`
}

// RuleConfig defines a single access rule.
type RuleConfig struct {
	// Name is a human-readable identifier for this rule.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// RoutePrefix scopes the rule to paths under this prefix.
	// Empty matches every path.
	RoutePrefix string `yaml:"route_prefix" mapstructure:"route_prefix" validate:"omitempty,startswith=/"`

	// Condition is a CEL expression over the principal and the request
	// (role, capabilities, request_path, request_method, ...).
	Condition string `yaml:"condition" mapstructure:"condition" validate:"required"`

	// Action is what to do when the condition matches: "allow" or "deny".
	Action string `yaml:"action" mapstructure:"action" validate:"required,oneof=allow deny"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only. Network exposure must be explicit.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Backend.Timeout == "" {
		c.Backend.Timeout = "10s"
	}

	if c.Session.StorePath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Session.StorePath = filepath.Join(home, ".keygate", "session.json")
		}
	}
	if c.Session.TokenTTL == "" {
		c.Session.TokenTTL = "24h"
	}
	if c.Session.RenewalWindow == "" {
		c.Session.RenewalWindow = "5m"
	}
	if c.Session.LogoutDelay == "" {
		c.Session.LogoutDelay = "1500ms"
	}

	if c.Dev.TokenTTL == "" {
		c.Dev.TokenTTL = "2m"
	}

	if c.Audit.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Audit.Dir = filepath.Join(home, ".keygate", "audit")
		}
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 30
	}
}

// SetDevDefaults applies permissive defaults for development mode.
// Applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.Dev.Enabled {
		return
	}

	if !viper.IsSet("server.log_level") {
		c.Server.LogLevel = "debug"
	}
}

// Durations returns the parsed duration fields. Call only after Validate,
// which guarantees the strings parse.
func (c *Config) Durations() (backendTimeout, tokenTTL, renewalWindow, logoutDelay, devTokenTTL time.Duration) {
	backendTimeout, _ = time.ParseDuration(c.Backend.Timeout)
	tokenTTL, _ = time.ParseDuration(c.Session.TokenTTL)
	renewalWindow, _ = time.ParseDuration(c.Session.RenewalWindow)
	logoutDelay, _ = time.ParseDuration(c.Session.LogoutDelay)
	devTokenTTL, _ = time.ParseDuration(c.Dev.TokenTTL)
	return
}
