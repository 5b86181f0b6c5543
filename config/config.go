// Package config loads the per-role YAML configuration files and builds
// the TLS transport settings they describe. Each process reads one file:
// server.yml, executor.yml or commander.yml, resolved from an explicit
// path, ~/.funtonic/ or /etc/funtonic/.
package config

import (
	"fmt"
	"time"

	"github.com/siderant/funtonic/keys"
	"github.com/siderant/funtonic/meta"
)

// Default config file names.
const (
	ServerFile    = "server.yml"
	ExecutorFile  = "executor.yml"
	CommanderFile = "commander.yml"
)

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in time.Duration notation.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Server configures the task server.
type Server struct {
	// BindAddress is the host:port the gRPC endpoint listens on.
	BindAddress string `yaml:"bind_address"`
	// DataDirectory holds the known-executors database and executor key
	// stores.
	DataDirectory string `yaml:"data_directory"`
	// AuthorizedKeys are commander identities, key id to base64 public
	// key.
	AuthorizedKeys map[string]string `yaml:"authorized_keys"`
	// AdminAuthorizedKeys are elevated identities for admin operations
	// and key-management tasks.
	AdminAuthorizedKeys map[string]string `yaml:"admin_authorized_keys"`
	// TLS enables encrypted transport with mutual authentication when
	// present; without it the socket is plain.
	TLS *TLS `yaml:"tls,omitempty"`
}

// Executor configures the long-lived agent.
type Executor struct {
	ClientID  string              `yaml:"client_id"`
	Tags      map[string]meta.Tag `yaml:"tags"`
	ServerURL string              `yaml:"server_url"`
	// Key signs the handshake and every execution event. Its id must
	// equal ClientID.
	Key keys.Key `yaml:"ed25519_key"`
	// AuthorizedKeys are the commander identities this executor accepts,
	// key id to base64 public key. They are seeded to the server at
	// registration.
	AuthorizedKeys map[string]string `yaml:"authorized_keys"`
	TLS            *TLS              `yaml:"tls,omitempty"`
}

// Commander configures the operator CLI.
type Commander struct {
	ServerURL string   `yaml:"server_url"`
	Key       keys.Key `yaml:"ed25519_key"`
	// SignatureValidity bounds how long a signed request stays
	// acceptable; zero means the 60s default.
	SignatureValidity Duration `yaml:"signature_validity,omitempty"`
	TLS               *TLS     `yaml:"tls,omitempty"`
}

// Validity returns the configured signature validity or the default.
func (c *Commander) Validity() time.Duration {
	if c.SignatureValidity.Duration > 0 {
		return c.SignatureValidity.Duration
	}
	return keys.DefaultValidity
}
