package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/scotthconner/smartrust-sub001/core/types"
	"github.com/scotthconner/smartrust-sub001/native/notary"
	"github.com/scotthconner/smartrust-sub001/observability/logging"
)

var ErrNilNotary = errors.New("config: notary not supplied")

// Config is the bootstrap configuration an embedding process feeds the
// engines: the global peer whitelist, the role grants to replay,
// administratively paused modules and the audit journal location. Runtime
// changes past bootstrap go through the notary directly.
type Config struct {
	ServiceName   string      `toml:"ServiceName"`
	Environment   string      `toml:"Environment"`
	AuditDataDir  string      `toml:"AuditDataDir"`
	TrustedPeers  []string    `toml:"TrustedPeers"`
	RoleGrants    []RoleGrant `toml:"RoleGrant"`
	PausedModules []string    `toml:"PausedModules"`
}

// RoleGrant is one bootstrap role assignment. The named root key must be held
// by the operator passed to Apply.
type RoleGrant struct {
	Trust   uint64 `toml:"Trust"`
	RootKey uint64 `toml:"RootKey"`
	Role    string `toml:"Role"`
	Actor   string `toml:"Actor"`
	Label   string `toml:"Label"`
}

// Load loads the configuration from the given path, filling defaults for
// anything unset.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) fillDefaults() {
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = "smartrust"
	}
	if c.TrustedPeers == nil {
		c.TrustedPeers = []string{}
	}
	if c.PausedModules == nil {
		c.PausedModules = []string{}
	}
}

// PeerAddresses decodes the configured peer list.
func (c *Config) PeerAddresses() ([]types.Address, error) {
	peers := make([]types.Address, 0, len(c.TrustedPeers))
	for _, raw := range c.TrustedPeers {
		addr, err := types.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted peer %q: %w", raw, err)
		}
		peers = append(peers, addr)
	}
	return peers, nil
}

// Apply replays the bootstrap onto the notary: every trusted peer through the
// owner's peer gate, then every role grant under its named root key. The
// operator must be the notary owner and hold each grant's root key; the first
// rejected entry aborts the replay.
func (c *Config) Apply(operator types.Address, n *notary.Notary) error {
	if n == nil {
		return ErrNilNotary
	}
	peers, err := c.PeerAddresses()
	if err != nil {
		return err
	}
	for _, peer := range peers {
		if err := n.SetPeer(operator, peer, true); err != nil {
			return fmt.Errorf("peer %s: %w", peer.Hex(), err)
		}
	}
	for _, grant := range c.RoleGrants {
		role, err := notary.ParseRole(grant.Role)
		if err != nil {
			return err
		}
		actor, err := types.ParseAddress(grant.Actor)
		if err != nil {
			return fmt.Errorf("role actor %q: %w", grant.Actor, err)
		}
		if err := n.SetRole(operator, types.KeyID(grant.RootKey), types.TrustID(grant.Trust), role, actor, true, grant.Label); err != nil {
			return fmt.Errorf("role grant %s trust %d: %w", grant.Role, grant.Trust, err)
		}
	}
	return nil
}

// Logger initialises process-wide structured logging from the bootstrap
// identity, ready to hand to the engines' SetLogger hooks.
func (c *Config) Logger() *slog.Logger {
	return logging.Setup(c.ServiceName, c.Environment)
}

// Pauses builds a pause view from the configured module list.
func (c *Config) Pauses() *Pauses {
	p := &Pauses{paused: make(map[string]bool, len(c.PausedModules))}
	for _, module := range c.PausedModules {
		if trimmed := strings.TrimSpace(module); trimmed != "" {
			p.paused[trimmed] = true
		}
	}
	return p
}

// Pauses is a static pause view sourced from configuration.
type Pauses struct {
	paused map[string]bool
}

// IsPaused implements the engines' pause view.
func (p *Pauses) IsPaused(module string) bool {
	return p != nil && p.paused[module]
}
