// Package config handles TOML configuration parsing and validation for the
// callout channel, the reference peer and its notification hooks.
package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration.
type Config struct {
	Log     LogConfig     `toml:"log"`
	Channel ChannelConfig `toml:"channel"`
	Peer    PeerConfig    `toml:"peer"`
	Hooks   HooksConfig   `toml:"hooks"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// ChannelConfig selects the channel objects and call timeouts. Both the
// server-side caller and the peer read it.
type ChannelConfig struct {
	Dir          string `toml:"dir"`
	SharedMemory string `toml:"shared_memory"`
	Lock         string `toml:"lock"`
	SendEvent    string `toml:"send_event"`
	ReplyEvent   string `toml:"reply_event"`
	Timeout      string `toml:"timeout"`
	LockTimeout  string `toml:"lock_timeout"`
}

// PeerConfig holds reference peer settings.
type PeerConfig struct {
	Journal          string             `toml:"journal"`
	JournalRetention string             `toml:"journal_retention"`
	MetricsListen    string             `toml:"metrics_listen"`
	VendorDB         string             `toml:"vendor_db"` // OUI database for rule vendor matching
	Rules            []RuleConfig       `toml:"rule"`
	Script           ScriptPolicyConfig `toml:"script"`
}

// RuleConfig is one match/action rule. All set matchers must match.
type RuleConfig struct {
	Name      string   `toml:"name"`
	Hooks     []string `toml:"hooks"`
	MAC       []string `toml:"mac"`      // MAC prefixes, any separator
	Hostname  string   `toml:"hostname"` // glob
	Vendor    string   `toml:"vendor"`   // glob over the OUI vendor name
	Subnet    string   `toml:"subnet"`   // CIDR containing the envelope address
	Action    string   `toml:"action"`   // proceed, override or reject
	IP        string   `toml:"ip"`
	AltIP     string   `toml:"alt_ip"`
	LeaseTime string   `toml:"lease_time"`
}

// ScriptPolicyConfig configures the script policy, consulted after rules.
type ScriptPolicyConfig struct {
	Enabled bool     `toml:"enabled"`
	Command string   `toml:"command"`
	Timeout string   `toml:"timeout"`
	Hooks   []string `toml:"hooks"`
	// MaxPerSecond and MaxPerClient throttle script runs overall and per
	// client hardware address. Throttled callouts defer to proceed. Zero
	// disables the limit.
	MaxPerSecond int `toml:"max_per_second"`
	MaxPerClient int `toml:"max_per_client"`
}

// HooksConfig holds event bus and notification hook settings.
type HooksConfig struct {
	EventBufferSize   int           `toml:"event_buffer_size"`
	ScriptConcurrency int           `toml:"script_concurrency"`
	ScriptTimeout     string        `toml:"script_timeout"`
	WebhookTimeout    string        `toml:"webhook_timeout"`
	Scripts           []ScriptHook  `toml:"script"`
	Webhooks          []WebhookHook `toml:"webhook"`
}

// ScriptHook defines a notification script.
type ScriptHook struct {
	Name    string   `toml:"name"`
	Events  []string `toml:"events"`
	Command string   `toml:"command"`
	Timeout string   `toml:"timeout"`
}

// WebhookHook defines a notification webhook.
type WebhookHook struct {
	Name         string            `toml:"name"`
	Events       []string          `toml:"events"`
	URL          string            `toml:"url"`
	Method       string            `toml:"method"`
	Headers      map[string]string `toml:"headers"`
	Retries      int               `toml:"retries"`
	RetryBackoff string            `toml:"retry_backoff"`
	Secret       string            `toml:"secret"`
}

// Load reads and parses a TOML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes TOML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration with every default applied,
// for running without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills in default values for unset fields.
func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}

	// Channel defaults
	if cfg.Channel.Dir == "" {
		cfg.Channel.Dir = DefaultChannelDir
	}
	if cfg.Channel.Timeout == "" {
		cfg.Channel.Timeout = DefaultChannelTimeout.String()
	}
	if cfg.Channel.LockTimeout == "" {
		cfg.Channel.LockTimeout = DefaultLockTimeout.String()
	}

	// Peer defaults
	if cfg.Peer.JournalRetention == "" {
		cfg.Peer.JournalRetention = DefaultJournalRetention.String()
	}
	if cfg.Peer.Script.Timeout == "" {
		cfg.Peer.Script.Timeout = DefaultPolicyScriptTimeout.String()
	}
	for i := range cfg.Peer.Rules {
		if cfg.Peer.Rules[i].Action == "" {
			cfg.Peer.Rules[i].Action = ActionProceed
		}
		if cfg.Peer.Rules[i].Name == "" {
			cfg.Peer.Rules[i].Name = fmt.Sprintf("rule-%d", i)
		}
	}

	// Hooks defaults
	if cfg.Hooks.EventBufferSize == 0 {
		cfg.Hooks.EventBufferSize = DefaultEventBufferSize
	}
	if cfg.Hooks.ScriptConcurrency == 0 {
		cfg.Hooks.ScriptConcurrency = DefaultScriptConcurrency
	}
	if cfg.Hooks.ScriptTimeout == "" {
		cfg.Hooks.ScriptTimeout = DefaultScriptTimeout.String()
	}
	if cfg.Hooks.WebhookTimeout == "" {
		cfg.Hooks.WebhookTimeout = DefaultWebhookTimeout.String()
	}
	for i := range cfg.Hooks.Webhooks {
		if cfg.Hooks.Webhooks[i].Method == "" {
			cfg.Hooks.Webhooks[i].Method = "POST"
		}
		if cfg.Hooks.Webhooks[i].Retries == 0 {
			cfg.Hooks.Webhooks[i].Retries = DefaultWebhookRetries
		}
		if cfg.Hooks.Webhooks[i].RetryBackoff == "" {
			cfg.Hooks.Webhooks[i].RetryBackoff = DefaultWebhookRetryBackoff.String()
		}
	}
}

// Rule actions.
const (
	ActionProceed  = "proceed"
	ActionOverride = "override"
	ActionReject   = "reject"
)

var hookNames = map[string]bool{
	"address_offer":  true,
	"address_delete": true,
	"client_delete":  true,
}

// validate checks the configuration for errors.
func validate(cfg *Config) error {
	switch strings.ToLower(cfg.Log.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Log.Level)
	}

	if err := positiveDuration("channel.timeout", cfg.Channel.Timeout); err != nil {
		return err
	}
	if err := positiveDuration("channel.lock_timeout", cfg.Channel.LockTimeout); err != nil {
		return err
	}

	if _, err := time.ParseDuration(cfg.Peer.JournalRetention); err != nil {
		return fmt.Errorf("peer.journal_retention: %w", err)
	}
	if cfg.Peer.MetricsListen != "" {
		if _, _, err := net.SplitHostPort(cfg.Peer.MetricsListen); err != nil {
			return fmt.Errorf("peer.metrics_listen %q: %w", cfg.Peer.MetricsListen, err)
		}
	}

	for i, r := range cfg.Peer.Rules {
		if err := validateRule(r); err != nil {
			return fmt.Errorf("peer.rule[%d] (%s): %w", i, r.Name, err)
		}
		if r.Vendor != "" && cfg.Peer.VendorDB == "" {
			return fmt.Errorf("peer.rule[%d] (%s): vendor matching needs peer.vendor_db", i, r.Name)
		}
	}

	if cfg.Peer.Script.Enabled {
		if cfg.Peer.Script.Command == "" {
			return fmt.Errorf("peer.script.command is required when the script policy is enabled")
		}
		if err := positiveDuration("peer.script.timeout", cfg.Peer.Script.Timeout); err != nil {
			return err
		}
		if err := validateHooks("peer.script.hooks", cfg.Peer.Script.Hooks); err != nil {
			return err
		}
		if cfg.Peer.Script.MaxPerSecond < 0 || cfg.Peer.Script.MaxPerClient < 0 {
			return fmt.Errorf("peer.script max_per_second and max_per_client must not be negative")
		}
	}

	if _, err := time.ParseDuration(cfg.Hooks.ScriptTimeout); err != nil {
		return fmt.Errorf("hooks.script_timeout: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Hooks.WebhookTimeout); err != nil {
		return fmt.Errorf("hooks.webhook_timeout: %w", err)
	}
	for i, s := range cfg.Hooks.Scripts {
		if s.Command == "" {
			return fmt.Errorf("hooks.script[%d]: command is required", i)
		}
		if s.Timeout != "" {
			if _, err := time.ParseDuration(s.Timeout); err != nil {
				return fmt.Errorf("hooks.script[%d].timeout: %w", i, err)
			}
		}
	}
	for i, w := range cfg.Hooks.Webhooks {
		if !strings.HasPrefix(w.URL, "http://") && !strings.HasPrefix(w.URL, "https://") {
			return fmt.Errorf("hooks.webhook[%d]: url %q must be http or https", i, w.URL)
		}
		if _, err := time.ParseDuration(w.RetryBackoff); err != nil {
			return fmt.Errorf("hooks.webhook[%d].retry_backoff: %w", i, err)
		}
	}

	return nil
}

func validateRule(r RuleConfig) error {
	if err := validateHooks("hooks", r.Hooks); err != nil {
		return err
	}
	for _, m := range r.MAC {
		if _, err := ParseMACPrefix(m); err != nil {
			return err
		}
	}
	if r.Subnet != "" {
		if _, _, err := net.ParseCIDR(r.Subnet); err != nil {
			return fmt.Errorf("invalid subnet %q: %w", r.Subnet, err)
		}
	}
	for field, v := range map[string]string{"ip": r.IP, "alt_ip": r.AltIP} {
		if v != "" && net.ParseIP(v).To4() == nil {
			return fmt.Errorf("%s %q is not an IPv4 address", field, v)
		}
	}
	if r.LeaseTime != "" {
		if err := positiveDuration("lease_time", r.LeaseTime); err != nil {
			return err
		}
	}

	switch r.Action {
	case ActionProceed, ActionReject:
	case ActionOverride:
		if r.IP == "" && r.AltIP == "" && r.LeaseTime == "" {
			return fmt.Errorf("override needs at least one of ip, alt_ip or lease_time")
		}
	default:
		return fmt.Errorf("action must be proceed, override or reject, got %q", r.Action)
	}
	return nil
}

func validateHooks(field string, hooks []string) error {
	for _, h := range hooks {
		if !hookNames[h] {
			return fmt.Errorf("%s: unknown hook %q", field, h)
		}
	}
	return nil
}

func positiveDuration(field, s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", field, s)
	}
	return nil
}

// ParseMACPrefix parses a full or partial hardware address written with
// colons, dashes or no separator ("00:1a:2b", "00-1A", "001a2b").
func ParseMACPrefix(s string) (net.HardwareAddr, error) {
	clean := strings.NewReplacer(":", "", "-", "", ".", "").Replace(strings.TrimSpace(s))
	if clean == "" || len(clean)%2 != 0 || len(clean) > 32 {
		return nil, fmt.Errorf("invalid MAC prefix %q", s)
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid MAC prefix %q: %w", s, err)
	}
	return net.HardwareAddr(b), nil
}

// ParseDuration parses a duration string, falling back to def when it is
// empty or invalid. Validation has already rejected bad values in a loaded
// config.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// ChannelTimeout returns the peer completion timeout.
func (cfg *Config) ChannelTimeout() time.Duration {
	return ParseDuration(cfg.Channel.Timeout, DefaultChannelTimeout)
}

// LockTimeout returns the channel lock wait.
func (cfg *Config) LockTimeout() time.Duration {
	return ParseDuration(cfg.Channel.LockTimeout, DefaultLockTimeout)
}

// JournalRetention returns how long journal records are kept. Zero keeps
// them forever.
func (cfg *Config) JournalRetention() time.Duration {
	return ParseDuration(cfg.Peer.JournalRetention, DefaultJournalRetention)
}
