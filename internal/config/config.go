package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/lerndmina/Heimdall-sub000/internal/validate"
)

// Config holds every runtime setting of the host. Values come from
// HEIMDALL_* environment variables; CLI flags may override a subset.
type Config struct {
	Home string `env:"HEIMDALL_HOME"`

	// PluginDir and OverrideFile default to locations inside Home.
	PluginDir    string `env:"HEIMDALL_PLUGIN_DIR"`
	OverrideFile string `env:"HEIMDALL_PLUGIN_OVERRIDES"`
	// WatchOverrides reloads all plugins when the override file changes.
	WatchOverrides bool `env:"HEIMDALL_PLUGIN_WATCH_OVERRIDES"`

	// DatabaseDSN selects the document store. Empty means the SQLite file
	// inside Home; a postgres:// URL selects the Postgres backend.
	DatabaseDSN string `env:"HEIMDALL_DATABASE_DSN"`

	HTTPAddr    string `env:"HEIMDALL_HTTP_ADDR" envDefault:"127.0.0.1:3001"`
	GatewayPath string `env:"HEIMDALL_GATEWAY_PATH" envDefault:"/ws"`

	BotOwnerIDs    []string `env:"HEIMDALL_BOT_OWNER_IDS" envSeparator:","`
	AllowedOrigins []string `env:"HEIMDALL_ALLOWED_ORIGINS" envSeparator:","`

	PlatformAPIURL   string `env:"HEIMDALL_PLATFORM_API_URL" envDefault:"https://discord.com/api/v10"`
	PlatformBotToken string `env:"HEIMDALL_PLATFORM_BOT_TOKEN"`
	// SessionSecret enables signed dashboard session tokens as gateway
	// credentials in addition to platform OAuth tokens.
	SessionSecret string `env:"HEIMDALL_SESSION_SECRET"`

	Gateway GatewayConfig
	Cache   CacheConfig
}

// GatewayConfig tunes the live broadcast gateway.
type GatewayConfig struct {
	HeartbeatInterval   time.Duration `env:"HEIMDALL_GATEWAY_HEARTBEAT" envDefault:"30s"`
	RefreshInterval     time.Duration `env:"HEIMDALL_GATEWAY_REFRESH" envDefault:"5m"`
	MaxConnsPerUser     int           `env:"HEIMDALL_GATEWAY_MAX_CONNS_PER_USER" envDefault:"5"`
	AuthAttemptsPerMin  int           `env:"HEIMDALL_GATEWAY_AUTH_PER_MINUTE" envDefault:"10"`
	AuthTimeout         time.Duration `env:"HEIMDALL_GATEWAY_AUTH_TIMEOUT" envDefault:"10s"`
	IdentityCacheTTL    time.Duration `env:"HEIMDALL_GATEWAY_IDENTITY_TTL" envDefault:"1m"`
	BroadcastBufferSize int           `env:"HEIMDALL_GATEWAY_BROADCAST_BUFFER" envDefault:"1024"`
	// TrustedProxies lists peer IPs or CIDRs whose X-Forwarded-For header is
	// believed when rate limiting auth attempts.
	TrustedProxies []string `env:"HEIMDALL_TRUSTED_PROXIES" envSeparator:","`
}

// CacheConfig sizes the in-process expiring key/value store. Size bounds
// the LRU shared by plugins; component expiry markers are kept outside it.
type CacheConfig struct {
	Size int `env:"HEIMDALL_CACHE_SIZE" envDefault:"10000"`
}

// Load parses the environment into a Config and fills path defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Paths returns the data directory layout implied by the config.
func (c Config) Paths() Paths {
	paths := GetPaths(c.Home)
	if c.PluginDir != "" {
		paths.Plugins = ExpandPath(c.PluginDir)
	}
	if c.OverrideFile != "" {
		paths.OverrideFile = ExpandPath(c.OverrideFile)
	}
	return paths
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	if c.Gateway.MaxConnsPerUser <= 0 {
		return fmt.Errorf("config: HEIMDALL_GATEWAY_MAX_CONNS_PER_USER must be positive")
	}
	if c.Gateway.HeartbeatInterval <= 0 || c.Gateway.RefreshInterval <= 0 {
		return fmt.Errorf("config: gateway intervals must be positive")
	}
	if !strings.HasPrefix(c.GatewayPath, "/") {
		return fmt.Errorf("config: gateway path %q must start with /", c.GatewayPath)
	}
	if err := validate.HTTPURL(c.PlatformAPIURL); err != nil {
		return fmt.Errorf("config: HEIMDALL_PLATFORM_API_URL: %w", err)
	}
	for _, origin := range c.AllowedOrigins {
		if err := validate.Origin(origin); err != nil {
			return fmt.Errorf("config: HEIMDALL_ALLOWED_ORIGINS: %w", err)
		}
	}
	for _, proxy := range c.Gateway.TrustedProxies {
		if err := validate.IPOrCIDR(proxy); err != nil {
			return fmt.Errorf("config: HEIMDALL_TRUSTED_PROXIES: %w", err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Home == "" {
		c.Home = DefaultHome()
	}
	c.BotOwnerIDs = trimAll(c.BotOwnerIDs)
	c.AllowedOrigins = trimAll(c.AllowedOrigins)
	c.Gateway.TrustedProxies = trimAll(c.Gateway.TrustedProxies)
}

func trimAll(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
