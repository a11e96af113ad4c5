// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Rate limiter and snapshot backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Render    RenderConfig    `mapstructure:"render"`
	Validator ValidatorConfig `mapstructure:"validator"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Currency  CurrencyConfig  `mapstructure:"currency"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	DB        DBConfig        `mapstructure:"db"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int  `mapstructure:"port"`
	RequestTimeoutSeconds int  `mapstructure:"request_timeout_seconds"`
	ShutdownSeconds       int  `mapstructure:"shutdown_seconds"`
	TrustForwardedFor     bool `mapstructure:"trust_forwarded_for"`
}

// AuthConfig guards administrative routes.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BrowserConfig configures the shared Chrome process.
type BrowserConfig struct {
	ExecPath     string `mapstructure:"exec_path"`
	Headless     bool   `mapstructure:"headless"`
	NoSandbox    bool   `mapstructure:"no_sandbox"`
	UserAgent    string `mapstructure:"user_agent"`
	WindowWidth  int    `mapstructure:"window_width"`
	WindowHeight int    `mapstructure:"window_height"`
	MaxPages     int    `mapstructure:"max_pages"`
}

// RenderConfig tunes page navigation.
type RenderConfig struct {
	NavTimeoutSeconds  int      `mapstructure:"nav_timeout_seconds"`
	SettleMs           int      `mapstructure:"settle_ms"`
	Fast               bool     `mapstructure:"fast"`
	BlockResourceTypes []string `mapstructure:"block_resource_types"`
	AcceptLanguage     string   `mapstructure:"accept_language"`
	DomainQPS          float64  `mapstructure:"domain_qps"`
}

// ValidatorConfig holds the SSRF allow-list.
type ValidatorConfig struct {
	AllowedDomains []string `mapstructure:"allowed_domains"`
	MaxURLLength   int      `mapstructure:"max_url_length"`
}

// ExtractConfig holds selectors and pattern templates.
type ExtractConfig struct {
	Selectors    []string `mapstructure:"selectors"`
	Patterns     []string `mapstructure:"patterns"`
	PlausibleMax float64  `mapstructure:"plausible_max"`
}

// CurrencyConfig lists accepted codes and symbol mappings.
type CurrencyConfig struct {
	Supported []string          `mapstructure:"supported"`
	Symbols   map[string]string `mapstructure:"symbols"`
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	TTLSeconds    int  `mapstructure:"ttl_seconds"`
	MaxEntries    int  `mapstructure:"max_entries"`
	SweepSeconds  int  `mapstructure:"sweep_seconds"`
	CacheFailures bool `mapstructure:"cache_failures"`
}

// RateLimitConfig controls the per-client fixed window.
type RateLimitConfig struct {
	Backend       string `mapstructure:"backend"`
	WindowMinutes int    `mapstructure:"window_minutes"`
	MaxRequests   int    `mapstructure:"max_requests"`
}

// RedisConfig is used when ratelimit.backend is redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// DBConfig controls the result history store. An empty DSN disables it.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SnapshotConfig selects where failed-page HTML is written.
type SnapshotConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds result notification settings. An empty topic disables them.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAYPARSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToMapHook(),
	))); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_seconds", 15)
	v.SetDefault("server.trust_forwarded_for", false)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 768)
	v.SetDefault("browser.max_pages", 4)
	v.SetDefault("render.nav_timeout_seconds", 30)
	v.SetDefault("render.settle_ms", 3000)
	v.SetDefault("render.fast", false)
	v.SetDefault("render.accept_language", "en-US,en;q=0.9")
	v.SetDefault("render.domain_qps", 2.0)
	v.SetDefault("validator.max_url_length", 2048)
	v.SetDefault("extract.plausible_max", 100000)
	v.SetDefault("cache.ttl_seconds", 300)
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.sweep_seconds", 60)
	v.SetDefault("cache.cache_failures", true)
	v.SetDefault("ratelimit.backend", BackendMemory)
	v.SetDefault("ratelimit.window_minutes", 15)
	v.SetDefault("ratelimit.max_requests", 100)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "payparse:ratelimit")
	v.SetDefault("db.table", "parse_results")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("snapshot.backend", BackendNone)
	v.SetDefault("snapshot.base_dir", "snapshots")
	v.SetDefault("snapshot.prefix", "snapshots")
	v.SetDefault("logging.development", false)

	// Unmarshal only sees env overrides for keys viper already knows.
	for _, key := range []string{
		"auth.api_key",
		"browser.exec_path",
		"browser.user_agent",
		"redis.password",
		"db.dsn",
		"snapshot.gcs_bucket",
		"pubsub.project_id",
		"pubsub.topic_name",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("redis.db", 0)

	// List and map keys stay unset so each package applies its own defaults.
	for _, key := range []string{
		"render.block_resource_types",
		"validator.allowed_domains",
		"extract.selectors",
		"extract.patterns",
		"currency.supported",
		"currency.symbols",
	} {
		_ = v.BindEnv(key)
	}
}

// stringToMapHook decodes "k=v,k=v" env values into string maps, e.g.
// PAYPARSE_CURRENCY_SYMBOLS="kr=SEK,zł=PLN".
func stringToMapHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Map {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		out := make(map[string]string)
		if raw == "" {
			return out, nil
		}
		for _, pair := range strings.Split(raw, ",") {
			key, value, ok := strings.Cut(pair, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return nil, fmt.Errorf("invalid map entry %q", pair)
			}
			out[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
		return out, nil
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return errors.New("server.request_timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if c.Browser.MaxPages < 0 {
		return errors.New("browser.max_pages must be >= 0")
	}
	if c.Render.NavTimeoutSeconds <= 0 {
		return errors.New("render.nav_timeout_seconds must be > 0")
	}
	if c.Render.SettleMs < 0 {
		return errors.New("render.settle_ms must be >= 0")
	}
	if c.Render.DomainQPS < 0 {
		return errors.New("render.domain_qps must be >= 0")
	}
	if c.Cache.TTLSeconds <= 0 {
		return errors.New("cache.ttl_seconds must be > 0")
	}
	if c.Cache.MaxEntries <= 0 {
		return errors.New("cache.max_entries must be > 0")
	}
	if c.RateLimit.WindowMinutes <= 0 {
		return errors.New("ratelimit.window_minutes must be > 0")
	}
	if c.RateLimit.MaxRequests <= 0 {
		return errors.New("ratelimit.max_requests must be > 0")
	}
	switch c.RateLimit.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr must be set when ratelimit.backend is redis")
		}
	default:
		return fmt.Errorf("ratelimit.backend %q must be memory or redis", c.RateLimit.Backend)
	}
	switch c.Snapshot.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Snapshot.BaseDir == "" {
			return errors.New("snapshot.base_dir must be set when snapshot.backend is local")
		}
	case BackendGCS:
		if c.Snapshot.GCSBucket == "" {
			return errors.New("snapshot.gcs_bucket must be set when snapshot.backend is gcs")
		}
	default:
		return fmt.Errorf("snapshot.backend %q must be none, memory, local or gcs", c.Snapshot.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// RequestTimeout is the per-request deadline applied by the HTTP server.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}

// NavTimeout bounds a single page navigation.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Render.NavTimeoutSeconds) * time.Second
}

// Settle is the post-load wait for client-side rendering.
func (c Config) Settle() time.Duration {
	return time.Duration(c.Render.SettleMs) * time.Millisecond
}

// CacheTTL is how long a parse result is served from cache.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// CacheSweep is the janitor interval.
func (c Config) CacheSweep() time.Duration {
	return time.Duration(c.Cache.SweepSeconds) * time.Second
}

// RateWindow is the fixed window length.
func (c Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowMinutes) * time.Minute
}
