package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 300*time.Second, cfg.CacheTTL())
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.True(t, cfg.Cache.CacheFailures)
	assert.Equal(t, 15*time.Minute, cfg.RateWindow())
	assert.Equal(t, 100, cfg.RateLimit.MaxRequests)
	assert.Equal(t, BackendMemory, cfg.RateLimit.Backend)
	assert.Equal(t, BackendNone, cfg.Snapshot.Backend)
	assert.Equal(t, 30*time.Second, cfg.NavTimeout())
	assert.Equal(t, 3*time.Second, cfg.Settle())
	assert.True(t, cfg.Browser.Headless)
	assert.Empty(t, cfg.DB.DSN)
	assert.Empty(t, cfg.PubSub.TopicName)
	assert.Nil(t, cfg.Validator.AllowedDomains)
	assert.Nil(t, cfg.Currency.Symbols)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  trust_forwarded_for: true
auth:
  enabled: true
  api_key: secret
browser:
  max_pages: 2
render:
  nav_timeout_seconds: 20
  settle_ms: 500
  block_resource_types: ["image", "font"]
validator:
  allowed_domains: ["pay.openai.com", ".stripe.com"]
extract:
  selectors: [".Total"]
  patterns: ["amount_symbol", "{code}{amount}"]
currency:
  supported: ["USD", "GBP"]
  symbols:
    "£": GBP
cache:
  ttl_seconds: 60
  cache_failures: false
ratelimit:
  backend: redis
  max_requests: 10
redis:
  addr: redis:6379
snapshot:
  backend: local
  base_dir: /tmp/snaps
pubsub:
  project_id: proj
  topic_name: results
logging:
  development: true
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Server.TrustForwardedFor)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "secret", cfg.Auth.APIKey)
	assert.Equal(t, 2, cfg.Browser.MaxPages)
	assert.Equal(t, 20*time.Second, cfg.NavTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.Settle())
	assert.Equal(t, []string{"image", "font"}, cfg.Render.BlockResourceTypes)
	assert.Equal(t, []string{"pay.openai.com", ".stripe.com"}, cfg.Validator.AllowedDomains)
	assert.Equal(t, []string{".Total"}, cfg.Extract.Selectors)
	assert.Equal(t, []string{"amount_symbol", "{code}{amount}"}, cfg.Extract.Patterns)
	assert.Equal(t, []string{"USD", "GBP"}, cfg.Currency.Supported)
	assert.Equal(t, "GBP", cfg.Currency.Symbols["£"])
	assert.Equal(t, time.Minute, cfg.CacheTTL())
	assert.False(t, cfg.Cache.CacheFailures)
	assert.Equal(t, BackendRedis, cfg.RateLimit.Backend)
	assert.Equal(t, 10, cfg.RateLimit.MaxRequests)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, BackendLocal, cfg.Snapshot.Backend)
	assert.Equal(t, "results", cfg.PubSub.TopicName)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PAYPARSE_SERVER_PORT", "8181")
	t.Setenv("PAYPARSE_DB_DSN", "postgres://localhost/payparse")
	t.Setenv("PAYPARSE_CACHE_CACHE_FAILURES", "false")
	t.Setenv("PAYPARSE_VALIDATOR_ALLOWED_DOMAINS", "pay.example.com,.stripe.com")
	t.Setenv("PAYPARSE_EXTRACT_SELECTORS", ".Total")
	t.Setenv("PAYPARSE_CURRENCY_SUPPORTED", "USD,SEK")
	t.Setenv("PAYPARSE_CURRENCY_SYMBOLS", "kr=SEK,zł=PLN")
	t.Setenv("PAYPARSE_RENDER_BLOCK_RESOURCE_TYPES", "image,font")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/payparse", cfg.DB.DSN)
	assert.False(t, cfg.Cache.CacheFailures)
	assert.Equal(t, []string{"pay.example.com", ".stripe.com"}, cfg.Validator.AllowedDomains)
	assert.Equal(t, []string{".Total"}, cfg.Extract.Selectors)
	assert.Equal(t, []string{"USD", "SEK"}, cfg.Currency.Supported)
	assert.Equal(t, map[string]string{"kr": "SEK", "zł": "PLN"}, cfg.Currency.Symbols)
	assert.Equal(t, []string{"image", "font"}, cfg.Render.BlockResourceTypes)
}

func TestLoadEnvOverridesFileLists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("validator:\n  allowed_domains: [\"pay.openai.com\"]\n"), 0o600))
	t.Setenv("PAYPARSE_VALIDATOR_ALLOWED_DOMAINS", "pay.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"pay.example.com"}, cfg.Validator.AllowedDomains)
}

func TestLoadRejectsMalformedSymbolEnv(t *testing.T) {
	t.Setenv("PAYPARSE_CURRENCY_SYMBOLS", "kr")

	_, err := Load("")
	require.ErrorContains(t, err, "unmarshal config")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080, RequestTimeoutSeconds: 60},
		Render:    RenderConfig{NavTimeoutSeconds: 30},
		Cache:     CacheConfig{TTLSeconds: 300, MaxEntries: 1000},
		RateLimit: RateLimitConfig{Backend: BackendMemory, WindowMinutes: 15, MaxRequests: 100},
		Snapshot:  SnapshotConfig{Backend: BackendNone},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid request timeout", func(c *Config) { c.Server.RequestTimeoutSeconds = 0 }, "server.request_timeout_seconds"},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"negative max pages", func(c *Config) { c.Browser.MaxPages = -1 }, "browser.max_pages"},
		{"invalid nav timeout", func(c *Config) { c.Render.NavTimeoutSeconds = 0 }, "render.nav_timeout_seconds"},
		{"negative settle", func(c *Config) { c.Render.SettleMs = -1 }, "render.settle_ms"},
		{"negative qps", func(c *Config) { c.Render.DomainQPS = -1 }, "render.domain_qps"},
		{"invalid ttl", func(c *Config) { c.Cache.TTLSeconds = 0 }, "cache.ttl_seconds"},
		{"invalid capacity", func(c *Config) { c.Cache.MaxEntries = 0 }, "cache.max_entries"},
		{"invalid window", func(c *Config) { c.RateLimit.WindowMinutes = 0 }, "ratelimit.window_minutes"},
		{"invalid max requests", func(c *Config) { c.RateLimit.MaxRequests = 0 }, "ratelimit.max_requests"},
		{"unknown limiter", func(c *Config) { c.RateLimit.Backend = "etcd" }, "ratelimit.backend"},
		{"redis without addr", func(c *Config) { c.RateLimit.Backend = BackendRedis }, "redis.addr"},
		{"unknown snapshot", func(c *Config) { c.Snapshot.Backend = "s3" }, "snapshot.backend"},
		{"local without dir", func(c *Config) { c.Snapshot.Backend = BackendLocal }, "snapshot.base_dir"},
		{"gcs without bucket", func(c *Config) { c.Snapshot.Backend = BackendGCS }, "snapshot.gcs_bucket"},
		{"topic without project", func(c *Config) { c.PubSub.TopicName = "results" }, "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestShutdownTimeoutFallback(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 15*time.Second, Config{}.ShutdownTimeout())
	assert.Equal(t, 5*time.Second, Config{Server: ServerConfig{ShutdownSeconds: 5}}.ShutdownTimeout())
}
