// Package app builds the long-lived services from configuration and owns
// their lifecycle. It is the only place that knows which backend implements
// each port.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/payparse/internal/api"
	"github.com/JakeFAU/payparse/internal/browser"
	"github.com/JakeFAU/payparse/internal/cache"
	"github.com/JakeFAU/payparse/internal/clock/system"
	"github.com/JakeFAU/payparse/internal/config"
	"github.com/JakeFAU/payparse/internal/extract"
	"github.com/JakeFAU/payparse/internal/id/uuid"
	"github.com/JakeFAU/payparse/internal/metrics"
	"github.com/JakeFAU/payparse/internal/normalize"
	"github.com/JakeFAU/payparse/internal/parser"
	"github.com/JakeFAU/payparse/internal/payment"
	"github.com/JakeFAU/payparse/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/payparse/internal/publisher/pubsub"
	"github.com/JakeFAU/payparse/internal/render"
	"github.com/JakeFAU/payparse/internal/storage/gcs"
	"github.com/JakeFAU/payparse/internal/storage/local"
	"github.com/JakeFAU/payparse/internal/storage/memory"
	"github.com/JakeFAU/payparse/internal/storage/postgres"
	"github.com/JakeFAU/payparse/internal/validator"
)

// limiterJanitorInterval is how often idle in-memory rate windows are dropped.
const limiterJanitorInterval = time.Minute

// App holds every service the commands need.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	browser    *browser.Manager
	cache      *cache.Memory
	limiter    payment.RateLimiter
	memLimiter *ratelimit.Limiter
	service    *parser.Service
	server     *api.Server

	// closers release optional backends in reverse order of creation.
	closers []func(context.Context) error
}

// New wires the application from cfg. Nothing here launches Chrome; the
// browser starts on the first render.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	if err := a.build(ctx); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			logger.Warn("cleanup after failed start", zap.Error(cerr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	clk := system.New()

	norm, err := normalize.New(normalize.Config{
		SupportedCurrencies: cfg.Currency.Supported,
		Symbols:             cfg.Currency.Symbols,
	})
	if err != nil {
		return fmt.Errorf("init normalizer: %w", err)
	}
	ext, err := extract.New(extract.Config{
		Selectors:    cfg.Extract.Selectors,
		Patterns:     cfg.Extract.Patterns,
		PlausibleMax: cfg.Extract.PlausibleMax,
	}, norm.Symbols(), a.logger)
	if err != nil {
		return fmt.Errorf("init extractor: %w", err)
	}

	a.browser, err = browser.New(browser.Config{
		ExecPath:     cfg.Browser.ExecPath,
		Headless:     cfg.Browser.Headless,
		NoSandbox:    cfg.Browser.NoSandbox,
		UserAgent:    cfg.Browser.UserAgent,
		WindowWidth:  cfg.Browser.WindowWidth,
		WindowHeight: cfg.Browser.WindowHeight,
		MaxPages:     cfg.Browser.MaxPages,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("init browser: %w", err)
	}
	a.closers = append(a.closers, a.browser.Shutdown)

	renderer, err := render.New(render.Config{
		NavTimeout:     cfg.NavTimeout(),
		Settle:         cfg.Settle(),
		Fast:           cfg.Render.Fast,
		BlockedTypes:   cfg.Render.BlockResourceTypes,
		AcceptLanguage: cfg.Render.AcceptLanguage,
		UserAgent:      a.browser.UserAgent(),
		DomainQPS:      cfg.Render.DomainQPS,
	}, a.browser, a.logger)
	if err != nil {
		return fmt.Errorf("init renderer: %w", err)
	}

	a.cache = cache.New(cache.Config{
		TTL:           cfg.CacheTTL(),
		MaxEntries:    cfg.Cache.MaxEntries,
		SweepInterval: cfg.CacheSweep(),
	}, clk, a.logger)

	if err := a.buildLimiter(ctx, clk); err != nil {
		return err
	}

	guard := validator.New(validator.Config{
		AllowedDomains: cfg.Validator.AllowedDomains,
		MaxURLLength:   cfg.Validator.MaxURLLength,
	})
	a.logger.Info("pipeline configured",
		zap.Int("allowed_domains", guard.AllowedDomainCount()),
		zap.Int("strategies", len(ext.Strategies())),
		zap.Bool("cache_failures", cfg.Cache.CacheFailures),
	)

	deps := parser.Deps{
		Validator:  guard,
		Cache:      a.cache,
		Renderer:   renderer,
		Extractor:  ext,
		Normalizer: norm,
		Clock:      clk,
		IDs:        uuid.New(),
	}
	if deps.Snapshots, err = a.buildSnapshots(ctx); err != nil {
		return err
	}
	if deps.History, err = a.buildHistory(ctx); err != nil {
		return err
	}
	if deps.Publisher, err = a.buildPublisher(ctx); err != nil {
		return err
	}

	a.service, err = parser.New(parser.Config{
		RenderTimeout:  cfg.NavTimeout() + cfg.Settle() + 10*time.Second,
		CacheFailures:  cfg.Cache.CacheFailures,
		SnapshotPrefix: cfg.Snapshot.Prefix,
		Topic:          cfg.PubSub.TopicName,
	}, deps, a.logger)
	if err != nil {
		return fmt.Errorf("init parser: %w", err)
	}
	// Side outputs may still be writing to the backends closed after this.
	a.closers = append(a.closers, a.service.Close)

	a.server, err = api.NewServer(cfg, api.Deps{
		Parser:  a.service,
		Cache:   a.cache,
		Limiter: a.limiter,
		Browser: a.browser,
		Clock:   clk,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("init api: %w", err)
	}
	return nil
}

func (a *App) buildLimiter(ctx context.Context, clk payment.Clock) error {
	rlCfg := ratelimit.Config{
		Window:      a.cfg.RateWindow(),
		MaxRequests: a.cfg.RateLimit.MaxRequests,
	}
	if a.cfg.RateLimit.Backend != config.BackendRedis {
		a.memLimiter = ratelimit.New(rlCfg, clk, a.logger)
		a.limiter = a.memLimiter
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("connect redis %s: %w", a.cfg.Redis.Addr, err)
	}
	a.logger.Info("using redis rate limiter", zap.String("addr", a.cfg.Redis.Addr))
	a.limiter = ratelimit.NewRedis(rdb, rlCfg, a.cfg.Redis.Prefix)
	return nil
}

func (a *App) buildSnapshots(ctx context.Context) (payment.BlobStore, error) {
	switch a.cfg.Snapshot.Backend {
	case config.BackendMemory:
		return memory.NewBlobStore(), nil
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Snapshot.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local snapshots: %w", err)
		}
		a.logger.Info("writing snapshots to disk", zap.String("dir", a.cfg.Snapshot.BaseDir))
		return store, nil
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Snapshot.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs snapshots: %w", err)
		}
		a.logger.Info("writing snapshots to gcs", zap.String("bucket", a.cfg.Snapshot.GCSBucket))
		return store, nil
	default:
		return nil, nil
	}
}

func (a *App) buildHistory(ctx context.Context) (payment.ResultStore, error) {
	if a.cfg.DB.DSN == "" {
		return nil, nil
	}
	store, err := postgres.New(ctx, postgres.Config{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("init result history: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		store.Close()
		return nil
	})
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure result history schema: %w", err)
	}
	a.logger.Info("recording result history", zap.String("table", a.cfg.DB.Table))
	return store, nil
}

func (a *App) buildPublisher(ctx context.Context) (payment.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	pub, err := pubsubpublisher.New(client)
	if err != nil {
		return nil, fmt.Errorf("init publisher: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		pub.Stop()
		return nil
	})
	a.logger.Info("publishing results", zap.String("topic", a.cfg.PubSub.TopicName))
	return pub, nil
}

// Handler is the HTTP handler for the service.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Parse runs one pipeline pass without the HTTP layer.
func (a *App) Parse(ctx context.Context, rawURL string) (parser.Outcome, error) {
	out, err := a.service.Parse(ctx, rawURL)
	if err != nil {
		return parser.Outcome{}, fmt.Errorf("parse: %w", err)
	}
	return out, nil
}

// Run listens on the configured port and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	addr := net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server and background janitors on ln until ctx is
// done, then drains in-flight requests.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.cache.RunJanitor(ctx)
	if a.memLimiter != nil {
		go a.memLimiter.RunJanitor(ctx, limiterJanitorInterval)
	}

	srv := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutdown initiated")
	shutdownCtx, stop := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// Close releases every backend. It is safe to call on a partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close services: %w", err)
	}
	return nil
}
