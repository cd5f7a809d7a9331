package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mixaill76/gemini_gateway/internal/auth"
	"github.com/mixaill76/gemini_gateway/internal/cache"
	"github.com/mixaill76/gemini_gateway/internal/config"
	"github.com/mixaill76/gemini_gateway/internal/httputil"
	"github.com/mixaill76/gemini_gateway/internal/keypool"
	"github.com/mixaill76/gemini_gateway/internal/logger"
	"github.com/mixaill76/gemini_gateway/internal/models"
	"github.com/mixaill76/gemini_gateway/internal/monitoring"
	"github.com/mixaill76/gemini_gateway/internal/orchestrator"
	"github.com/mixaill76/gemini_gateway/internal/proxy"
	"github.com/mixaill76/gemini_gateway/internal/ratelimit"
	"github.com/mixaill76/gemini_gateway/internal/router"
	"github.com/mixaill76/gemini_gateway/internal/scheduler"
	"github.com/mixaill76/gemini_gateway/internal/snapshot"
	"github.com/mixaill76/gemini_gateway/internal/upstream"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.LoggingLevel, cfg.Server.LoggingFormat)
	config.PrintConfig(log, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Gateway stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("Server shutdown complete")
}

// credentials converts the configured credentials into pool entries.
func credentials(cfg *config.Config) []keypool.Credential {
	out := make([]keypool.Credential, 0, len(cfg.Credentials))
	for _, c := range cfg.Credentials {
		kind := keypool.KindAPIKey
		if c.APIKey == "" && c.ServiceAccountJSON != "" {
			kind = keypool.KindServiceAccount
		}
		out = append(out, keypool.Credential{
			Name:               c.Name,
			Kind:               kind,
			APIKey:             c.APIKey,
			ServiceAccountJSON: c.ServiceAccountJSON,
			RPM:                c.RPM,
			RPD:                c.RPD,
		})
	}
	return out
}

func poolConfig(cfg *config.Config) keypool.Config {
	kinds := make([]keypool.FailureKind, 0, len(cfg.Pool.LenientKinds))
	for _, k := range cfg.Pool.LenientKinds {
		kinds = append(kinds, keypool.FailureKind(k))
	}
	return keypool.Config{
		FailureThreshold: cfg.Pool.FailureThreshold,
		LenientThreshold: cfg.Pool.LenientThreshold,
		LenientKinds:     kinds,
		BaseCooldown:     cfg.Pool.BaseCooldown,
		MaxCooldown:      cfg.Pool.MaxCooldown,
	}
}

func engineConfig(cfg *config.Config) proxy.Config {
	return proxy.Config{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		Jitter:            cfg.Retry.Jitter,
		StreamMode:        cfg.Streaming.Mode,
		ChunkSize:         cfg.Streaming.ChunkSize,
		ChunkInterval:     cfg.Streaming.ChunkInterval,
		KeepaliveInterval: cfg.Streaming.KeepaliveInterval,
		DisableSafety:     cfg.Server.DisableSafety,
		SearchModels:      cfg.Models.Search,
	}
}

func limiterConfig(cfg *config.Config) ratelimit.Config {
	return ratelimit.Config{
		MaxConcurrent: cfg.RateLimit.MaxConcurrent,
		GlobalRPM:     cfg.RateLimit.GlobalRPM,
		GlobalRPD:     cfg.RateLimit.GlobalRPD,
		ClientRPM:     cfg.RateLimit.IPRPM,
		ClientRPD:     cfg.RateLimit.IPRPD,
		Shards:        cfg.RateLimit.Shards,
	}
}

// gateway holds the wired components.
type gateway struct {
	pool      *keypool.Pool
	limiter   *ratelimit.Limiter
	responses *cache.Store
	catalogue *models.Manager
	client    upstream.Client
	metrics   *monitoring.Metrics
	handler   http.Handler
}

func build(cfg *config.Config, client upstream.Client, log *slog.Logger) (*gateway, error) {
	pool, err := keypool.New(credentials(cfg), poolConfig(cfg), log)
	if err != nil {
		return nil, fmt.Errorf("failed to build credential pool: %w", err)
	}

	metrics := monitoring.New(cfg.Monitoring.PrometheusEnabled)
	engine := proxy.New(pool, client, engineConfig(cfg), metrics, log)

	catalogue := models.New(engine, models.Config{
		Whitelist: cfg.Models.Whitelist,
		Blocklist: cfg.Models.Blocklist,
		Fallback:  cfg.Models.Fallback,
		Search:    cfg.Models.Search,
		TTL:       cfg.Models.CacheTTL,
	}, log)

	var responses *cache.Store
	if cfg.Cache.IsEnabled() {
		responses, err = cache.New(cfg.Cache.MaxEntries, cfg.Cache.Expiry)
		if err != nil {
			return nil, err
		}
	}

	limiter := ratelimit.New(limiterConfig(cfg))
	access := auth.NewAccess(cfg.Server.Password, cfg.Access.UserAgentWhitelist)
	orch := orchestrator.New(access, limiter, responses, engine, catalogue, orchestrator.Config{
		TailMessages: cfg.Cache.TailMessages,
		MaxBodyBytes: int64(cfg.Server.MaxBodySizeMB) << 20,
	}, metrics, log)

	return &gateway{
		pool:      pool,
		limiter:   limiter,
		responses: responses,
		catalogue: catalogue,
		client:    client,
		metrics:   metrics,
		handler:   router.New(orch, pool, limiter, &cfg.Monitoring, log),
	}, nil
}

// schedule registers the periodic maintenance jobs.
func (g *gateway) schedule(s *scheduler.Scheduler, cfg *config.Config, snaps *snapshot.Manager) error {
	if err := s.Add("pool_tick", scheduler.Every(cfg.Pool.TickInterval), func(context.Context) error {
		g.pool.Tick()
		g.metrics.UpdatePool(g.pool.Status())
		return nil
	}); err != nil {
		return err
	}
	if err := s.Add("sweep", scheduler.Every(cfg.Cache.SweepInterval), func(context.Context) error {
		if g.responses != nil {
			g.responses.Sweep()
			g.metrics.SetCacheEntries(g.responses.Len())
		}
		g.limiter.Sweep()
		return nil
	}); err != nil {
		return err
	}
	if err := s.Add("models_refresh", scheduler.Every(cfg.Models.CacheTTL), g.catalogue.Refresh); err != nil {
		return err
	}
	if snaps != nil {
		if err := s.Add("snapshot", cfg.Snapshot.Interval, snaps.Save); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.Server.Password == "" {
		log.Warn("No password configured, the gateway accepts unauthenticated requests")
	}

	tokens := auth.NewTokenManager(auth.GoogleSourceFactory, log)
	client := upstream.New(upstream.Config{
		BaseURL:       cfg.Server.UpstreamURL,
		Timeout:       cfg.Server.UpstreamTimeout,
		StreamTimeout: cfg.Server.StreamTimeout,
	}, httputil.NewHTTPClient(nil), tokens, log)

	g, err := build(cfg, client, log)
	if err != nil {
		return err
	}

	var snaps *snapshot.Manager
	store, err := snapshot.Open(ctx, cfg.Snapshot, log)
	if err != nil {
		// persistence is optional; serve without it
		log.Error("Snapshot backend unavailable, continuing without persistence", "error", err)
	} else if store != nil {
		var cacheState snapshot.CacheState
		if g.responses != nil {
			cacheState = g.responses
		}
		snaps = snapshot.NewManager(store, g.pool, cacheState, cfg.Snapshot.Timeout, log)
		if err := snaps.Restore(ctx); err != nil {
			log.Warn("Failed to restore snapshot", "error", err)
		}
		defer func() { _ = snaps.Close() }()
	}

	if cfg.Pool.ProbeOnStart {
		res := g.pool.Probe(ctx, upstream.Prober{Client: client}, cfg.Pool.ProbeWorkers)
		log.Info("Startup credential probe finished",
			"checked", res.Checked,
			"disabled", len(res.Disabled),
			"inconclusive", res.Errors,
		)
	}
	if err := g.catalogue.Refresh(ctx); err != nil {
		log.Warn("Initial model list fetch failed, serving fallback", "error", err)
	}
	g.metrics.UpdatePool(g.pool.Status())

	sched := scheduler.New(log)
	if err := g.schedule(sched, cfg, snaps); err != nil {
		return err
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      g.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("Server starting", "addr", server.Addr, "credentials", g.pool.Len())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		sched.Start(gctx)
		<-gctx.Done()
		sched.Stop()
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err = group.Wait()
	if snaps != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), cfg.Snapshot.Timeout)
		if serr := snaps.Save(saveCtx); serr != nil {
			log.Warn("Final snapshot save failed", "error", serr)
		}
		cancel()
	}
	return err
}
