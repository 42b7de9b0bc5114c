package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/psantana5/spotdl-api/pkg/api"
	"github.com/psantana5/spotdl-api/pkg/auth"
	"github.com/psantana5/spotdl-api/pkg/cache"
	"github.com/psantana5/spotdl-api/pkg/cleanup"
	"github.com/psantana5/spotdl-api/pkg/config"
	"github.com/psantana5/spotdl-api/pkg/events"
	"github.com/psantana5/spotdl-api/pkg/executor"
	"github.com/psantana5/spotdl-api/pkg/metrics"
	"github.com/psantana5/spotdl-api/pkg/middleware"
	"github.com/psantana5/spotdl-api/pkg/ratelimit"
	"github.com/psantana5/spotdl-api/pkg/registry"
	"github.com/psantana5/spotdl-api/pkg/retry"
	"github.com/psantana5/spotdl-api/pkg/runner"
	"github.com/psantana5/spotdl-api/pkg/shutdown"
	"github.com/psantana5/spotdl-api/pkg/spotdl"
	"github.com/psantana5/spotdl-api/pkg/staging"
	"github.com/psantana5/spotdl-api/pkg/store"
	tlsutil "github.com/psantana5/spotdl-api/pkg/tls"
	"github.com/psantana5/spotdl-api/pkg/tracing"
)

// app owns every long-lived component of a running server
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	shutdown *shutdown.Manager
	metrics  *metrics.Metrics
	tracer   *tracing.Provider
	exec     *executor.Executor
	janitor  *cleanup.Janitor

	handler    http.Handler
	apiSrv     *http.Server
	metricsSrv *http.Server
}

// newApp builds the server. Shutdown hooks are registered in construction
// order so they run in reverse: HTTP servers first, tracer last.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		shutdown: shutdown.New(cfg.Shutdown.Timeout, logger.Named("shutdown")),
	}

	if err := a.build(ctx); err != nil {
		// release whatever was already registered
		_ = a.shutdown.Shutdown()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg

	tracer, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "spotdl-api",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		a.logger.Warn("tracing disabled", zap.Error(err))
		tracer = tracing.NewNoop()
	}
	a.tracer = tracer
	a.shutdown.Register("tracer", tracer.Shutdown)

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}

	area, err := staging.NewArea(cfg.Storage.Root)
	if err != nil {
		return fmt.Errorf("failed to prepare storage root: %w", err)
	}
	tool := spotdl.New(spotdl.Config{
		Binary:          cfg.Tool.Binary,
		ScratchDir:      cfg.Storage.Scratch,
		Timeout:         cfg.Tool.Timeout,
		PlaylistTimeout: cfg.Tool.PlaylistTimeout,
		MetadataTimeout: cfg.Tool.MetadataTimeout,
	})
	if err := tool.Prepare(); err != nil {
		return err
	}

	index, err := a.openCache(ctx)
	if err != nil {
		return err
	}

	bus := events.NewBus(cfg.Events.Buffer)
	var sinks []events.Sink
	if len(cfg.Events.Kafka.Brokers) > 0 {
		var sink *events.KafkaSink
		err := retry.Do(ctx, a.retryConfig("kafka"), func(context.Context) error {
			var err error
			sink, err = events.NewKafkaSink(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.Topic)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to connect to kafka: %w", err)
		}
		a.shutdown.Register("kafka", shutdown.CloseResource(sink))
		sinks = append(sinks, sink)
		a.logger.Info("publishing job events to kafka",
			zap.Strings("brokers", cfg.Events.Kafka.Brokers),
			zap.String("topic", cfg.Events.Kafka.Topic))
	}

	st := store.NewMemoryStore(store.WithJobsRoot(area.JobsRoot()))
	reg := registry.New()

	a.exec, err = executor.New(executor.Deps{
		Store:    st,
		Cache:    index,
		Registry: reg,
		Area:     area,
		Tool:     tool,
		Runner:   runner.NewExecRunner(),
	},
		executor.WithLogger(a.logger.Named("executor")),
		executor.WithMetrics(a.metrics),
		executor.WithTracer(tracer),
		executor.WithEvents(events.NewDispatcher(bus, a.logger.Named("events"), sinks...)),
	)
	if err != nil {
		return err
	}
	a.shutdown.Register("executor", a.exec.Shutdown)

	keyAuth, err := auth.NewKeyAuth(cfg.Auth.APIKey, cfg.Auth.APIKeyHash, "/", "/health")
	if err != nil {
		return fmt.Errorf("invalid auth settings: %w", err)
	}
	keyAuth.ExemptPrefix(executor.TempDownloadPath)
	if keyAuth.Enabled() {
		a.logger.Info("API key authentication enabled")
	}

	submitMW := func(next http.Handler) http.Handler { return next }
	janitorOpts := []cleanup.Option{
		cleanup.WithLogger(a.logger.Named("janitor")),
		cleanup.WithMetrics(a.metrics),
	}
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		keyFunc := ratelimit.IPKeyFunc
		if cfg.Server.TrustProxy {
			keyFunc = ratelimit.ForwardedKeyFunc
		}
		submitMW = limiter.Middleware(keyFunc)
		janitorOpts = append(janitorOpts, cleanup.WithHook("ratelimit", func(context.Context) (int, error) {
			return limiter.CleanupOldLimiters(cfg.Janitor.MaxAge), nil
		}))
	}

	a.janitor = cleanup.New(cleanup.Config{
		Enabled:  cfg.Janitor.Enabled,
		Interval: cfg.Janitor.Interval,
		MaxAge:   cfg.Janitor.MaxAge,
		CacheTTL: cfg.Cache.TTL,
	}, area, index, janitorOpts...)
	a.shutdown.Register("janitor", func(context.Context) error {
		a.janitor.Stop()
		return nil
	})

	h := api.NewHandler(api.Deps{
		Executor: a.exec,
		Store:    st,
		Cache:    index,
		Registry: reg,
		Area:     area,
		Bus:      bus,
		Janitor:  a.janitor,
	},
		api.WithPublicBaseURL(cfg.Server.PublicBaseURL),
		api.WithTrustedProxy(cfg.Server.TrustProxy),
		api.WithVersion(version),
		api.WithLogger(a.logger.Named("api")),
		api.WithSubmitMiddleware(submitMW),
	)

	r := mux.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(tracing.RouteSpanName)
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.Logging(a.logger.Named("http")))
	r.Use(a.metrics.Middleware)
	r.Use(keyAuth.Middleware)
	h.RegisterRoutes(r)
	a.handler = tracer.WrapHandler(r, "spotdl-api")

	return a.buildServers()
}

func (a *app) openCache(ctx context.Context) (cache.Index, error) {
	cfg := a.cfg.Cache
	if cfg.Backend != "redis" {
		return cache.NewMemoryIndex(cfg.TTL), nil
	}

	var idx *cache.RedisIndex
	err := retry.Do(ctx, a.retryConfig("redis"), func(ctx context.Context) error {
		var err error
		idx, err = cache.NewRedisIndex(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, cfg.TTL)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.shutdown.Register("redis", shutdown.CloseResource(idx))
	a.logger.Info("using redis cache index", zap.String("addr", cfg.Redis.Addr))
	return idx, nil
}

func (a *app) retryConfig(target string) retry.Config {
	rc := retry.DefaultConfig()
	rc.OnRetry = func(attempt int, err error, backoff time.Duration) {
		a.logger.Warn("connection attempt failed",
			zap.String("target", target),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
	}
	return rc
}

func (a *app) buildServers() error {
	cfg := a.cfg

	a.apiSrv = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           a.handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	if cfg.TLS.Enabled {
		tlsCfg, err := tlsutil.ServerConfig(tlsutil.Options{
			CertFile:          cfg.TLS.CertFile,
			KeyFile:           cfg.TLS.KeyFile,
			ClientCAFile:      cfg.TLS.ClientCAFile,
			RequireClientCert: cfg.TLS.RequireClientCert,
			AutoGenerate:      cfg.TLS.AutoGenerate,
			Hosts:             cfg.TLS.Hosts,
		})
		if err != nil {
			return err
		}
		a.apiSrv.TLSConfig = tlsCfg
		a.logger.Info("TLS enabled",
			zap.String("cert", cfg.TLS.CertFile),
			zap.Bool("mtls", cfg.TLS.RequireClientCert))
	}

	if a.metrics != nil {
		mm := http.NewServeMux()
		mm.Handle("/metrics", a.metrics.Handler())
		mm.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"healthy"}`))
		})
		a.metricsSrv = &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.Metrics.Port),
			Handler:           mm,
			ReadHeaderTimeout: 10 * time.Second,
		}
		a.shutdown.Register("metrics server", shutdown.StopHTTPServer(a.metricsSrv))
	}
	a.shutdown.Register("api server", shutdown.StopHTTPServer(a.apiSrv))
	return nil
}

// run serves until ctx is canceled or a server fails, then shuts down
func (a *app) run(ctx context.Context) error {
	a.janitor.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("API server listening",
			zap.String("addr", a.apiSrv.Addr),
			zap.String("version", version))
		return serveHTTP(a.apiSrv)
	})
	if a.metricsSrv != nil {
		g.Go(func() error {
			a.logger.Info("metrics server listening", zap.String("addr", a.metricsSrv.Addr))
			return serveHTTP(a.metricsSrv)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down", zap.Int("in_flight", a.exec.InFlight()))
		return a.shutdown.Shutdown()
	})

	return g.Wait()
}

func serveHTTP(srv *http.Server) error {
	var err error
	if srv.TLSConfig != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("%s: %w", srv.Addr, err)
}
