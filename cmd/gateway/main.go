package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/internal/config"
	"admission-gateway/internal/logger"
	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(2)
	}

	os.Exit(finish(log, run(cfg, log)))
}

// finish registra o erro final (se houver), descarrega o logger e devolve o
// código de saída.
func finish(log *zap.Logger, err error) int {
	code := 0
	if err != nil {
		log.Error("gateway stopped with error", zap.Error(err))
		code = 1
	}
	_ = log.Sync()
	return code
}

func run(cfg config.Config, log *zap.Logger) error {
	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}

	policies, err := config.LoadPolicies(cfg.PolicyFile)
	if err != nil {
		return err
	}
	if err := cfg.CheckCategories(policies); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store := infra.NewWindowStore(infra.WithShards(cfg.Shards))
	metrics, err := infra.NewMetrics(reg, store.Len)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ctl, err := application.NewController(policies,
		application.WithStore(store),
		application.WithMetrics(metrics),
		application.WithLogger(log.Named("admission")),
		application.WithSweepInterval(cfg.SweepInterval),
	)
	if err != nil {
		return err
	}

	var statsStore domain.StatsStore
	if cfg.StatsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.StatsRedisAddr,
			Password: cfg.StatsRedisPassword,
			DB:       cfg.StatsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			return fmt.Errorf("redis stats ping: %w", err)
		}

		statsStore = infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.StatsPrefix),
			infra.WithStatsTTL(cfg.StatsTTL),
			infra.WithStatsBucket(cfg.StatsBucket),
			infra.WithStatsTrackKeys(cfg.StatsTrackKeys),
		)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("proxy error", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	h := http.Handler(proxy)
	if cfg.RateEnabled {
		h = ratelimit.Middleware(ratelimit.Options{
			Admitter:            ctl,
			Stats:               statsStore,
			Logger:              log.Named("http"),
			CategoryFn:          ratelimit.PrefixCategoryFunc(cfg.Routes(), domain.Category(cfg.DefaultCategory)),
			KeyHeader:           cfg.KeyHeader,
			TrustXForwardedFor:  cfg.TrustXFF,
			RejectStatus:        http.StatusTooManyRequests,
			AddRateLimitHeaders: cfg.AddHeaders,
		})(h)
	}

	servers := []*http.Server{newServer(cfg.ListenAddr, h)}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		servers = append(servers, newServer(cfg.MetricsAddr, mux))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.RateEnabled {
		ctl.Start(ctx)
		defer ctl.Stop()
	}

	log.Info("gateway listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("upstream", target.String()),
		zap.String("metrics_addr", cfg.MetricsAddr),
	)
	for cat, p := range ctl.Categories() {
		log.Info("rate policy",
			zap.String("category", string(cat)),
			zap.Int("max_requests", p.MaxRequests),
			zap.Duration("window", p.Window),
		)
	}
	log.Info("rate config",
		zap.Bool("enabled", cfg.RateEnabled),
		zap.Any("routes", cfg.RouteCategories),
		zap.String("default_category", cfg.DefaultCategory),
		zap.String("key_header", cfg.KeyHeader),
		zap.Bool("trust_xff", cfg.TrustXFF),
		zap.Bool("stats", cfg.StatsEnabled),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
}
