package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/internal/logger"
	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"go.uber.org/zap"
)

func main() {
	// Exemplo: injetando o middleware diretamente no seu webserver (sem proxy)
	log, err := logger.New("info", "console")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctl, err := application.NewController(domain.DefaultPolicies(), application.WithLogger(log))
	if err != nil {
		log.Fatal("controller", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctl.Start(ctx)
	defer ctl.Stop()

	stats := infra.NewMemoryStatsStore()
	keyFn := ratelimit.DefaultKeyFunc("X-Api-Key", true) // ou header vazio para usar IP

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("logged in\n"))
	})
	mux.HandleFunc("POST /checkout", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("order placed\n"))
	})
	// quota restante do chamador em cada categoria (consultivo)
	mux.HandleFunc("GET /quota", func(w http.ResponseWriter, r *http.Request) {
		key := keyFn(r)
		out := make(map[domain.Category]int)
		for cat := range ctl.Categories() {
			n, err := ctl.RemainingQuota(key, cat)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			out[cat] = n
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats.ByCategory())
	})

	h := ratelimit.Middleware(ratelimit.Options{
		Admitter: ctl,
		Stats:    stats,
		Logger:   log,
		KeyFn:    keyFn,
		CategoryFn: ratelimit.PrefixCategoryFunc(map[string]domain.Category{
			"/login":    domain.CategoryAuth,
			"/checkout": domain.CategoryAction,
		}, domain.CategoryDefault),
		AddRateLimitHeaders: true,
	})(mux)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("example server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", zap.Error(err))
	}
}
