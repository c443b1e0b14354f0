// Command catalog-warmer runs the prefetch layer as a daemon: it preloads the
// catalog hierarchy at startup and serves cached product queries over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/storefront-prefetch/pkg/account"
	"github.com/Sternrassler/storefront-prefetch/pkg/cache"
	"github.com/Sternrassler/storefront-prefetch/pkg/catalog"
	"github.com/Sternrassler/storefront-prefetch/pkg/logging"
	"github.com/Sternrassler/storefront-prefetch/pkg/metrics"
	"github.com/Sternrassler/storefront-prefetch/pkg/prefetch"
	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// config is read from the environment.
type config struct {
	Port       string `env:"PORT" envDefault:"8080"`
	CatalogURL string `env:"CATALOG_URL,required"`
	UserAgent  string `env:"USER_AGENT" envDefault:"storefront-prefetch/0.1.0"`
	RedisURL   string `env:"REDIS_URL"`
	AccountURL string `env:"ACCOUNT_URL"`
	DecryptURL string `env:"DECRYPT_URL"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty  bool   `env:"LOG_PRETTY" envDefault:"false"`

	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"5m"`
	CacheSize     int           `env:"CACHE_SIZE" envDefault:"4096"`
	Cooldown      time.Duration `env:"COOLDOWN" envDefault:"2s"`
	MinSpacing    time.Duration `env:"MIN_SPACING" envDefault:"300ms"`
	PreloadOnBoot bool          `env:"PRELOAD" envDefault:"true"`
}

func parseConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "catalog-warmer: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := parseConfig()
	if err != nil {
		return err
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	cacheCfg := cache.Config{TTL: cfg.CacheTTL, MaxEntries: cfg.CacheSize}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			opts = &redis.Options{Addr: cfg.RedisURL}
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		cacheCfg.Store = cache.NewRedisStore(redisClient)
		logger.Info().Str("redis", opts.Addr).Msg("Connected to Redis")
	}

	catalogCfg := catalog.DefaultConfig(cfg.CatalogURL)
	catalogCfg.UserAgent = cfg.UserAgent
	catalogClient, err := catalog.New(catalogCfg)
	if err != nil {
		return fmt.Errorf("create catalog client: %w", err)
	}

	svcCfg := prefetch.DefaultConfig()
	svcCfg.Cache = cacheCfg
	svcCfg.Governor.Cooldown = cfg.Cooldown
	svcCfg.Governor.MinSpacing = cfg.MinSpacing

	svc, err := prefetch.New(svcCfg, catalogClient, logger)
	if err != nil {
		return fmt.Errorf("create prefetch service: %w", err)
	}
	defer svc.Close()

	var accounts *account.Service
	if cfg.AccountURL != "" && cfg.DecryptURL != "" {
		accounts, err = newAccountService(cfg, logger)
		if err != nil {
			return err
		}
	}

	if cfg.PreloadOnBoot {
		go func() {
			report, err := svc.Preload(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("Preload aborted")
				return
			}
			logger.Info().
				Int("combinations", report.Combinations).
				Int("submitted", report.Submitted).
				Bool("timed_out", report.TimedOut).
				Dur("duration", report.Duration).
				Msg("Preload sweep finished")
		}()
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newHandler(svc, accounts, redisClient),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("Starting catalog warmer")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newAccountService(cfg config, logger zerolog.Logger) (*account.Service, error) {
	client, err := account.NewClient(account.Config{BaseURL: cfg.AccountURL}, logging.Component(logger, "account-client"))
	if err != nil {
		return nil, fmt.Errorf("create account client: %w", err)
	}
	decrypter, err := account.NewHTTPDecrypter(cfg.DecryptURL, 0)
	if err != nil {
		return nil, fmt.Errorf("create decrypter: %w", err)
	}
	svc, err := account.NewService(client, decrypter, logging.Component(logger, "account"))
	if err != nil {
		return nil, fmt.Errorf("create account service: %w", err)
	}
	return svc, nil
}

func newHandler(svc *prefetch.Service, accounts *account.Service, redisClient *redis.Client) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(redisClient))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /stats", statsHandler(svc))
	mux.HandleFunc("GET /catalog/products", productsHandler(svc))
	mux.HandleFunc("POST /prefetch", prefetchHandler(svc))
	if accounts != nil {
		mux.HandleFunc("GET /account/{user}/cards", cardsHandler(accounts))
		mux.HandleFunc("POST /promotions/eligibility", eligibilityHandler(accounts))
	}
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, fmt.Sprintf("redis unavailable: %v", err), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

func statsHandler(svc *prefetch.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Stats())
	}
}

func productsHandler(svc *prefetch.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := catalog.ParseFilterQuery(r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		result, err := svc.GetOrFetch(ctx, q)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, catalog.ErrRateLimited) {
				status = http.StatusTooManyRequests
			}
			http.Error(w, fmt.Sprintf("catalog request failed: %v", err), status)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func prefetchHandler(svc *prefetch.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := catalog.ParseFilterQuery(r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if r.URL.Query().Get("debounce") != "" {
			delay, err := time.ParseDuration(r.URL.Query().Get("debounce"))
			if err != nil {
				http.Error(w, fmt.Sprintf("parse debounce: %v", err), http.StatusBadRequest)
				return
			}
			svc.PrefetchDebounced(q, delay)
		} else {
			svc.Prefetch(q)
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func cardsHandler(accounts *account.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cards, err := accounts.SavedCards(r.Context(), r.PathValue("user"))
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"cards": cards, "degraded": true})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cards": cards})
	}
}

func eligibilityHandler(accounts *account.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req account.EligibilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
			return
		}

		eligibility, err := accounts.Eligibility(r.Context(), req)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"eligibility": nil, "degraded": true})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"eligibility": eligibility})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
