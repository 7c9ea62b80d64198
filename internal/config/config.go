// Package config centraliza o carregamento de configurações do gateway:
// flags/variáveis de ambiente (kong + .env) e o arquivo YAML de políticas.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// Config é o conjunto de opções do binário gateway. Cada campo aceita flag
// ou variável de ambiente.
type Config struct {
	ListenAddr  string `name:"listen-addr" env:"LISTEN_ADDR" default:":8080" help:"Address the gateway listens on."`
	UpstreamURL string `name:"upstream-url" env:"UPSTREAM_URL" help:"Upstream base URL requests are proxied to."`
	MetricsAddr string `name:"metrics-addr" env:"METRICS_ADDR" default:"" help:"Address for the Prometheus /metrics endpoint (empty disables it)."`

	LogLevel  string `name:"log-level" env:"LOG_LEVEL" default:"info" help:"Log level (debug, info, warn, error)."`
	LogFormat string `name:"log-format" env:"LOG_FORMAT" default:"json" enum:"json,console" help:"Log format."`

	RateEnabled     bool              `name:"rate-enabled" env:"RATE_ENABLED" default:"true" negatable:"" help:"Enable admission control."`
	PolicyFile      string            `name:"rate-policy-file" env:"RATE_POLICY_FILE" help:"YAML file with category policies (merged over the built-in table)."`
	RouteCategories map[string]string `name:"rate-route-categories" env:"RATE_ROUTE_CATEGORIES" mapsep:"," help:"Path prefix to category mapping, e.g. /login=auth,/checkout=action."`
	DefaultCategory string            `name:"rate-default-category" env:"RATE_DEFAULT_CATEGORY" default:"default" help:"Category for paths without a prefix match."`
	SweepInterval   time.Duration     `name:"rate-sweep-interval" env:"RATE_SWEEP_INTERVAL" default:"1m" help:"Interval between sweeps of expired windows."`
	Shards          int               `name:"rate-shards" env:"RATE_SHARDS" default:"64" help:"Number of lock shards in the window store."`
	KeyHeader       string            `name:"rate-key-header" env:"RATE_KEY_HEADER" help:"Header used as client identifier before falling back to the IP."`
	TrustXFF        bool              `name:"trust-xff" env:"TRUST_XFF" help:"Use the first X-Forwarded-For address as client identifier."`
	AddHeaders      bool              `name:"add-ratelimit-headers" env:"ADD_RATELIMIT_HEADERS" help:"Expose X-RateLimit-* headers."`

	StatsEnabled       bool          `name:"rate-stats-enabled" env:"RATE_STATS_ENABLED" help:"Ship allow/deny counters to Redis."`
	StatsRedisAddr     string        `name:"rate-stats-redis-addr" env:"RATE_STATS_REDIS_ADDR" help:"Redis address for stats."`
	StatsRedisPassword string        `name:"rate-stats-redis-password" env:"RATE_STATS_REDIS_PASSWORD" help:"Redis password for stats."`
	StatsRedisDB       int           `name:"rate-stats-redis-db" env:"RATE_STATS_REDIS_DB" default:"0" help:"Redis database for stats."`
	StatsPrefix        string        `name:"rate-stats-prefix" env:"RATE_STATS_PREFIX" default:"ratelimit:stats" help:"Redis key prefix for stats."`
	StatsTTL           time.Duration `name:"rate-stats-ttl" env:"RATE_STATS_TTL" default:"24h" help:"TTL of per-minute and per-key stats."`
	StatsBucket        string        `name:"rate-stats-bucket" env:"RATE_STATS_BUCKET" default:"minute" enum:"minute,none" help:"Time bucketing for stats."`
	StatsTrackKeys     bool          `name:"rate-stats-track-keys" env:"RATE_STATS_TRACK_KEYS" help:"Keep per-identifier stats (high cardinality)."`
}

// Parse carrega o .env (se existir) e interpreta args + ambiente.
func Parse(args []string, envFiles ...string) (Config, error) {
	if err := loadDotEnv(envFiles...); err != nil {
		return Config{}, err
	}

	var cfg Config
	parser, err := kong.New(&cfg,
		kong.Name("gateway"),
		kong.Description("Reverse proxy protected by per-category admission control."),
	)
	if err != nil {
		return Config{}, err
	}
	if _, err := parser.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnv não sobrescreve variáveis já definidas; arquivo ausente é ignorado.
func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.UpstreamURL) == "" {
		return errors.New("UPSTREAM_URL is required")
	}
	if _, err := url.Parse(c.UpstreamURL); err != nil {
		return fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}
	if c.StatsEnabled && strings.TrimSpace(c.StatsRedisAddr) == "" {
		return errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	if c.SweepInterval < 0 {
		return errors.New("RATE_SWEEP_INTERVAL must be >= 0")
	}
	if c.Shards <= 0 {
		return errors.New("RATE_SHARDS must be > 0")
	}
	if strings.TrimSpace(c.DefaultCategory) == "" {
		return errors.New("RATE_DEFAULT_CATEGORY must not be empty")
	}
	return nil
}

// Routes converte RouteCategories para o tipo do domínio.
func (c Config) Routes() map[string]domain.Category {
	out := make(map[string]domain.Category, len(c.RouteCategories))
	for prefix, cat := range c.RouteCategories {
		out[strings.TrimSpace(prefix)] = domain.Category(strings.TrimSpace(cat))
	}
	return out
}

// CheckCategories garante que toda categoria referenciada pela configuração
// existe na tabela de políticas. Falha no start em vez de 500 em runtime.
func (c Config) CheckCategories(ps domain.Policies) error {
	if _, ok := ps[domain.Category(c.DefaultCategory)]; !ok {
		return &domain.ConfigError{Category: domain.Category(c.DefaultCategory)}
	}
	for prefix, cat := range c.Routes() {
		if _, ok := ps[cat]; !ok {
			return fmt.Errorf("route %q: %w", prefix, &domain.ConfigError{Category: cat})
		}
	}
	return nil
}
