package ratelimit

import (
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type KeyFunc func(r *http.Request) string

// CategoryFunc escolhe a categoria de política para a requisição.
type CategoryFunc func(r *http.Request) domain.Category

type Options struct {
	Admitter            domain.Admitter
	Stats               domain.StatsStore
	Logger              *zap.Logger
	KeyFn               KeyFunc
	CategoryFn          CategoryFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	RejectStatus        int
	AddRateLimitHeaders bool
	// DenyLogEvery limita o log de negações a no máximo um a cada intervalo.
	DenyLogEvery time.Duration
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// StaticCategory usa sempre a mesma categoria.
func StaticCategory(cat domain.Category) CategoryFunc {
	return func(*http.Request) domain.Category { return cat }
}

// PrefixCategoryFunc mapeia prefixos de path para categorias; o prefixo mais
// longo vence. Sem match, usa fallback.
func PrefixCategoryFunc(routes map[string]domain.Category, fallback domain.Category) CategoryFunc {
	type route struct {
		prefix string
		cat    domain.Category
	}
	sorted := make([]route, 0, len(routes))
	for p, c := range routes {
		sorted = append(sorted, route{prefix: p, cat: c})
	}
	slices.SortFunc(sorted, func(a, b route) int { return len(b.prefix) - len(a.prefix) })

	return func(r *http.Request) domain.Category {
		for _, rt := range sorted {
			if strings.HasPrefix(r.URL.Path, rt.prefix) {
				return rt.cat
			}
		}
		return fallback
	}
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.CategoryFn == nil {
		opts.CategoryFn = StaticCategory(domain.CategoryDefault)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DenyLogEvery == 0 {
		opts.DenyLogEvery = 10 * time.Second
	}
	denyLog := &rate.Sometimes{Interval: opts.DenyLogEvery}

	return func(next http.Handler) http.Handler {
		if opts.Admitter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)
			cat := opts.CategoryFn(r)

			dec, err := opts.Admitter.Decide(key, cat)
			if err != nil {
				// categoria fora da tabela é bug de configuração, não decisão de quota
				opts.Logger.Error("rate limit check failed",
					zap.String("category", string(cat)),
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			if opts.AddRateLimitHeaders {
				h := w.Header()
				h.Set("X-RateLimit-Category", string(cat))
				h.Set("X-RateLimit-Limit", formatInt(dec.Limit))
				h.Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
				h.Set("X-RateLimit-Reset", formatInt64(dec.ResetAt.Unix()))
			}

			if opts.Stats != nil {
				ev := domain.StatsEvent{
					Key:     domain.Key{Category: cat, Identifier: key},
					Allowed: dec.Allowed,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      time.Now(),
				}
				if err := opts.Stats.Record(r.Context(), ev); err != nil {
					opts.Logger.Debug("rate limit stats record failed", zap.Error(err))
				}
			}

			if !dec.Allowed {
				denyLog.Do(func() {
					opts.Logger.Warn("rate limit exceeded",
						zap.String("key", key),
						zap.String("category", string(cat)),
						zap.String("path", r.URL.Path),
						zap.Duration("retry_after", dec.RetryAfter),
					)
				})
				w.Header().Set("Retry-After", formatInt(int(dec.RetryAfter.Seconds())))
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
