package application

import (
	"fmt"
	"sync"
	"time"

	"admission-gateway/internal/clock"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"go.uber.org/zap"
)

const defaultSweepInterval = time.Minute

// Controller concentra a regra de admissão por janela fixa.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// Deve ser construído uma vez no start do processo e injetado onde for usado.
type Controller struct {
	policies domain.Policies
	store    *infra.WindowStore
	clock    clock.Clock
	log      *zap.Logger
	metrics  *infra.Metrics

	sweepEvery time.Duration

	// janitor: no máximo um loop ativo por Controller.
	janitorMu sync.Mutex
	stop      chan struct{}
	done      chan struct{}
}

type Option func(*Controller)

func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(ctl *Controller) { ctl.log = l }
}

func WithMetrics(m *infra.Metrics) Option {
	return func(ctl *Controller) { ctl.metrics = m }
}

// WithStore permite compartilhar/inspecionar o store (ex: para o gauge de chaves).
func WithStore(s *infra.WindowStore) Option {
	return func(ctl *Controller) { ctl.store = s }
}

func WithSweepInterval(d time.Duration) Option {
	return func(ctl *Controller) { ctl.sweepEvery = d }
}

// NewController valida a tabela de políticas e cria o controller.
//
// Políticas com MaxRequests <= 0 são rejeitadas aqui: como o primeiro pedido de
// toda janela é sempre admitido, um limite zero nunca negaria nada.
func NewController(policies domain.Policies, opts ...Option) (*Controller, error) {
	if err := policies.Validate(); err != nil {
		return nil, fmt.Errorf("new controller: %w", err)
	}

	c := &Controller{
		policies:   policies.Clone(),
		clock:      clock.System{},
		log:        zap.NewNop(),
		sweepEvery: defaultSweepInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = infra.NewWindowStore()
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.clock == nil {
		c.clock = clock.System{}
	}
	return c, nil
}

// Categories devolve uma cópia da tabela de políticas.
func (c *Controller) Categories() domain.Policies {
	return c.policies.Clone()
}

func (c *Controller) policy(cat domain.Category) (domain.Policy, error) {
	p, ok := c.policies[cat]
	if !ok {
		c.metrics.ObserveConfigError(cat)
		return domain.Policy{}, &domain.ConfigError{Category: cat}
	}
	return p, nil
}

// CheckAdmission registra uma tentativa e diz se ela pode prosseguir.
//
// O pedido que ultrapassa o limite é negado, mas continua contando na janela.
// Categoria desconhecida retorna *domain.ConfigError e não altera o store.
func (c *Controller) CheckAdmission(identifier string, category domain.Category) (bool, error) {
	dec, err := c.Decide(identifier, category)
	if err != nil {
		return false, err
	}
	return dec.Allowed, nil
}

// Decide é CheckAdmission devolvendo também limite, restante e fim da janela,
// todos lidos no mesmo passo atômico do incremento.
func (c *Controller) Decide(identifier string, category domain.Category) (domain.Decision, error) {
	p, err := c.policy(category)
	if err != nil {
		return domain.Decision{}, err
	}

	now := c.clock.Now()
	count, resetAt := c.store.Hit(domain.Key{Category: category, Identifier: identifier}, p.Window, now)

	dec := domain.Decision{
		Allowed:   count <= p.MaxRequests,
		Limit:     p.MaxRequests,
		Remaining: max(0, p.MaxRequests-count),
		ResetAt:   resetAt,
	}
	if !dec.Allowed {
		dec.RetryAfter = retryAfter(resetAt.Sub(now))
	}

	c.metrics.ObserveCheck(category, dec.Allowed)
	return dec, nil
}

// RemainingQuota é uma leitura pura e consultiva: pode divergir de um
// CheckAdmission concorrente na mesma chave. Use só para telemetria.
func (c *Controller) RemainingQuota(identifier string, category domain.Category) (int, error) {
	p, err := c.policy(category)
	if err != nil {
		return 0, err
	}

	count, _, ok := c.store.Peek(domain.Key{Category: category, Identifier: identifier}, c.clock.Now())
	if !ok {
		return p.MaxRequests, nil
	}
	return max(0, p.MaxRequests-count), nil
}

// retryAfter arredonda para cima em segundos inteiros (Retry-After não tem fração).
func retryAfter(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}
