package domain

// Camada de domínio do controle de admissão.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"fmt"
	"strings"
	"time"
)

// Category é o nome de uma política (ex: "default", "auth").
type Category string

const (
	CategoryDefault Category = "default"
	CategoryAuth    Category = "auth"
	CategoryAction  Category = "action"
)

// Key identifica uma janela: a categoria e o identificador do cliente.
//
// É uma struct (e não "categoria:identificador" concatenado) para que um
// identificador contendo ":" nunca colida com outra combinação.
type Key struct {
	Category   Category
	Identifier string
}

// String é só para logs/estatísticas; não é usada como chave do store.
// Como categorias válidas não têm ":", o primeiro ":" separa as duas partes.
func (k Key) String() string {
	return string(k.Category) + ":" + k.Identifier
}

// Policy define quantas admissões cabem em uma janela.
type Policy struct {
	MaxRequests int
	Window      time.Duration
}

func (p Policy) Validate() error {
	if p.MaxRequests <= 0 {
		return fmt.Errorf("%w: max requests must be > 0, got %d", ErrInvalidPolicy, p.MaxRequests)
	}
	if p.Window <= 0 {
		return fmt.Errorf("%w: window must be > 0, got %s", ErrInvalidPolicy, p.Window)
	}
	return nil
}

// Policies é a tabela de políticas por categoria. Somente leitura após o start.
type Policies map[Category]Policy

// DefaultPolicies retorna a tabela embutida.
func DefaultPolicies() Policies {
	return Policies{
		CategoryDefault: {MaxRequests: 100, Window: 15 * time.Minute},
		CategoryAuth:    {MaxRequests: 20, Window: 15 * time.Minute},
		CategoryAction:  {MaxRequests: 50, Window: 15 * time.Minute},
	}
}

// Validate checa cada política da tabela.
func (ps Policies) Validate() error {
	if len(ps) == 0 {
		return fmt.Errorf("%w: empty policy table", ErrInvalidPolicy)
	}
	for cat, p := range ps {
		if cat == "" {
			return fmt.Errorf("%w: empty category name", ErrInvalidPolicy)
		}
		// "categoria:identificador" (logs, chaves de stats no Redis) só é
		// inequívoco se a categoria não tiver ":".
		if strings.Contains(string(cat), ":") {
			return fmt.Errorf("%w: category %q must not contain ':'", ErrInvalidPolicy, cat)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("category %q: %w", cat, err)
		}
	}
	return nil
}

// Clone devolve uma cópia independente da tabela.
func (ps Policies) Clone() Policies {
	out := make(Policies, len(ps))
	for k, v := range ps {
		out[k] = v
	}
	return out
}

// Decision é o resultado de uma checagem de admissão.
type Decision struct {
	Allowed bool
	// Limit e Remaining alimentam headers informativos (X-RateLimit-*).
	// Remaining é consultivo; nunca deve ser usado como gate.
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}

// Admitter decide a admissão de um identificador em uma categoria.
//
// A implementação concreta fica em application.Controller.
type Admitter interface {
	Decide(identifier string, category Category) (Decision, error)
	RemainingQuota(identifier string, category Category) (int, error)
}
