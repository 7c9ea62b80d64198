package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCategory indica uso de uma categoria fora da tabela de políticas.
	// É erro de programação/configuração, não condição de runtime do usuário.
	ErrUnknownCategory = errors.New("unknown rate limit category")

	ErrInvalidPolicy = errors.New("invalid rate limit policy")
)

// ConfigError carrega a categoria desconhecida. errors.Is(err, ErrUnknownCategory) é true.
type ConfigError struct {
	Category Category
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownCategory, string(e.Category))
}

func (e *ConfigError) Unwrap() error { return ErrUnknownCategory }

func IsConfigError(err error) bool {
	return errors.Is(err, ErrUnknownCategory)
}
