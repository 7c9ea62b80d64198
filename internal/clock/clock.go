// Package clock abstrai a leitura de tempo para permitir testes determinísticos.
package clock

import (
	"sync"
	"time"
)

// Clock fornece o instante atual.
type Clock interface {
	Now() time.Time
}

// System usa o relógio de parede (time.Now).
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Manual é um relógio controlado manualmente, pensado para testes.
// Seguro para uso concorrente.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance move o relógio para frente em d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set posiciona o relógio em t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
