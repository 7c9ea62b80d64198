package infra

import (
	"sync"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/cespare/xxhash/v2"
)

const defaultShards = 64

// WindowStore guarda o estado de janela fixa por chave (categoria + identificador).
//
// O mapa é dividido em shards, cada um com seu próprio mutex: chaves em shards
// diferentes não disputam lock. Toda leitura-modificação-escrita de uma chave
// (checagem de expiração + incremento) acontece sob o lock do seu shard.
//
// O store não lê relógio: o instante é sempre passado pelo chamador.
type WindowStore struct {
	shards []*shard
	mask   uint64
}

type shard struct {
	mu      sync.Mutex
	windows map[domain.Key]*window
}

type window struct {
	count   int
	resetAt time.Time
}

// expired: a janela é [resetAt-dur, resetAt).
func (w *window) expired(now time.Time) bool {
	return !now.Before(w.resetAt)
}

type WindowStoreOption func(*windowStoreConfig)

type windowStoreConfig struct {
	shards int
}

// WithShards define a quantidade de shards (arredondada para potência de 2).
// Com 1 shard o store vira um único lock global.
func WithShards(n int) WindowStoreOption {
	return func(c *windowStoreConfig) { c.shards = n }
}

func NewWindowStore(opts ...WindowStoreOption) *WindowStore {
	cfg := windowStoreConfig{shards: defaultShards}
	for _, opt := range opts {
		opt(&cfg)
	}

	n := 1
	for n < cfg.shards {
		n <<= 1
	}

	s := &WindowStore{
		shards: make([]*shard, n),
		mask:   uint64(n - 1),
	}
	for i := range s.shards {
		s.shards[i] = &shard{windows: make(map[domain.Key]*window)}
	}
	return s
}

func (s *WindowStore) shardFor(key domain.Key) *shard {
	d := xxhash.New()
	_, _ = d.WriteString(string(key.Category))
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(key.Identifier)
	return s.shards[d.Sum64()&s.mask]
}

// Hit registra uma tentativa para key e devolve a contagem pós-incremento e o
// fim da janela corrente. Janela ausente ou expirada é recriada com count=1.
func (s *WindowStore) Hit(key domain.Key, dur time.Duration, now time.Time) (int, time.Time) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.windows[key]
	if !ok || w.expired(now) {
		w = &window{count: 1, resetAt: now.Add(dur)}
		sh.windows[key] = w
		return w.count, w.resetAt
	}

	w.count++
	return w.count, w.resetAt
}

// Peek lê a janela de key sem alterar nada. ok=false se ausente ou expirada.
func (s *WindowStore) Peek(key domain.Key, now time.Time) (count int, resetAt time.Time, ok bool) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, found := sh.windows[key]
	if !found || w.expired(now) {
		return 0, time.Time{}, false
	}
	return w.count, w.resetAt, true
}

// Sweep remove todas as janelas expiradas em now e retorna quantas removeu.
// Trava um shard por vez, então checagens em outros shards seguem livres.
func (s *WindowStore) Sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, w := range sh.windows {
			if w.expired(now) {
				delete(sh.windows, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len retorna o número de janelas fisicamente presentes (inclui expiradas ainda
// não varridas).
func (s *WindowStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.windows)
		sh.mu.Unlock()
	}
	return n
}

func (s *WindowStore) Shards() int { return len(s.shards) }
