package infra

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func TestWindowStore_HitCreatesThenIncrements(t *testing.T) {
	s := NewWindowStore()
	k := domain.Key{Category: "auth", Identifier: "1.2.3.4"}

	count, resetAt := s.Hit(k, time.Minute, t0)
	if count != 1 {
		t.Fatalf("expected count=1 on first hit, got %d", count)
	}
	if !resetAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("expected resetAt=%s, got %s", t0.Add(time.Minute), resetAt)
	}

	count, resetAt2 := s.Hit(k, time.Minute, t0.Add(10*time.Second))
	if count != 2 {
		t.Fatalf("expected count=2 on second hit, got %d", count)
	}
	if !resetAt2.Equal(resetAt) {
		t.Fatalf("expected window end unchanged, got %s", resetAt2)
	}
}

func TestWindowStore_HitResetsExpiredWindow(t *testing.T) {
	s := NewWindowStore()
	k := domain.Key{Category: "auth", Identifier: "k"}

	s.Hit(k, time.Minute, t0)
	s.Hit(k, time.Minute, t0)

	// exatamente em resetAt a janela já acabou
	count, resetAt := s.Hit(k, time.Minute, t0.Add(time.Minute))
	if count != 1 {
		t.Fatalf("expected count reset to 1, got %d", count)
	}
	if !resetAt.Equal(t0.Add(2 * time.Minute)) {
		t.Fatalf("expected fresh window end, got %s", resetAt)
	}
}

func TestWindowStore_PeekDoesNotMutate(t *testing.T) {
	s := NewWindowStore()
	k := domain.Key{Category: "default", Identifier: "k"}

	if _, _, ok := s.Peek(k, t0); ok {
		t.Fatalf("expected no window before first hit")
	}
	if s.Len() != 0 {
		t.Fatalf("expected Peek not to create entries, got %d", s.Len())
	}

	s.Hit(k, time.Minute, t0)
	for i := 0; i < 3; i++ {
		count, _, ok := s.Peek(k, t0)
		if !ok || count != 1 {
			t.Fatalf("expected count=1 ok=true, got count=%d ok=%v", count, ok)
		}
	}

	if _, _, ok := s.Peek(k, t0.Add(time.Minute)); ok {
		t.Fatalf("expected expired window to read as absent")
	}
}

func TestWindowStore_KeysWithColonsDoNotCollide(t *testing.T) {
	s := NewWindowStore()
	a := domain.Key{Category: "a:b", Identifier: "c"}
	b := domain.Key{Category: "a", Identifier: "b:c"}

	s.Hit(a, time.Minute, t0)
	s.Hit(a, time.Minute, t0)

	count, _ := s.Hit(b, time.Minute, t0)
	if count != 1 {
		t.Fatalf("expected independent counter for %v, got %d", b, count)
	}
}

func TestWindowStore_SweepRemovesOnlyExpired(t *testing.T) {
	s := NewWindowStore(WithShards(4))

	for i := 0; i < 10; i++ {
		s.Hit(domain.Key{Category: "short", Identifier: strconv.Itoa(i)}, time.Second, t0)
	}
	for i := 0; i < 5; i++ {
		s.Hit(domain.Key{Category: "long", Identifier: strconv.Itoa(i)}, time.Hour, t0)
	}

	if got := s.Sweep(t0); got != 0 {
		t.Fatalf("expected nothing swept before expiry, got %d", got)
	}
	if got := s.Sweep(t0.Add(time.Second)); got != 10 {
		t.Fatalf("expected 10 swept, got %d", got)
	}
	if got := s.Len(); got != 5 {
		t.Fatalf("expected 5 remaining, got %d", got)
	}
	// idempotente
	if got := s.Sweep(t0.Add(time.Second)); got != 0 {
		t.Fatalf("expected second sweep to remove nothing, got %d", got)
	}
}

func TestWindowStore_ShardsRoundedToPowerOfTwo(t *testing.T) {
	cases := map[int]int{0: 1, 1: 1, 3: 4, 64: 64, 100: 128}
	for in, want := range cases {
		if got := NewWindowStore(WithShards(in)).Shards(); got != want {
			t.Fatalf("WithShards(%d): expected %d shards, got %d", in, want, got)
		}
	}
}

func TestWindowStore_ConcurrentHitsOnSameKeyAreNotLost(t *testing.T) {
	s := NewWindowStore()
	k := domain.Key{Category: "auth", Identifier: "hot"}

	const workers = 50
	const perWorker = 200

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				s.Hit(k, time.Hour, t0)
			}
		}()
	}
	wg.Wait()

	count, _, ok := s.Peek(k, t0)
	if !ok || count != workers*perWorker {
		t.Fatalf("expected count=%d, got %d (ok=%v)", workers*perWorker, count, ok)
	}
}
