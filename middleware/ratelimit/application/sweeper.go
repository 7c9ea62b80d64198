package application

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweep executa uma passada de limpeza: remove janelas expiradas agora.
// Retorna quantas foram removidas. Pode ser chamada a qualquer momento.
func (c *Controller) Sweep() int {
	start := time.Now()
	removed := c.store.Sweep(c.clock.Now())
	took := time.Since(start)

	c.metrics.ObserveSweep(removed, took)
	c.log.Debug("rate limit sweep",
		zap.Int("removed", removed),
		zap.Int("remaining", c.store.Len()),
		zap.Duration("took", took),
	)
	return removed
}

// Start inicia o loop de limpeza periódica em uma goroutine.
//
// Só um loop fica ativo por Controller: enquanto ele roda, novas chamadas
// retornam false sem criar outro. O loop termina quando ctx encerra ou Stop é
// chamado; depois disso Start pode ser chamado de novo.
func (c *Controller) Start(ctx context.Context) bool {
	if c.sweepEvery <= 0 {
		return false
	}

	c.janitorMu.Lock()
	defer c.janitorMu.Unlock()

	if c.done != nil {
		select {
		case <-c.done:
		default:
			return false
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	c.stop, c.done = stop, done

	t := time.NewTicker(c.sweepEvery)
	go func() {
		defer close(done)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-t.C:
				c.Sweep()
			}
		}
	}()

	c.log.Info("rate limit sweeper started", zap.Duration("interval", c.sweepEvery))
	return true
}

// Stop encerra o loop de limpeza (se houver) e espera a goroutine sair.
func (c *Controller) Stop() {
	c.janitorMu.Lock()
	stop, done := c.stop, c.done
	c.stop = nil
	c.janitorMu.Unlock()

	if stop == nil {
		if done != nil {
			<-done
		}
		return
	}
	close(stop)
	<-done
}

// Running diz se há um loop de limpeza ativo.
func (c *Controller) Running() bool {
	c.janitorMu.Lock()
	defer c.janitorMu.Unlock()
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}
