package application

import (
	"context"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// ConcurrencyService concentra a regra de aquisição/liberação de vagas com timeout,
// sem saber nada sobre HTTP.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration

	rejected atomic.Int64
}

// ConcurrencySnapshot é o estado exposto em /stats.
type ConcurrencySnapshot struct {
	InFlight int   `json:"in_flight"`
	Capacity int   `json:"capacity"`
	Rejected int64 `json:"rejected"`
}

// Acquire tenta adquirir uma vaga.
// - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
// - Se `AcquireTimeout > 0`, espera até o timeout.
// Retorna (release, ok). Se ok=false, nenhuma vaga foi adquirida.
func (s *ConcurrencyService) Acquire(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}

	acqCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	release, ok := s.Pool.Acquire(acqCtx)
	if !ok {
		s.rejected.Add(1)
	}
	return release, ok
}

func (s *ConcurrencyService) Snapshot() ConcurrencySnapshot {
	if s.Pool == nil {
		return ConcurrencySnapshot{}
	}
	return ConcurrencySnapshot{
		InFlight: s.Pool.InFlight(),
		Capacity: s.Pool.Cap(),
		Rejected: s.rejected.Load(),
	}
}
