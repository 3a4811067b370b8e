package infra

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// WindowStore é a implementação em memória da janela fixa por chave.
//
// Cada chave tem sua própria entrada com mutex: chaves diferentes não disputam
// lock entre si, e incrementos da mesma chave são serializados.
// Entradas ociosas são removidas pelo janitor.
type WindowStore struct {
	cfg          domain.Config
	entries      sync.Map // string -> *windowEntry
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
	janitors     atomic.Int32
}

type windowEntry struct {
	mu       sync.Mutex
	counter  domain.Counter
	lastSeen time.Time
	// removed marca entrada já tirada do mapa; quem a pegou antes tenta de novo.
	removed bool
}

type StoreOption func(*WindowStore)

// WithIdleTTL define após quanto tempo sem requisições a chave é descartada.
// Valores menores que a janela são elevados para a janela.
func WithIdleTTL(d time.Duration) StoreOption {
	return func(s *WindowStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *WindowStore) { s.cleanupEvery = d }
}

// WithStoreClock troca o relógio usado pelo Cleanup (testes).
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *WindowStore) { s.now = now }
}

func NewWindowStore(cfg domain.Config, opts ...StoreOption) *WindowStore {
	s := &WindowStore{
		cfg:          cfg,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.idleTTL < cfg.Window {
		s.idleTTL = cfg.Window
	}
	return s
}

func (s *WindowStore) Config() domain.Config        { return s.cfg }
func (s *WindowStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// Hit implementa domain.LimiterStore.
func (s *WindowStore) Hit(_ context.Context, key domain.Key, now time.Time) (domain.Decision, error) {
	for {
		v, _ := s.entries.LoadOrStore(string(key), &windowEntry{})
		ent := v.(*windowEntry)

		ent.mu.Lock()
		if ent.removed {
			ent.mu.Unlock()
			continue
		}
		dec := ent.counter.Hit(s.cfg, now)
		ent.lastSeen = now
		ent.mu.Unlock()
		return dec, nil
	}
}

// Len devolve quantas chaves estão sendo rastreadas.
func (s *WindowStore) Len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *WindowStore) Cleanup() {
	cutoff := s.now().Add(-s.idleTTL)

	s.entries.Range(func(k, v any) bool {
		ent := v.(*windowEntry)
		ent.mu.Lock()
		if ent.lastSeen.Before(cutoff) {
			ent.removed = true
			s.entries.Delete(k)
		}
		ent.mu.Unlock()
		return true
	})
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *WindowStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	s.janitors.Add(1)
	go func() {
		defer s.janitors.Add(-1)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// JanitorRunning informa se há janitor ativo.
func (s *WindowStore) JanitorRunning() bool { return s.janitors.Load() > 0 }
