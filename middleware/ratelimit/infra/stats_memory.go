package infra

import (
	"context"
	"sync"

	"admission-gateway/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
	Failed  int64 `json:"failed"`
}

func (c *Counters) add(ev domain.StatsEvent) {
	switch {
	case ev.Failed:
		c.Failed++
	case ev.Allowed:
		c.Allowed++
	default:
		c.Denied++
	}
}

// MemoryStatsStore guarda contadores de decisão em memória.
// É o store padrão do gateway e alimenta a rota /stats.
//
// Não faz expiração. Os mapas por rota e por chave têm teto: depois dele,
// rótulos novos caem em domain.OtherRoute e os já vistos continuam contando.
type MemoryStatsStore struct {
	mu      sync.Mutex
	total   Counters
	byRoute map[string]Counters
	byKey   map[string]Counters

	trackKeys bool
	maxRoutes int
	maxKeys   int
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

// WithMaxRoutes limita quantos rótulos de rota distintos são guardados.
func WithMaxRoutes(n int) MemoryStatsOption {
	return func(s *MemoryStatsStore) {
		if n > 0 {
			s.maxRoutes = n
		}
	}
}

// WithMaxKeys limita quantas identidades distintas são guardadas com trackKeys.
func WithMaxKeys(n int) MemoryStatsOption {
	return func(s *MemoryStatsStore) {
		if n > 0 {
			s.maxKeys = n
		}
	}
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byRoute:   make(map[string]Counters),
		byKey:     make(map[string]Counters),
		maxRoutes: 256,
		maxKeys:   10000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev)
	bump(s.byRoute, ev.RouteLabel(), s.maxRoutes, ev)
	if s.trackKeys {
		bump(s.byKey, string(ev.Key), s.maxKeys, ev)
	}
	return nil
}

// bump conta em label, ou em domain.OtherRoute se label é novo e o mapa está cheio.
// O teto conta com a entrada de transbordo.
func bump(m map[string]Counters, label string, limit int, ev domain.StatsEvent) {
	if _, seen := m[label]; !seen && len(m) >= limit-1 {
		label = domain.OtherRoute
	}
	c := m[label]
	c.add(ev)
	m[label] = c
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byRoute)
}

func (s *MemoryStatsStore) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byKey)
}

func copyCounters(in map[string]Counters) map[string]Counters {
	out := make(map[string]Counters, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// MultiStats repassa o evento para vários stores; devolve o primeiro erro.
type MultiStats []domain.StatsStore

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
