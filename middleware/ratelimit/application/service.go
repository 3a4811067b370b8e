package application

import (
	"context"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// Now permite injetar relógio em testes; nil usa time.Now.
type Service struct {
	Store domain.LimiterStore
	Now   func() time.Time
}

// Decide conta a requisição da chave e devolve a decisão.
//
// Sem store, tudo é permitido. Erro do store é devolvido junto com uma decisão
// permissiva: cabe ao chamador decidir se loga e segue (fail-open).
func (s Service) Decide(ctx context.Context, key domain.Key) (domain.Decision, error) {
	if s.Store == nil {
		return domain.Decision{Allowed: true}, nil
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	dec, err := s.Store.Hit(ctx, key, now())
	if err != nil {
		return domain.Decision{Allowed: true}, err
	}
	if dec.Allowed {
		dec.RetryAfter = 0
	}
	return dec, nil
}
