package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"errors"
	"time"
)

type Key string

// Config descreve a janela fixa: no máximo MaxRequests por Window, por chave.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

func (c Config) Validate() error {
	if c.MaxRequests <= 0 {
		return errors.New("max requests must be > 0")
	}
	if c.Window <= 0 {
		return errors.New("window must be > 0")
	}
	return nil
}

// Counter é o estado de uma chave dentro da janela corrente.
//
// Não é seguro para uso concorrente: quem guarda o Counter (store) serializa
// as chamadas de Hit para a mesma chave.
type Counter struct {
	Count       int
	WindowStart time.Time
}

// Hit registra uma requisição em `now` e devolve a decisão.
//
// Regra da janela fixa:
//   - se now >= WindowStart+Window (ou contador novo), zera e abre nova janela em now
//   - incrementa Count
//   - bloqueia quando Count > MaxRequests, com RetryAfter = fim da janela - now
//
// As janelas não são suavizadas: na virada, um cliente pode fazer até 2x MaxRequests.
func (c *Counter) Hit(cfg Config, now time.Time) Decision {
	end := c.WindowStart.Add(cfg.Window)
	if c.WindowStart.IsZero() || !now.Before(end) {
		c.Count = 0
		c.WindowStart = now
		end = now.Add(cfg.Window)
	}
	c.Count++

	dec := Decision{
		Allowed: c.Count <= cfg.MaxRequests,
		Limit:   cfg.MaxRequests,
		ResetAt: end,
	}
	if dec.Allowed {
		dec.Remaining = cfg.MaxRequests - c.Count
		return dec
	}
	dec.RetryAfter = end.Sub(now)
	return dec
}

// LimiterStore conta requisições por chave (ex: IP, API key, usuário).
// A implementação pode ser em memória, Redis, etc., mas precisa serializar
// os incrementos de uma mesma chave.
type LimiterStore interface {
	Hit(ctx context.Context, key Key, now time.Time) (Decision, error)
}

type Decision struct {
	Allowed bool

	Limit     int
	Remaining int
	// ResetAt é quando a janela corrente termina.
	ResetAt time.Time
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}
