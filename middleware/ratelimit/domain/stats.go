package domain

import (
	"context"
	"time"
)

// OtherRoute agrupa requisições sem rota conhecida (404, rota fora do teto).
const OtherRoute = "<other>"

// StatsEvent representa um evento de decisão do rate limit.
//
// Ele é propositalmente "agnóstico de HTTP": Method/Route são strings genéricas.
//
// Route é o padrão da rota que atendeu (ex: "/api/*"), nunca o caminho cru da
// requisição: caminhos vêm do cliente e explodiriam a cardinalidade dos stores.
// Vazio quando a rota não é conhecida.
type StatsEvent struct {
	Key     Key
	Allowed bool
	// Failed indica que o store falhou e a requisição passou sem contagem.
	Failed bool

	Method string
	Route  string

	// RetryAfter é a espera devolvida ao cliente quando a requisição foi negada.
	RetryAfter time.Duration

	At time.Time
}

// RouteLabel é o rótulo "<METHOD> <route>" usado para agregar por rota.
func (ev StatsEvent) RouteLabel() string {
	if ev.Route == "" {
		return OtherRoute
	}
	if ev.Method == "" {
		return ev.Route
	}
	return ev.Method + " " + ev.Route
}

// StatsStore é a estratégia de persistência para estatísticas do rate limit.
//
// O middleware trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
