// Package system expõe as rotas operacionais do gateway: /health e /stats.
package system

import (
	"encoding/json"
	"net/http"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/infra"
	"admission-gateway/server"

	"github.com/sirupsen/logrus"
)

// Options controla o que /stats mostra. Campos nil são omitidos da resposta.
type Options struct {
	Stats       *infra.MemoryStatsStore
	Concurrency func() application.ConcurrencySnapshot
	Logger      logrus.FieldLogger
}

type statsResponse struct {
	Total       *infra.Counters                  `json:"total,omitempty"`
	ByRoute     map[string]infra.Counters        `json:"by_route,omitempty"`
	ByKey       map[string]infra.Counters        `json:"by_key,omitempty"`
	Concurrency *application.ConcurrencySnapshot `json:"concurrency,omitempty"`
}

func Group(opts Options) server.RouteGroup {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return server.NewGroup("system",
		server.Route{
			Method:  http.MethodGet,
			Pattern: "/health",
			Summary: "liveness",
			Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, opts.Logger, map[string]string{"status": "ok"})
			}),
		},
		server.Route{
			Method:  http.MethodGet,
			Pattern: "/stats",
			Summary: "rate limit decisions and in-flight requests",
			Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var resp statsResponse
				if opts.Stats != nil {
					total := opts.Stats.Total()
					resp.Total = &total
					resp.ByRoute = opts.Stats.ByRoute()
					if byKey := opts.Stats.ByKey(); len(byKey) > 0 {
						resp.ByKey = byKey
					}
				}
				if opts.Concurrency != nil {
					snap := opts.Concurrency()
					resp.Concurrency = &snap
				}
				writeJSON(w, opts.Logger, resp)
			}),
		},
	)
}

func writeJSON(w http.ResponseWriter, log logrus.FieldLogger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("write json response")
	}
}
