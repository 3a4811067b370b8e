package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"

	"github.com/sirupsen/logrus"
)

// KeyFunc extrai a identidade do chamador. O valor é opaco para o limiter.
type KeyFunc func(r *http.Request) string

type Options struct {
	Store               domain.LimiterStore
	Stats               domain.StatsStore
	KeyFn               KeyFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	RejectStatus        int
	AddRateLimitHeaders bool
	Now                 func() time.Time
	Logger              logrus.FieldLogger
	// RouteLabel devolve o padrão da rota que vai atender r, ou "" se nenhuma.
	// Sem ele as estatísticas não separam por rota.
	RouteLabel func(r *http.Request) string
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Stage devolve o estágio de admissão do rate limit.
//
// Erro do store (ex: Redis fora) é logado e a requisição passa: o limite é
// política de proteção, não motivo para derrubar a API.
func Stage(opts Options) admission.Stage {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	svc := application.Service{
		Store: opts.Store,
		Now:   now,
	}

	return admission.StageFunc("ratelimit", func(w http.ResponseWriter, r *http.Request) admission.Verdict {
		key := opts.KeyFn(r)

		dec, err := svc.Decide(r.Context(), domain.Key(key))
		if err != nil {
			opts.Logger.WithFields(logrus.Fields{
				"key":        key,
				"request_id": admission.RequestIDFromContext(r.Context()),
			}).WithError(err).Warn("rate limit store failed, admitting request")
		}
		if opts.Stats != nil {
			ev := domain.StatsEvent{
				Key:        domain.Key(key),
				Allowed:    dec.Allowed,
				Failed:     err != nil,
				Method:     r.Method,
				RetryAfter: dec.RetryAfter,
				At:         now(),
			}
			if opts.RouteLabel != nil {
				ev.Route = opts.RouteLabel(r)
			}
			statsErr := opts.Stats.Record(r.Context(), ev)
			if statsErr != nil {
				opts.Logger.WithError(statsErr).Debug("rate limit stats record failed")
			}
		}

		if opts.AddRateLimitHeaders && err == nil && dec.Limit > 0 {
			h := w.Header()
			h.Set("X-RateLimit-Limit", formatInt(dec.Limit))
			h.Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
			h.Set("X-RateLimit-Reset", formatInt(admission.RetryAfterSeconds(dec.ResetAt.Sub(now()))))
		}

		if !dec.Allowed {
			return admission.Deny(&admission.Rejection{
				Status:     opts.RejectStatus,
				Kind:       admission.ErrRateLimited,
				RetryAfter: dec.RetryAfter,
			})
		}
		return admission.Next(nil)
	})
}

// Middleware aplica só o rate limit, para quem não usa o pipeline completo.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	p := admission.New([]admission.Stage{Stage(opts)}, admission.WithLogger(opts.Logger))
	return p.Wrap
}
