package ratelimit

import (
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/infra"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
}

// Concurrency limita quantos handlers rodam ao mesmo tempo atrás da admissão.
type Concurrency struct {
	opts ConcurrencyOptions
	svc  *application.ConcurrencyService
}

// NewConcurrency devolve nil quando Max <= 0 (sem limite).
func NewConcurrency(opts ConcurrencyOptions) *Concurrency {
	if opts.Max <= 0 {
		return nil
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	return &Concurrency{
		opts: opts,
		svc: &application.ConcurrencyService{
			Pool:           infra.NewChanPool(opts.Max),
			AcquireTimeout: opts.AcquireTimeout,
		},
	}
}

func (c *Concurrency) Snapshot() application.ConcurrencySnapshot {
	if c == nil {
		return application.ConcurrencySnapshot{}
	}
	return c.svc.Snapshot()
}

func (c *Concurrency) Wrap(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		release, ok := c.svc.Acquire(r.Context())
		if !ok {
			http.Error(w, http.StatusText(c.opts.RejectStatus), c.opts.RejectStatus)
			return
		}
		defer release()

		next.ServeHTTP(w, r)
	})
}

func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	return NewConcurrency(opts).Wrap
}
