package admission

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrRateLimited     = errors.New("rate limited")
	// ErrOriginDenied nunca vira resposta de erro: origem negada só não recebe
	// headers CORS. Existe para logs/estatísticas.
	ErrOriginDenied = errors.New("origin denied")
)

// Rejection é a recusa de um estágio, convertida pelo pipeline em resposta HTTP.
type Rejection struct {
	Status     int
	Kind       error
	RetryAfter time.Duration
	// Message vai no corpo; vazio usa http.StatusText(Status).
	Message string
}

func (r *Rejection) Error() string {
	if r.RetryAfter > 0 {
		return fmt.Sprintf("%v (status %d, retry after %s)", r.Kind, r.Status, r.RetryAfter)
	}
	return fmt.Sprintf("%v (status %d)", r.Kind, r.Status)
}

func (r *Rejection) Unwrap() error { return r.Kind }
