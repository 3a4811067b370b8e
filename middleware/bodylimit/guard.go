// Package bodylimit aplica o teto global de tamanho de corpo antes de qualquer
// parse ou roteamento.
//
// Content-Length conhecido e acima do limite é recusado com 413 sem ler o corpo.
// Corpo sem tamanho declarado (chunked) é limitado durante a leitura com
// http.MaxBytesReader: a leitura aborta assim que o total passa do limite.
package bodylimit

import (
	"errors"
	"net/http"

	"admission-gateway/middleware/admission"
)

// Check decide só pelo Content-Length. contentLength < 0 (desconhecido) passa;
// a verificação fica para a leitura. limit <= 0 desliga o limite.
func Check(contentLength, limit int64) error {
	if limit <= 0 || contentLength < 0 {
		return nil
	}
	if contentLength > limit {
		return admission.ErrPayloadTooLarge
	}
	return nil
}

// Stage devolve o estágio de admissão do limite de corpo.
func Stage(limit int64) admission.Stage {
	return admission.StageFunc("bodylimit", func(w http.ResponseWriter, r *http.Request) admission.Verdict {
		if limit <= 0 {
			return admission.Next(nil)
		}
		if err := Check(r.ContentLength, limit); err != nil {
			return admission.Deny(&admission.Rejection{
				Status: http.StatusRequestEntityTooLarge,
				Kind:   err,
			})
		}
		if r.Body == nil || r.Body == http.NoBody {
			return admission.Next(nil)
		}

		r2 := r.WithContext(r.Context())
		r2.Body = http.MaxBytesReader(w, r.Body, limit)
		return admission.Next(r2)
	})
}

// IsTooLarge informa se o erro de leitura do corpo veio do limite.
func IsTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || errors.Is(err, admission.ErrPayloadTooLarge)
}

// WriteTooLarge escreve a mesma resposta 413 do estágio.
// Handlers que leem o corpo usam quando IsTooLarge(err).
func WriteTooLarge(w http.ResponseWriter) {
	admission.WriteRejection(w, &admission.Rejection{
		Status: http.StatusRequestEntityTooLarge,
		Kind:   admission.ErrPayloadTooLarge,
	})
}
