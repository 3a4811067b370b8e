package cors

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/admission"
)

var defaultMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPut,
	http.MethodPatch,
	http.MethodPost,
	http.MethodDelete,
}

// Policy junta a lista de origens com o que é ecoado em respostas permitidas.
type Policy struct {
	Origins          AllowedOriginSet
	AllowCredentials bool
	// MaxAge vai em Access-Control-Max-Age nos preflights; <= 0 omite.
	MaxAge time.Duration
	// AllowedMethods para preflight; vazio usa GET,HEAD,PUT,PATCH,POST,DELETE.
	AllowedMethods []string
	ExposeHeaders  []string
}

// Evaluate aplica credenciais sobre a decisão pura.
//
// Navegadores recusam "*" com credenciais, então no modo curinga com credenciais
// a origem concreta é ecoada.
func (p Policy) Evaluate(origin string) Decision {
	dec := Evaluate(p.Origins, origin)
	if !dec.Allowed || !p.AllowCredentials {
		return dec
	}
	if dec.AllowOrigin == Wildcard {
		if origin == "" {
			return dec
		}
		dec.AllowOrigin = origin
		dec.Reflected = true
	}
	dec.Credentials = true
	return dec
}

// Stage devolve o estágio de admissão CORS.
//
//   - sem Origin e sem curinga: segue sem headers
//   - Deny: segue sem headers CORS; preflight negado recebe 204 sem headers
//   - Allow + preflight: 204 com headers de preflight, sem chamar as rotas
//   - Allow: headers CORS e segue
func Stage(p Policy) admission.Stage {
	methods := strings.Join(defaultMethods, ",")
	if len(p.AllowedMethods) > 0 {
		methods = strings.ToUpper(strings.Join(p.AllowedMethods, ","))
	}
	expose := strings.Join(p.ExposeHeaders, ",")

	return admission.StageFunc("cors", func(w http.ResponseWriter, r *http.Request) admission.Verdict {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" && !p.Origins.Wildcard() {
			return admission.Next(nil)
		}

		h := w.Header()
		if !p.Origins.Wildcard() {
			h.Add("Vary", "Origin")
		}

		dec := p.Evaluate(origin)
		preflight := isPreflight(r)

		if !dec.Allowed {
			if preflight {
				w.WriteHeader(http.StatusNoContent)
				return admission.Done()
			}
			return admission.Next(nil)
		}

		h.Set("Access-Control-Allow-Origin", dec.AllowOrigin)
		if dec.Reflected && p.Origins.Wildcard() {
			h.Add("Vary", "Origin")
		}
		if dec.Credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}

		if preflight {
			h.Set("Access-Control-Allow-Methods", methods)
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
				h.Add("Vary", "Access-Control-Request-Headers")
			}
			if p.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(int(p.MaxAge.Seconds())))
			}
			h.Set("Content-Length", "0")
			w.WriteHeader(http.StatusNoContent)
			return admission.Done()
		}

		if expose != "" {
			h.Set("Access-Control-Expose-Headers", expose)
		}
		return admission.Next(nil)
	})
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}
