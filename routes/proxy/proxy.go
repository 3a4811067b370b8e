// Package proxy encaminha um prefixo do gateway para um upstream HTTP.
package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/bodylimit"
	"admission-gateway/server"

	"github.com/sirupsen/logrus"
)

type Options struct {
	// Upstream é a URL base do serviço de destino (obrigatória).
	Upstream string
	// Prefix é o caminho atendido pelo gateway, removido antes de encaminhar.
	// Vazio ou "/" encaminha tudo que nenhuma outra rota atender.
	Prefix string
	Logger logrus.FieldLogger
}

// Group monta o grupo de rotas do proxy. Falha se o upstream não for uma URL
// absoluta.
func Group(opts Options) (server.RouteGroup, error) {
	target, err := url.Parse(opts.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("invalid upstream url: scheme and host are required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	prefix := "/" + strings.Trim(opts.Prefix, "/")

	rp := httputil.NewSingleHostReverseProxy(target)
	director := rp.Director
	rp.Director = func(r *http.Request) {
		if prefix != "/" {
			r.URL.Path = stripPrefix(r.URL.Path, prefix)
			if r.URL.RawPath != "" {
				r.URL.RawPath = stripPrefix(r.URL.RawPath, prefix)
			}
		}
		director(r)
	}
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		// corpo em stream passou do limite durante o envio: erro do cliente
		if bodylimit.IsTooLarge(err) {
			bodylimit.WriteTooLarge(w)
			return
		}
		opts.Logger.WithFields(logrus.Fields{
			"upstream":   target.Host,
			"path":       r.URL.Path,
			"request_id": admission.RequestIDFromContext(r.Context()),
		}).WithError(err).Warn("proxy error")
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	summary := "proxy to " + target.Host
	if prefix == "/" {
		return server.NewGroup("proxy",
			server.Route{Pattern: "/*", Summary: summary, Handler: rp},
		), nil
	}
	return server.NewGroup("proxy",
		server.Route{Pattern: prefix, Summary: summary, Handler: rp},
		server.Route{Pattern: prefix + "/*", Summary: summary, Handler: rp},
	), nil
}

func stripPrefix(p, prefix string) string {
	rest := strings.TrimPrefix(p, prefix)
	if rest == "" || rest[0] != '/' {
		rest = "/" + rest
	}
	return rest
}
