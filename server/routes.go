package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// Route é uma entrada da tabela de despacho.
type Route struct {
	// Method vazio aceita qualquer método.
	Method  string
	Pattern string
	Summary string
	Handler http.Handler
	// Hidden tira a rota da documentação (ex: a própria documentação).
	Hidden bool
}

// RouteGroup é um conjunto de rotas de negócio registrado de uma vez.
type RouteGroup interface {
	Name() string
	Routes() []Route
}

type group struct {
	name   string
	routes []Route
}

func (g group) Name() string    { return g.name }
func (g group) Routes() []Route { return g.routes }

func NewGroup(name string, routes ...Route) RouteGroup {
	return group{name: name, routes: routes}
}

var knownMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
	http.MethodConnect: true,
	http.MethodTrace:   true,
}

type registeredRoute struct {
	Route
	group string
}

// Registrar monta a tabela de rotas no boot, na ordem exata dos grupos.
//
// Colisão: para o mesmo (método, padrão), vale o último registro; a entrada
// anterior some da tabela. A raiz GET / redireciona para a documentação e entra
// por último, só se nenhum grupo tiver registrado GET / (rotas de negócio têm
// precedência). Não existe remoção: depois de Handler, Register falha.
type Registrar struct {
	mu       sync.Mutex
	docsPath string
	routes   []registeredRoute
	sealed   bool
	handler  http.Handler
	log      logrus.FieldLogger

	mux atomic.Pointer[chi.Mux]
}

func NewRegistrar(docsPath string, logger logrus.FieldLogger) *Registrar {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registrar{docsPath: docsPath, log: logger}
}

func (g *Registrar) DocsPath() string { return g.docsPath }

// Register adiciona os grupos na ordem recebida. Um grupo inválido não entra
// pela metade: nada dele é registrado.
func (g *Registrar) Register(groups ...RouteGroup) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sealed {
		return errors.New("route registration is closed")
	}

	for _, grp := range groups {
		if grp == nil {
			continue
		}
		routes := grp.Routes()
		for i, rt := range routes {
			if err := validateRoute(rt); err != nil {
				return &ConfigError{Field: "routes", Reason: fmt.Sprintf("group %s route %d: %v", grp.Name(), i, err)}
			}
		}
		for _, rt := range routes {
			rt.Method = strings.ToUpper(rt.Method)
			for _, prev := range g.routes {
				if prev.Method == rt.Method && prev.Pattern == rt.Pattern {
					g.log.WithFields(logrus.Fields{
						"route":    routeLabel(rt),
						"previous": prev.group,
						"group":    grp.Name(),
					}).Warn("route overrides an earlier registration")
				}
			}
			g.routes = append(g.routes, registeredRoute{Route: rt, group: grp.Name()})
		}
	}
	return nil
}

func validateRoute(rt Route) error {
	if rt.Handler == nil {
		return errors.New("nil handler")
	}
	if !strings.HasPrefix(rt.Pattern, "/") {
		return fmt.Errorf("pattern %q must start with /", rt.Pattern)
	}
	if m := strings.ToUpper(rt.Method); m != "" && !knownMethods[m] {
		return fmt.Errorf("unknown method %q", rt.Method)
	}
	return nil
}

// Table devolve a tabela efetiva: ordem de registro, último registro vence,
// redirecionamento da raiz no fim.
func (g *Registrar) Table() []Route {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.table()
}

func (g *Registrar) table() []Route {
	last := make(map[string]int, len(g.routes))
	for i, rt := range g.routes {
		last[routeLabel(rt.Route)] = i
	}

	out := make([]Route, 0, len(g.routes)+1)
	rootTaken := false
	for i, rt := range g.routes {
		if last[routeLabel(rt.Route)] != i {
			continue
		}
		if rt.Pattern == "/" && (rt.Method == "" || rt.Method == http.MethodGet) {
			rootTaken = true
		}
		out = append(out, rt.Route)
	}
	if !rootTaken {
		out = append(out, Route{
			Method:  http.MethodGet,
			Pattern: "/",
			Summary: "redirect to documentation",
			Handler: http.RedirectHandler(g.docsPath, http.StatusFound),
			Hidden:  true,
		})
	}
	return out
}

// Handler fecha o registro e monta o roteador chi com a tabela efetiva.
// Chamadas seguintes devolvem o mesmo handler.
func (g *Registrar) Handler() (h http.Handler, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.handler != nil {
		return g.handler, nil
	}

	// chi entra em panic com padrão malformado
	defer func() {
		if rec := recover(); rec != nil {
			h = nil
			err = &ConfigError{Field: "routes", Reason: fmt.Sprint(rec)}
		}
	}()

	r := chi.NewRouter()
	for _, rt := range g.table() {
		if rt.Method == "" {
			r.Handle(rt.Pattern, rt.Handler)
			continue
		}
		r.Method(rt.Method, rt.Pattern, rt.Handler)
	}

	g.sealed = true
	g.handler = r
	g.mux.Store(r)
	return r, nil
}

// RouteLabel devolve o padrão da rota que atenderia r (ex: "/api/*"), ou ""
// quando nenhuma rota casa ou o roteador ainda não foi montado.
// O resultado tem cardinalidade limitada pela tabela, ao contrário do caminho.
func (g *Registrar) RouteLabel(r *http.Request) string {
	mux := g.mux.Load()
	if mux == nil {
		return ""
	}
	rctx := chi.NewRouteContext()
	if !mux.Match(rctx, r.Method, r.URL.Path) {
		return ""
	}
	return rctx.RoutePattern()
}

func routeLabel(rt Route) string {
	m := rt.Method
	if m == "" {
		m = "*"
	}
	return m + " " + rt.Pattern
}
