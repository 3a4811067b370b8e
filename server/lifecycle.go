package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/bodylimit"
	"admission-gateway/middleware/cors"
	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/sirupsen/logrus"
)

type State int32

const (
	StateUnconfigured State = iota
	StateConfiguring
	StateBound
	StateServing
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfiguring:
		return "configuring"
	case StateBound:
		return "bound"
	case StateServing:
		return "serving"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type ListenFunc func(ctx context.Context, network, addr string) (net.Listener, error)

// Controller é dono do único servidor HTTP do processo.
//
// Unconfigured -> Configuring -> Bound -> Serving, com Failed terminal a partir
// de Configuring ou Bound e Stopped depois do Shutdown. Não há volta.
type Controller struct {
	cfg    Config
	log    logrus.FieldLogger
	store  domain.LimiterStore
	stats  domain.StatsStore
	now    func() time.Time
	listen ListenFunc
	info   DocsInfo

	mu          sync.Mutex
	state       State
	groups      []RouteGroup
	handler     http.Handler
	pipeline    *admission.Pipeline
	registrar   *Registrar
	concurrency *ratelimit.Concurrency
	memStore    *infra.WindowStore
	stopJanitor context.CancelFunc
	ln          net.Listener
	srv         *http.Server
	errLog      io.Closer
	errCh       chan error
}

type Option func(*Controller)

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithLimiterStore troca o store da janela fixa (ex: Redis). Sem ele, usa
// infra.WindowStore em memória com janitor.
func WithLimiterStore(s domain.LimiterStore) Option {
	return func(c *Controller) { c.store = s }
}

func WithStats(s domain.StatsStore) Option {
	return func(c *Controller) { c.stats = s }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithListenFunc(fn ListenFunc) Option {
	return func(c *Controller) { c.listen = fn }
}

func WithDocsInfo(info DocsInfo) Option {
	return func(c *Controller) { c.info = info }
}

func WithRouteGroups(groups ...RouteGroup) Option {
	return func(c *Controller) { c.groups = append(c.groups, groups...) }
}

func NewController(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:  cfg,
		log:  logrus.StandardLogger(),
		now:  time.Now,
		info: DocsInfo{Title: "admission-gateway", Version: "1.0.0"},
		listen: func(ctx context.Context, network, addr string) (net.Listener, error) {
			var lc net.ListenConfig
			return lc.Listen(ctx, network, addr)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register enfileira grupos de rotas antes do Start. Depois do Start falha.
func (c *Controller) Register(groups ...RouteGroup) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUnconfigured {
		return fmt.Errorf("register routes: %w (state %s)", ErrAlreadyStarted, c.state)
	}
	c.groups = append(c.groups, groups...)
	return nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Addr é o endereço efetivo do listener (útil com porta 0); nil antes do bind.
func (c *Controller) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ln == nil {
		return nil
	}
	return c.ln.Addr()
}

// Handler é o handler completo (admissão + rotas); nil antes de configurar.
func (c *Controller) Handler() http.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

// Stages devolve a ordem dos estágios de admissão montados.
func (c *Controller) Stages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pipeline == nil {
		return nil
	}
	return c.pipeline.Names()
}

func (c *Controller) ConcurrencySnapshot() application.ConcurrencySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.concurrency.Snapshot()
}

// Err entrega falhas do Serve depois que o servidor subiu. É fechado quando o
// servidor para.
func (c *Controller) Err() <-chan error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errCh
}

// Start monta a admissão e as rotas, faz o bind e começa a servir em background.
// Erros de configuração e de bind são fatais: o controller fica em Failed.
// ctx também controla o janitor do store em memória, que só sobe depois do bind
// e para no Shutdown.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateUnconfigured {
		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, c.state)
	}

	c.state = StateConfiguring
	if err := c.configure(); err != nil {
		c.state = StateFailed
		return err
	}

	addr := c.cfg.Addr()
	ln, err := c.listen(ctx, "tcp", addr)
	if err != nil {
		c.state = StateFailed
		return &BindError{Addr: addr, Err: err}
	}
	c.ln = ln
	c.state = StateBound

	if err := ctx.Err(); err != nil {
		_ = ln.Close()
		c.state = StateFailed
		return fmt.Errorf("start aborted after bind: %w", err)
	}

	if c.memStore != nil {
		jctx, cancel := context.WithCancel(ctx)
		c.stopJanitor = cancel
		c.memStore.StartJanitor(jctx)
	}

	c.srv = &http.Server{
		Handler:           c.handler,
		ReadHeaderTimeout: c.cfg.ReadHeaderTimeout,
		ReadTimeout:       c.cfg.ReadTimeout,
		WriteTimeout:      c.cfg.WriteTimeout,
		IdleTimeout:       c.cfg.IdleTimeout,
	}
	if wl, ok := c.log.(interface {
		WriterLevel(logrus.Level) *io.PipeWriter
	}); ok {
		pw := wl.WriterLevel(logrus.WarnLevel)
		c.errLog = pw
		c.srv.ErrorLog = log.New(pw, "", 0)
	}

	errCh := make(chan error, 1)
	c.errCh = errCh
	srv := c.srv
	go func() {
		defer close(errCh)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.WithError(err).Error("api server stopped unexpectedly")
			errCh <- err
		}
	}()

	c.state = StateServing
	c.log.WithFields(logrus.Fields{
		"stages":   c.pipeline.Names(),
		"docs":     c.registrar.DocsPath(),
		"max_rpm":  c.cfg.RateLimit.MaxRequests,
		"window":   c.cfg.RateLimit.Window.String(),
		"origins":  c.cfg.CORSOrigins.String(),
		"bodySize": c.cfg.BodyLimitBytes,
	}).Infof("api service started at http://%s", ln.Addr())
	return nil
}

// configure monta as rotas e os estágios na ordem body -> cors -> rate limit.
// Não inicia goroutines: uma falha aqui não deixa nada rodando.
func (c *Controller) configure() error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	c.registrar = NewRegistrar(c.cfg.docsPath(), c.log)
	if err := c.registrar.Register(c.groups...); err != nil {
		return err
	}
	if err := c.registrar.Register(NewDocsGroup(c.registrar, c.info)); err != nil {
		return err
	}
	router, err := c.registrar.Handler()
	if err != nil {
		return err
	}

	if c.store == nil {
		c.memStore = infra.NewWindowStore(c.cfg.RateLimit, infra.WithStoreClock(c.now))
		c.store = c.memStore
	}

	stages := []admission.Stage{
		bodylimit.Stage(c.cfg.BodyLimitBytes),
		cors.Stage(cors.Policy{
			Origins:          c.cfg.CORSOrigins,
			AllowCredentials: c.cfg.CORSAllowCredentials,
			MaxAge:           c.cfg.CORSMaxAge,
			ExposeHeaders: []string{
				admission.RequestIDHeader,
				"Retry-After",
				"X-RateLimit-Limit",
				"X-RateLimit-Remaining",
				"X-RateLimit-Reset",
			},
		}),
		ratelimit.Stage(ratelimit.Options{
			Store:               c.store,
			Stats:               c.stats,
			KeyHeader:           c.cfg.RateKeyHeader,
			TrustXForwardedFor:  c.cfg.TrustXForwardedFor,
			AddRateLimitHeaders: c.cfg.AddRateLimitHeaders,
			Now:                 c.now,
			Logger:              c.log,
			RouteLabel:          c.registrar.RouteLabel,
		}),
	}
	c.pipeline = admission.New(stages, admission.WithLogger(c.log))

	c.concurrency = ratelimit.NewConcurrency(ratelimit.ConcurrencyOptions{
		Max:            c.cfg.ConcurrencyMax,
		AcquireTimeout: c.cfg.ConcurrencyTimeout,
	})
	c.handler = c.pipeline.Wrap(c.concurrency.Wrap(router))
	return nil
}

// Shutdown para de aceitar conexões e espera as requisições em andamento até ctx.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateServing {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNotServing, st)
	}
	srv := c.srv
	errLog := c.errLog
	stopJanitor := c.stopJanitor
	c.state = StateStopped
	c.mu.Unlock()

	if stopJanitor != nil {
		stopJanitor()
	}

	err := srv.Shutdown(ctx)
	if errLog != nil {
		_ = errLog.Close()
	}
	c.log.Info("api service stopped")
	return err
}
