package admission

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Pipeline executa os estágios em ordem fixa antes do handler final.
type Pipeline struct {
	stages   []Stage
	log      logrus.FieldLogger
	onReject func(r *http.Request, stage string, rej *Rejection)

	// recusas são logadas em warn no máximo uma vez por intervalo;
	// o restante vai em debug.
	rejectLog *rate.Sometimes
}

type Option func(*Pipeline)

func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithRejectLogInterval define o intervalo mínimo entre logs warn de recusa.
func WithRejectLogInterval(d time.Duration) Option {
	return func(p *Pipeline) { p.rejectLog = &rate.Sometimes{Interval: d} }
}

// WithRejectHook é chamado (síncrono) a cada recusa, antes da resposta ser escrita.
func WithRejectHook(fn func(r *http.Request, stage string, rej *Rejection)) Option {
	return func(p *Pipeline) { p.onReject = fn }
}

// New monta o pipeline na ordem recebida. Estágios nil são ignorados.
func New(stages []Stage, opts ...Option) *Pipeline {
	p := &Pipeline{
		log:       logrus.StandardLogger(),
		rejectLog: &rate.Sometimes{Interval: time.Second},
	}
	for _, s := range stages {
		if s != nil {
			p.stages = append(p.stages, s)
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Names devolve os nomes dos estágios na ordem de execução.
func (p *Pipeline) Names() []string {
	out := make([]string, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Name()
	}
	return out
}

func (p *Pipeline) Wrap(next http.Handler) http.Handler {
	if next == nil {
		panic("admission: nil next handler")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = withRequestID(w, r)

		for _, s := range p.stages {
			v, err := p.admit(s, w, r)
			if err != nil {
				p.entry(r).WithField("stage", s.Name()).WithError(err).Error("admission stage failed")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			switch v.Outcome {
			case Continue:
				if v.Request != nil {
					r = v.Request
				}
			case Handled:
				return
			case Reject:
				p.reject(w, r, s.Name(), v.Rejection)
				return
			default:
				p.entry(r).WithField("stage", s.Name()).Errorf("unknown outcome %d", v.Outcome)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// admit isola panics do estágio: erro por requisição nunca derruba o processo.
func (p *Pipeline) admit(s Stage, w http.ResponseWriter, r *http.Request) (v Verdict, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return s.Admit(w, r), nil
}

func (p *Pipeline) reject(w http.ResponseWriter, r *http.Request, stage string, rej *Rejection) {
	if rej == nil {
		rej = &Rejection{Status: http.StatusInternalServerError, Kind: fmt.Errorf("stage %s rejected without reason", stage)}
	}
	if rej.Status == 0 {
		rej.Status = http.StatusForbidden
	}

	if p.onReject != nil {
		p.onReject(r, stage, rej)
	}

	entry := p.entry(r).WithFields(logrus.Fields{
		"stage":  stage,
		"status": rej.Status,
		"reason": rej.Kind,
	})
	warned := false
	p.rejectLog.Do(func() {
		warned = true
		entry.Warn("request rejected")
	})
	if !warned {
		entry.Debug("request rejected")
	}

	WriteRejection(w, rej)
}

func (p *Pipeline) entry(r *http.Request) *logrus.Entry {
	return p.log.WithFields(logrus.Fields{
		"request_id": RequestIDFromContext(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
		"remote":     r.RemoteAddr,
	})
}

// WriteRejection escreve a resposta de erro de uma recusa.
// Retry-After vai em segundos inteiros, arredondado para cima (mínimo 1).
func WriteRejection(w http.ResponseWriter, rej *Rejection) {
	if rej.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds(rej.RetryAfter)))
	}
	msg := rej.Message
	if msg == "" {
		msg = http.StatusText(rej.Status)
	}
	http.Error(w, msg, rej.Status)
}

func RetryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
