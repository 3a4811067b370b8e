package admission

import "net/http"

type Outcome int

const (
	Continue Outcome = iota
	Reject
	Handled
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Reject:
		return "reject"
	case Handled:
		return "handled"
	default:
		return "unknown"
	}
}

// Verdict é a decisão única de um estágio para uma requisição.
type Verdict struct {
	Outcome Outcome
	// Request substitui a requisição para os próximos estágios (Continue).
	Request *http.Request
	// Rejection é obrigatório quando Outcome == Reject.
	Rejection *Rejection
}

func Next(r *http.Request) Verdict { return Verdict{Outcome: Continue, Request: r} }

func Deny(rej *Rejection) Verdict { return Verdict{Outcome: Reject, Rejection: rej} }

func Done() Verdict { return Verdict{Outcome: Handled} }

// Stage é um passo da admissão.
//
// Admit pode escrever headers em w, mas só escreve status/corpo quando devolve
// Handled. Para Reject, quem escreve é o pipeline.
type Stage interface {
	Name() string
	Admit(w http.ResponseWriter, r *http.Request) Verdict
}

type stageFunc struct {
	name string
	fn   func(w http.ResponseWriter, r *http.Request) Verdict
}

func (s stageFunc) Name() string { return s.name }

func (s stageFunc) Admit(w http.ResponseWriter, r *http.Request) Verdict { return s.fn(w, r) }

// StageFunc adapta uma função em Stage.
func StageFunc(name string, fn func(w http.ResponseWriter, r *http.Request) Verdict) Stage {
	return stageFunc{name: name, fn: fn}
}
