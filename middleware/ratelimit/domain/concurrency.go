package domain

import "context"

// SlotPool representa um recurso com capacidade finita (ex: handlers em execução
// ao mesmo tempo atrás do pipeline de admissão).
//
// A semântica é: Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// Ao adquirir, retorna uma função de release que deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
	// InFlight é o número de vagas ocupadas agora; Cap é a capacidade total.
	InFlight() int
	Cap() int
}
