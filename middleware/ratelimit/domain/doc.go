// Package domain define contratos e tipos de domínio para rate limit e concorrência.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A regra de janela fixa (Counter.Hit) fica aqui para que memória e testes
// usem exatamente a mesma aritmética.
package domain
