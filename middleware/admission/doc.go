// Package admission compõe os estágios de admissão que toda requisição atravessa
// antes de chegar às rotas de negócio.
//
// Cada estágio segue o mesmo contrato (Stage.Admit) e devolve um único Verdict:
//
//   - Continue: segue para o próximo estágio (opcionalmente com *http.Request trocado)
//   - Reject: o pipeline escreve a resposta de erro (413, 429, ...) e para
//   - Handled: o estágio já respondeu (ex: preflight CORS) e o pipeline para
//
// A ordem é a da construção (New). No gateway: body limit -> CORS -> rate limit.
// O pipeline escreve no máximo uma resposta por requisição.
package admission
