// Package cors decide, por requisição, se a origem do chamador pode acessar a API
// e traduz a decisão em headers CORS.
//
// A lista de origens é uma sequência de padrões de substring. O padrão "*" libera
// qualquer origem (inclusive sem header Origin) e desliga a comparação.
// Sem "*", a origem precisa conter algum padrão; sem Origin, a decisão é Deny.
//
// Evaluate é uma função pura que devolve uma única Decision. O estágio HTTP age
// sobre esse único valor: origem negada segue sem nenhum header CORS.
package cors
