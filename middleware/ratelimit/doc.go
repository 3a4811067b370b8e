// Package ratelimit liga o rate limit de janela fixa ao pipeline de admissão HTTP.
//
// Visão geral (camadas):
//
//   - domain: contratos e a regra da janela fixa (sem dependência de net/http)
//   - application: casos de uso (decisão allow/deny, acquire/timeout) sem net/http
//   - infra: implementações concretas (memória, Redis, semáforo, estatísticas)
//   - ratelimit (este pacote): estágio de admissão + extração de chave + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai a chave do cliente (header de API key, XFF ou IP)
//  2. Chama a camada application para obter a decisão
//  3. Se bloqueado, o pipeline responde 429 com Retry-After
//  4. Se permitido, segue para as rotas (com limite de concorrência opcional)
//
// Variáveis de ambiente do binário (cmd/gateway) controlam o comportamento,
// como API_MAX_REQUESTS_PER_MINUTE, RATE_WINDOW, RATE_LIMIT_BACKEND e CONCURRENCY_MAX.
package ratelimit
