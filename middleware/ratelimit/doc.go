// Package ratelimit fornece o adapter HTTP (net/http) do controle de admissão.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: Controller (decisão allow/deny por categoria + limpeza periódica)
//   - infra: implementações concretas (store de janelas em shards, stats, métricas)
//   - ratelimit (este pacote): middleware HTTP + extração de chave/categoria + tradução para status/headers
//
// Fluxo no gateway:
//
//   1) Extrai a chave do cliente (header/XFF/IP) e a categoria (prefixo do path)
//   2) Chama o Controller para obter a decisão
//   3) Se bloqueado, responde 429 com Retry-After
//   4) Se permitido, chama o próximo handler (ex: reverse proxy)
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como RATE_POLICY_FILE, RATE_ROUTE_CATEGORIES e RATE_SWEEP_INTERVAL.
package ratelimit
