// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - WindowStore: janelas fixas por chave, mapa em shards (xxhash) com um mutex por shard
//   - MemoryStatsStore / RedisStatsStore: contadores de allow/deny
//   - Metrics: coletores Prometheus
package infra
