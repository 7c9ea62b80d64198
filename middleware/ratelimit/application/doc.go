// Package application contém o caso de uso de controle de admissão.
//
// Ele depende apenas de domain/infra e não conhece net/http.
// Ex.: Controller.Decide(identifier, category) retorna uma Decision
// (allow/deny + restante + retry-after), e Controller.Start mantém a limpeza
// periódica das janelas expiradas.
package application
