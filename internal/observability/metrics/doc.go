// Package metrics holds the gateway's Prometheus collectors outside the
// resilience core: HTTP request metrics and LLM completion metrics.
//
// Collectors register on the registry passed in, normally the one owned by
// the resilience Prometheus recorder, so a single /metrics endpoint serves
// everything.
package metrics
