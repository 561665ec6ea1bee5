// Package instrumentation provides OpenTelemetry instrumentation for the
// attache server.
//
// This package enables production-grade observability through:
//   - OpenTelemetry metrics for HTTP requests, chat turns, provider calls,
//     LLM calls, and OAuth connects
//   - Distributed tracing for request flows and upstream calls
//   - Prometheus metrics export via /metrics endpoint on a dedicated port
//   - OTLP export support for modern observability platforms
//   - An audit trail for every confirmed side effect
//
// # Metrics
//
// The package exposes the following metric categories:
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, route, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//
// Engine Metrics:
//   - chat_turns_total: Counter of chat turns by engine outcome
//   - pending_actions: Gauge of stored proposals awaiting confirmation
//   - actions_executed_total: Counter of confirmed side effects by action and provider
//
// Upstream Metrics:
//   - provider_operations_total / provider_operation_duration_seconds
//   - llm_calls_total / llm_call_duration_seconds
//   - oauth_connects_total: Counter of connect attempts by provider and result
//
// # Cardinality
//
// Route patterns, action types, providers, and outcomes are all small closed
// sets. User identifiers only appear as labels when DetailedLabels is
// enabled, and then only as truncated hashes.
package instrumentation
