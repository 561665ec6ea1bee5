// Package server provides the HTTP API surface for the attache application.
//
// # Key Components
//
// Server wires the chat engine, OAuth connect flow, and provider adapters
// behind a versioned REST API:
//   - POST /v1/chat: one conversational turn through the propose/confirm engine
//   - GET /v1/oauth/{provider}/start and /callback: provider connect flow
//   - GET /v1/oauth/status: connected-state per provider
//   - POST /v1/actions/{send-email,create-event,delete-event}: direct execution
//   - GET|DELETE /v1/actions/pending: inspect or discard the pending proposal
//   - GET /v1/mail and /v1/calendar: normalized provider listings
//
// All routes except the OAuth callback and health probes require a bearer
// identity token verified by the auth package. Errors leave the API as a
// uniform JSON envelope; upstream stack traces never reach the client.
//
// MetricsServer serves Prometheus metrics on a dedicated port, isolating
// operational metrics from application traffic.
//
// HealthChecker provides the liveness and readiness endpoints for
// orchestration probes.
package server
