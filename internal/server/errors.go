package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/attache-app/attache/internal/auth"
	"github.com/attache-app/attache/internal/engine"
	"github.com/attache-app/attache/internal/llm"
	"github.com/attache-app/attache/internal/logging"
	"github.com/attache-app/attache/internal/oauthflow"
	"github.com/attache-app/attache/internal/provider"
	"github.com/attache-app/attache/internal/store"
)

// Error codes in the JSON envelope. The set is part of the API contract.
const (
	errCodeAuth         = "auth_error"
	errCodeBadRequest   = "bad_request"
	errCodeNotConnected = "not_connected"
	errCodeInvalidState = "invalid_state"
	errCodeUpstream     = "upstream_error"
	errCodeLLM          = "llm_error"
	errCodeStorage      = "storage_error"
	errCodeInternal     = "internal_error"
)

// errorEnvelope is the uniform failure response body.
type errorEnvelope struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// classify maps a domain error to an HTTP status, envelope code, and
// client-safe detail text. Raw upstream bodies and stack traces never leave
// the server.
func classify(err error) (int, string, string) {
	var badInput *engine.BadInputError
	if errors.As(err, &badInput) {
		return http.StatusBadRequest, errCodeBadRequest, badInput.Error()
	}

	var notConnected *engine.NotConnectedError
	if errors.As(err, &notConnected) {
		return http.StatusBadRequest, errCodeNotConnected,
			string(notConnected.Provider) + " isn't connected, reconnect in settings"
	}

	if errors.Is(err, auth.ErrInvalidToken) {
		return http.StatusUnauthorized, errCodeAuth, "missing or invalid identity token"
	}

	if errors.Is(err, oauthflow.ErrInvalidState) {
		return http.StatusBadRequest, errCodeInvalidState, "the connect link expired, start again"
	}

	var upstream *provider.UpstreamError
	if errors.As(err, &upstream) {
		return http.StatusBadGateway, errCodeUpstream,
			string(upstream.Provider) + " request failed, try again shortly"
	}

	var llmErr *llm.LLMError
	if errors.As(err, &llmErr) {
		return http.StatusBadGateway, errCodeLLM, "the assistant is unavailable, try again shortly"
	}

	var storageErr *store.StorageError
	if errors.As(err, &storageErr) {
		return http.StatusInternalServerError, errCodeStorage, "temporary storage problem"
	}

	return http.StatusInternalServerError, errCodeInternal, "something went wrong"
}

// writeError logs the full error server-side and writes the client-safe
// envelope.
func writeError(w http.ResponseWriter, logger *slog.Logger, operation string, err error) {
	status, code, details := classify(err)

	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	logger.Log(context.Background(), level, "request failed",
		logging.Operation(operation),
		logging.Status(logging.StatusError),
		slog.Int("http_status", status),
		logging.Err(err))

	writeJSON(w, status, errorEnvelope{OK: false, Error: code, Details: details})
}

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
