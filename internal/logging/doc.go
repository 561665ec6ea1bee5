// Package logging provides structured logging helpers built on log/slog.
//
// It defines canonical attribute keys used across the codebase, helpers for
// attaching common attributes (operation, provider, anonymized user id), and
// PII-safe formatting of tokens and user identifiers for log output.
package logging
