// Package store persists per-user OAuth credentials and the single-slot
// pending action awaiting confirmation. Two implementations are provided:
// an in-memory store for tests and development, and a sqlite-backed store
// for durable single-node deployments.
package store
