// Package cmd implements the attache command line interface.
//
// The binary has one real mode: serve, which starts the API server for the
// mobile chat client. Configuration comes from environment variables with a
// handful of flag overrides; see the serve command help for the list.
package cmd
