// Package internal holds shared helpers for the credo engine: secure
// recovery-code generation and small string utilities. Nothing here is part
// of the public API.
package internal
