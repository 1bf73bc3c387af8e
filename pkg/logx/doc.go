// Package logx configures wprecur's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured, one event per line
//
// The zero Logger is a safe no-op, so components can accept a Logger by value
// and tests can leave it unset.
package logx
