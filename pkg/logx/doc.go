// Package logx configures anchord's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Repeated warnings rate limited per key (Throttle)
package logx
