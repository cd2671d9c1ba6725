// Package logx configures campusbot's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp, key=value fields)
//   - File output JSON-structured
//   - Levels and sinks swappable at runtime via Service.Apply
package logx
