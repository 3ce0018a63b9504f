// Package logx configures steamwatch's structured logging.
//
// Components log through logx.Logger, a small value type on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured
//   - An optional alert sink forwards warnings to an operator chat
//     (min-level + rate limited, never blocks the caller)
package logx
