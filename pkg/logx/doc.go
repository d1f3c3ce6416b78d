// Package logx configures tgcast's structured logging.
//
// logx.Logger is a small value-type wrapper over zerolog:
//   - console output stays readable (short timestamp + short caller)
//   - file output is JSON
//   - an optional alert sink forwards warnings to an operator chat
//
// Every sink masks bot credentials before writing.
package logx
