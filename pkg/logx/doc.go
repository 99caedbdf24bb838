// Package logx configures hwbot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output in the classic "timestamp - LEVEL - message" shape
//   - File output JSON-structured
//   - Level changes live (Service.Apply) so config reloads take effect immediately
package logx
