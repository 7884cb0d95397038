// Package viz renders calculation progress and matrix summaries in the
// terminal.
//
//   - [Progress]: Bubble Tea model fed by an [Observer] during a run
//   - [Summary]: styled panel with asciigraph charts for finished runs
//
// # Key Bindings
//
//	q - abort the running calculation
package viz
