// Package logx is dreamplan's structured logging layer on top of zerolog.
//
// Logger is a small value type carrying fixed fields; Service owns the sinks
// (console as text or JSON, optional JSON file) and swaps them on Apply so
// every Logger derived from it follows config hot reload.
package logx
