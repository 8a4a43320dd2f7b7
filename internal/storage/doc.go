// Package storage persists scheduled occurrences and an audit trail of
// planning runs.
//
// Drivers:
//   - "memory": process-local maps (tests, one-shot CLI runs)
//   - "file": JSON Lines journals replayed into memory on open
//   - "sqlite": SQLite database via modernc.org/sqlite
//
// Occurrences are unique per (dream, action, occurrence number). Saving a run
// whose occurrences already exist leaves the stored rows untouched.
package storage
