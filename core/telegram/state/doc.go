// Package state keeps per-user conversation sessions behind a small Store
// contract. Callers serialize access per user; backends only provide atomic
// single-key operations.
package state
