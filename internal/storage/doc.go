// Package storage persists the set of asset identifiers that were already
// delivered (the dedup store).
//
// Two drivers are available:
//   - "sqlite": a single-table SQLite database (default)
//   - "file": a dependency-free append-only JSON Lines journal
//
// Both are append-only: identifiers are never updated or deleted.
package storage
