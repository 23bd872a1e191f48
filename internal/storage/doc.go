// Package storage provides the durable key/value layer behind the sequence
// library.
//
// Drivers:
//   - "file": one JSON document per key, written atomically (tmp + rename)
//   - "sqlite": a single kv table in a SQLite database file
//   - "memory": the file driver over an in-memory filesystem (tests, dry runs)
package storage
