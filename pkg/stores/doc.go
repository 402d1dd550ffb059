// Package stores keeps the plan history for cookbook runs in SQLite.
// Plans are stored as deterministic CBOR, compressed with zstd and
// addressed by their content-derived ID; a BLAKE3 digest guards each
// payload. Convergence events are kept alongside the plan they belong to.
package stores
