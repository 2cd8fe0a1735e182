// Package driver provides document stores for the gotype Datastore.
//
// Three stores implement the gotype.DocumentStore contract: an in-memory
// store with msgpack snapshots, a SQLite store built on the pure-Go
// modernc.org/sqlite driver, and a read-through cache that wraps either.
// Open selects one from a URI:
//
//	mem://                  in-memory store
//	sqlite://path/to/db     SQLite file
//	sqlite://:memory:       private in-memory SQLite database
//
// Documents are keyed by collection plus the id's BSON type and bytes, so
// int32(1) and int64(1) are distinct ids.
package driver
