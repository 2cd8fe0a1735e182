// Package goodm provides an object-document mapper for BSON document stores.
//
// Define your documents as Go structs with `odm` struct tags and get
// deterministic BSON encoding, discriminator-driven polymorphism, eager and
// lazy references between documents, and a typed builder for filters,
// updates and aggregation pipelines.
//
// The module is organized into four packages:
//
//   - [github.com/CaliLuke/go-odm/gotype] — mapper core: models, codec registry, references, datastore
//   - [github.com/CaliLuke/go-odm/ast] — filter, update and aggregation nodes and their BSON compiler
//   - [github.com/CaliLuke/go-odm/driver] — document stores: in-memory, SQLite and LRU-cached
//   - [github.com/CaliLuke/go-odm/mapgen] — code generator: mapping schema to Go structs (CLI in cmd/mapgen)
//
// The wire format is read and written through the bsonrw primitives of the
// official MongoDB Go driver; no network client is required.
package goodm
