// Package index provides the connector façade over the search index.
//
// A Backend is the transport: it speaks to Elasticsearch, SQLite, Badger or
// an in-memory map. A connector layers the index contract on top of it:
//   - createIndex ignores "already exists"
//   - add creates the index when absent and overwrites existing documents
//   - update fails with NOT_FOUND when the document is absent
//   - delete is a no-op when the index is absent
//   - getAll returns every document of a type, or nothing when the index is absent
//   - bulk operations log partial failures without aborting the batch
//
// Two strategies satisfy the contract. Eager issues one backend call per
// operation. Batching queues mutations and flushes on whichever of max
// actions, max bytes or max interval triggers first, with at most one batch
// in flight.
package index
