// Package syncer applies entity lifecycle events to the search index.
//
// A Synchronizer translates one event into connector calls. It is
// stateless apart from reads of the index itself: updates fall back to
// adds when the document is missing, and message events maintain the
// document's "origin" owner list across creates, updates and deletes.
//
// A Dispatcher fans events out to a fixed number of single-writer shards.
// Events for the same document always land on the same shard, so they are
// applied in submission order; events for different documents may run in
// parallel.
package syncer
