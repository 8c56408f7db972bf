// Package doc provides the document and entity types shared by the index
// connectors, the reconciliation engine and the incremental synchronizer.
//
// This package imports nothing internal. Every other internal package may
// import it.
//
// Wire conventions:
//   - "id" is mandatory and is the document's primary key
//   - "updated", when present, is an epoch-millisecond number
//   - "origin" lists the owning user IDs of multi-owner documents
//   - "whitelist" lists the user IDs allowed to see a feed entry
package doc
