// Package crawl implements full reconciliation between the source-of-record
// and the search index.
//
// One Crawler handles one entity kind. A pass:
//  1. Loads minimal local snapshots (id, owners, updated) and every remote
//     document of the type, and builds the owner index.
//  2. Deletes remote documents with no local entity, in one bulk request.
//  3. Adds local entities with no remote document: fetched in full, grouped
//     by owner, enriched, and written in one bulk request.
//  4. Updates entities present on both sides whose local timestamp is
//     strictly newer than the remote "updated" field, in one bulk request.
//
// A failing phase is logged and recorded in the Report; later phases still
// run. Nothing carries over between passes.
//
// An entity whose timestamp is missing on either side is never considered
// updated. Sources that cannot report freshness therefore only get new
// entities indexed; changes to existing ones wait for a cleared index.
package crawl
