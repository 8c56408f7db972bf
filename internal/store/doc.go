// Package store is the SQL-backed source-of-record for people, friendships,
// skills, activities and messages.
//
// It serves three roles:
//   - crawl sources: Profiles, Activities and Messages list entities with
//     their owners and fetch full documents per owner
//   - syncer directory: Friends, Skills and Profile answer lookups made
//     while applying events
//   - seeding: Put*/Add*/Remove* writes and Import of a YAML fixture
//
// # Backends
//
// Open accepts a SQLite path (or sqlite:/file: DSN) or a postgres:// URL.
// Queries are written with "?" placeholders and rebound to $N for
// PostgreSQL.
//
// SQLite databases are configured with:
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// # Timestamps
//
// "updated" columns hold epoch milliseconds. NULL means the source cannot
// tell when the entity last changed; such entities are never re-fetched by
// a crawl once indexed.
package store
