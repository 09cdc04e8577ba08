// Package store provides SQLite-backed durable storage for dispatch records.
//
// Every operator call routed by the dispatcher is appended as one row: which
// path it took (native or fallback), why, whether it was pinned to the
// designated thread, and how it failed. The log doubles as the fallback audit
// trail and as the source of per-operator fallback counts.
//
// # Ordering
//
// All ordering uses seq (the dispatcher's logical clock), never timestamps.
// Queries include ORDER BY seq ASC, id ASC COLLATE BINARY so results are
// identical across runs.
//
// # Database Configuration
//
// File databases use WAL with synchronous=NORMAL and a 5 second busy timeout
// (see WithBusyTimeout). The pool holds one connection. The schema is
// versioned through PRAGMA user_version and migrated forward on Open.
package store
