// Package store persists cache entries so they survive process restarts.
//
// A Store maps fingerprints to JSON results. It is loaded once when a cache is
// constructed and appended to every time a new result is produced. Four
// backends are available:
//
//   - ModeLog (default): line-delimited JSON records appended to one file.
//     Writes are O(1) and a crash can at worst leave a torn final line,
//     which is skipped on the next load.
//   - ModeSnapshot: the whole mapping as one JSON object, rewritten through
//     a temporary file and an atomic rename on every append.
//   - ModeBolt: a bbolt database with one bucket of entries.
//   - ModeSQLite: a SQLite database with one table of entries.
//
// Entries are never overwritten: once a fingerprint has a value, later
// appends for it are either ignored (bolt, sqlite) or superseded on replay by
// the latest record (log, snapshot), which the cache never produces because
// it only appends on a miss.
package store
