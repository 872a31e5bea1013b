// Package journal persists orphaned invocations reclaimed by the reaper.
//
// An orphan is an invocation whose ready event could not be posted, usually
// because the dispatch loop had already shut down. The reaper removes it from
// the registry; the journal keeps a record so operators can see what work was
// dropped and when.
//
// The journal is a single SQLite table opened in WAL mode with one writer
// connection. Entries are keyed by ULID so that List returns them in reap
// order without a separate sequence column.
package journal
