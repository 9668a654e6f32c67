// Package slotmem provides fixed-size slot tables that can be shared between
// processes on the same host.
//
// A table is a header, an in-use word per slot, and an array of fixed-size
// records. Each record is prefixed by a sequence word used as a seqlock:
// writers flip it odd for the duration of an update, readers retry while it
// is odd or changed underneath them. Process-local state (mutexes) never
// lives in the shared region; it is kept in a table keyed by slot index.
//
// Two providers share the exact byte layout:
//
//   - NewMemory keeps the table in process memory (single process, tests).
//   - OpenFile maps a file with mmap so that every process opening the same
//     path observes the same records, and the records survive a restart.
//
// Structural changes (Grab, Free) must be made while holding Lock, which is
// the cross-process lock of the table. Record updates only take the per-slot
// lock and are safe without it.
package slotmem
