// Package connpool keeps a bounded set of reusable backend connections for
// a single worker.
//
// A pool never holds more than HMax live connections, counting both idle
// and checked-out ones. Acquire hands out an idle connection when one is
// fresh, creates a new one while below HMax, and otherwise waits up to the
// configured acquire timeout for a release. Sockets are dialed lazily by
// Conn.Connect so that dial failures surface as connect errors and not as
// pool errors.
package connpool
