// Package worker pairs a backend endpoint's shared status record with the
// connection pool this process keeps for it.
package worker
