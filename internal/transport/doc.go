// Package transport opens and probes the backend sockets pooled by
// connpool. It knows nothing about the protocol spoken over them.
package transport
