// Package httpserver wraps net/http's server with address validation,
// graceful shutdown and context-driven lifetime.
package httpserver
