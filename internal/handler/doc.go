// Package handler is the HTTP front of the proxy. It maps request paths to
// balancer or worker URLs, runs each request through the proxy controller
// and speaks HTTP/1.1 to the backend over the pooled connection it is
// handed.
package handler
