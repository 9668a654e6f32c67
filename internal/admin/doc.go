// Package admin implements the balancer manager: a JSON view of every
// balancer and worker and form endpoints that change worker status bits,
// balancer settings and balancer membership at runtime. Every change must
// carry the balancer's nonce.
package admin
