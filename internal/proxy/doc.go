// Package proxy drives a request through target resolution, connection
// acquisition, connect and forwarding, and reports the outcome back to the
// worker and balancer that served it.
//
// Do runs the whole lifecycle. A failure to acquire or connect under a
// balancer excludes the failed worker and elects again, up to the
// balancer's max attempts. Whatever happens, every checked-out connection
// is released and every elected worker is reported exactly once, and the
// finalize hook runs once per call.
package proxy
