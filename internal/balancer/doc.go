// Package balancer groups workers into a named cluster and elects one of
// them per request.
//
// Election runs through a fixed pipeline before handing over to the
// pluggable Method: an inactive balancer refuses every request, a pending
// reset is applied, force recovery revives an all-failed cluster, and a
// request carrying a sticky route goes straight to the worker owning that
// route. Membership may grow at runtime, in this process through AddWorker
// or in another one, in which case Sync attaches the new members from the
// shared store.
package balancer
