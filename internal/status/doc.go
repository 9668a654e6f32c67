// Package status is the shared status store: fixed-layout worker and
// balancer records addressed by a stable slot index.
//
// Records are encoded into slotmem tables so that several processes mapping
// the same file interpret them identically. Anything that only makes sense
// inside one process (locks, pools, handles) stays out of the records and is
// keyed by the slot index instead.
package status
