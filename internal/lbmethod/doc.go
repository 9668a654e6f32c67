// Package lbmethod provides the built-in election methods and the registry
// balancers resolve them from.
//
// All scheduling state lives in the members' shared records, so processes
// sharing a status store converge on the same weighted schedule without
// coordinating on every request.
package lbmethod
