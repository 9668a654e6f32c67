// Package maintenance runs the periodic upkeep of the proxy: balancers pick
// up members and method changes recorded by other processes, balancer
// methods age their scheduling credit and connection pools drop idle
// connections that outlived their ttl.
package maintenance
