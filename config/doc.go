// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the proxy's server addresses, the
// shared status store, standalone workers, balancers with their members and
// the route table.
package config
