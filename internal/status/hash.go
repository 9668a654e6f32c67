package status

import (
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Hashes is a pair of independent hashes of an identity key. Matching on
// both keeps the chance of two different workers colliding negligible when
// records are rediscovered by name after a restart.
type Hashes struct {
	Def uint32
	FNV uint32
}

// Hash computes both hashes of key.
func Hash(key string) Hashes {
	x := xxhash.Sum64String(key)
	f := fnv.New32a()
	_, _ = f.Write([]byte(key))
	return Hashes{
		Def: uint32(x ^ x>>32),
		FNV: f.Sum32(),
	}
}

// WorkerKey is the identity of a worker endpoint. Scheme and host are case
// insensitive, the route is not.
func WorkerKey(scheme, hostname string, port int, route string) string {
	return strings.ToLower(scheme) + "://" + strings.ToLower(hostname) + ":" + strconv.Itoa(port) + "/" + route
}
