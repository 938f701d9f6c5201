// Package hash provides pooled blake3 hashing.
package hash

import (
	"sync"

	"github.com/zeebo/blake3"
)

// Size of the digest in bytes.
const Size = 32

var hashers = sync.Pool{New: func() any { return blake3.New() }}

// Sum returns blake3 digest of all chunks written in order.
func Sum(chunks ...[]byte) [Size]byte {
	hasher := hashers.Get().(*blake3.Hasher)
	defer func() {
		hasher.Reset()
		hashers.Put(hasher)
	}()
	for _, chunk := range chunks {
		hasher.Write(chunk)
	}
	var rst [Size]byte
	hasher.Sum(rst[:0])
	return rst
}

// New returns a fresh hasher that isn't tied to the pool.
func New() *blake3.Hasher {
	return blake3.New()
}
