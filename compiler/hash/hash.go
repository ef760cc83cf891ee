// Package hash computes content hashes of script ASTs. Equal hashes mean
// structurally identical programs, so a hash can key caches of compiled
// code across edits to a verb.
package hash

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/viwo/viwo/vm"
)

// Sum computes the SHA-256 content hash of node over its deterministic
// serialization.
func Sum(node vm.Node) [32]byte {
	return sha256.Sum256(Serialize(node))
}

// String returns the content hash of node in hex.
func String(node vm.Node) string {
	sum := Sum(node)
	return hex.EncodeToString(sum[:])
}
