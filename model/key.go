package model

import (
	"crypto/sha1" //nolint:gosec // non-cryptographic key derivation
	"encoding/binary"
)

// keyMask clears the top bit so keys fit into a signed 64-bit column.
const keyMask = 1<<63 - 1

// DeriveKey computes the stable internal key for a document.
//
// The derivation is a namespaced hash: SHA-1 over the collection id, a zero
// separator, and the external id, taking the top 64 bits masked to 63. The
// same (collection, id) pair always yields the same key, which is what makes
// re-adding a document an upsert instead of a duplicate.
func DeriveKey(collectionID, externalID string) Key {
	h := sha1.New() //nolint:gosec
	h.Write([]byte(collectionID))
	h.Write([]byte{0})
	h.Write([]byte(externalID))
	sum := h.Sum(nil)
	return Key(binary.BigEndian.Uint64(sum[:8]) & keyMask)
}
