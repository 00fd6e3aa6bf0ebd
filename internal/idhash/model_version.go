// Package idhash derives deterministic identifiers from content.
package idhash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// ComputeModelVersion identifies a pair of model artifacts.
// Formula: SHA256(len(transform)|transform|len(cluster)|cluster), lengths as
// big-endian uint64 so that moving bytes between the two files changes the id.
// Returns hex-encoded hash (64 characters).
func ComputeModelVersion(transform, cluster []byte) string {
	h := sha256.New()
	var n [8]byte
	for _, part := range [][]byte{transform, cluster} {
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Short returns the first 12 characters of a version hash, for logs.
func Short(version string) string {
	if len(version) <= 12 {
		return version
	}
	return version[:12]
}
