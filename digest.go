package blockdedup

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// DigestSize is the width of a block content fingerprint in bytes.
const DigestSize = 16

// Digest is a fixed-width deterministic fingerprint of a block's bytes,
// used as the content-addressing key of the dedup tables. It is a content
// fingerprint, not an adversarially collision-resistant commitment.
type Digest [DigestSize]byte

// NewDigest computes the BLAKE2b-128 fingerprint of a block. The function is
// pure and stable across process restarts, which the persisted index depends
// on.
func NewDigest(block []byte) Digest {
	h, err := blake2b.New(DigestSize, nil)
	if err != nil {
		// blake2b.New only fails for oversized keys; none is passed.
		panic(err)
	}
	h.Write(block)
	var d Digest
	h.Sum(d[:0])
	return d
}

// Bucket returns the home slot of the digest in a table with the given
// capacity. The digest bytes are already uniformly distributed, so the low
// 64 bits reduce cleanly; the mapping is deterministic and stable, which is
// all the table contract requires.
func (d Digest) Bucket(capacity int) int {
	return int(binary.LittleEndian.Uint64(d[:8]) % uint64(capacity))
}

// String returns the hex form of the digest
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}
