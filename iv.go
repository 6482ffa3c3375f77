package blockdedup

import (
	"encoding/binary"
	"math"
)

// IVSize is the width of the IV buffer handed to cipher engines. Engines
// consume the prefix their mode needs.
const IVSize = 32

// IV buffer layout: the logical block number occupies bytes 0-7 as a
// little-endian 64-bit value and the file nonce field occupies bytes 8-23.
// The two fields never overlap.
const (
	ivNonceOffset = 8
	ivNonceEnd    = ivNonceOffset + FileNonceSize
)

// IV is the per-block initialization vector handed to the cipher engine.
type IV [IVSize]byte

// GenerateIV derives the IV for the given logical block number within the
// owning file. The derivation is a pure function of the block number and the
// owner's policy, so the same (owner, block) pair always reproduces the same
// IV; decryption depends on that to regenerate the IV after recovering the
// true owner and position from content alone.
func GenerateIV(lblk uint64, owner *Owner) (IV, error) {
	var iv IV

	switch {
	case owner.PolicyFlags&PolicyIVOwnerLblk64 != 0:
		if lblk > math.MaxUint32 {
			return iv, NewValidationError("lblk", lblk,
				"logical block number must fit in 32 bits under the owner-in-high-32 policy")
		}
		if owner.ID > math.MaxUint32 {
			return iv, NewValidationError("owner_id", owner.ID,
				"owner id must fit in 32 bits under the owner-in-high-32 policy")
		}
		lblk |= owner.ID << 32
	case owner.PolicyFlags&PolicyIVOwnerLblk32 != 0:
		lblk = uint64(hashOwnerID(owner.ID) + uint32(lblk))
	case owner.PolicyFlags&PolicyDirectKey != 0:
		copy(iv[ivNonceOffset:ivNonceEnd], owner.Nonce[:])
	}

	binary.LittleEndian.PutUint64(iv[:8], lblk)
	return iv, nil
}

// hashOwnerID reduces an owner identifier to the stable 32-bit form used by
// the owner-hash-in-32 policy.
func hashOwnerID(id uint64) uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], id)
	d := NewDigest(buf[:])
	return binary.LittleEndian.Uint32(d[:4])
}
