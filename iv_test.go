package blockdedup

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func testOwner(t *testing.T, id uint64, flags PolicyFlag) *Owner {
	t.Helper()
	owner, err := NewOwner(id, flags, SuiteXChaCha20, []byte("test master key material........"))
	if err != nil {
		t.Fatalf("failed to create owner: %v", err)
	}
	return owner
}

func TestGenerateIV_Default(t *testing.T) {
	owner := testOwner(t, 42, 0)

	iv, err := GenerateIV(0x1122334455667788, owner)
	if err != nil {
		t.Fatalf("GenerateIV failed: %v", err)
	}

	if got := binary.LittleEndian.Uint64(iv[:8]); got != 0x1122334455667788 {
		t.Errorf("low bits = %#x, want 0x1122334455667788", got)
	}
	for i := 8; i < IVSize; i++ {
		if iv[i] != 0 {
			t.Errorf("byte %d = %#x, want 0 under default policy", i, iv[i])
		}
	}
}

func TestGenerateIV_OwnerLblk64(t *testing.T) {
	owner := testOwner(t, 42, PolicyIVOwnerLblk64)

	iv, err := GenerateIV(7, owner)
	if err != nil {
		t.Fatalf("GenerateIV failed: %v", err)
	}

	want := uint64(7) | uint64(42)<<32
	if got := binary.LittleEndian.Uint64(iv[:8]); got != want {
		t.Errorf("packed value = %#x, want %#x", got, want)
	}
}

func TestGenerateIV_OwnerLblk64_RangeChecks(t *testing.T) {
	tests := []struct {
		name  string
		owner uint64
		lblk  uint64
	}{
		{"lblk too large", 42, math.MaxUint32 + 1},
		{"owner too large", math.MaxUint32 + 1, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner := testOwner(t, tt.owner, PolicyIVOwnerLblk64)
			if _, err := GenerateIV(tt.lblk, owner); !IsValidationError(err) {
				t.Errorf("GenerateIV returned %v, want validation error", err)
			}
		})
	}
}

func TestGenerateIV_OwnerLblk32(t *testing.T) {
	owner := testOwner(t, 42, PolicyIVOwnerLblk32)

	iv0, err := GenerateIV(0, owner)
	if err != nil {
		t.Fatalf("GenerateIV failed: %v", err)
	}
	iv7, err := GenerateIV(7, owner)
	if err != nil {
		t.Fatalf("GenerateIV failed: %v", err)
	}

	base := binary.LittleEndian.Uint64(iv0[:8])
	if base != uint64(hashOwnerID(42)) {
		t.Errorf("lblk 0 value = %#x, want hashed owner %#x", base, hashOwnerID(42))
	}
	want := uint64(hashOwnerID(42) + 7)
	if got := binary.LittleEndian.Uint64(iv7[:8]); got != want {
		t.Errorf("lblk 7 value = %#x, want %#x", got, want)
	}

	// The hashed form stays within 32 bits.
	if base > math.MaxUint32 {
		t.Errorf("hashed owner value %#x exceeds 32 bits", base)
	}
}

func TestGenerateIV_DirectKey(t *testing.T) {
	owner := testOwner(t, 42, PolicyDirectKey)

	iv, err := GenerateIV(9, owner)
	if err != nil {
		t.Fatalf("GenerateIV failed: %v", err)
	}

	if !bytes.Equal(iv[ivNonceOffset:ivNonceEnd], owner.Nonce[:]) {
		t.Error("file nonce not copied into IV nonce field")
	}
	if got := binary.LittleEndian.Uint64(iv[:8]); got != 9 {
		t.Errorf("low bits = %d, want 9 (block number encoded after nonce copy)", got)
	}
}

func TestGenerateIV_Reproducible(t *testing.T) {
	for _, flags := range []PolicyFlag{0, PolicyIVOwnerLblk64, PolicyIVOwnerLblk32, PolicyDirectKey} {
		owner := testOwner(t, 42, flags)
		iv1, err := GenerateIV(3, owner)
		if err != nil {
			t.Fatalf("GenerateIV failed: %v", err)
		}
		iv2, err := GenerateIV(3, owner)
		if err != nil {
			t.Fatalf("GenerateIV failed: %v", err)
		}
		if iv1 != iv2 {
			t.Errorf("flags %#x: IV derivation not reproducible", flags)
		}
	}
}
