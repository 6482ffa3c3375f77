package blockdedup

import (
	"bytes"
	"testing"

	"github.com/absfs/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipelineFixture struct {
	bc       *BlockCrypt
	resolver *MemOwnerResolver
	store    *DedupStore
}

func setupPipeline(t *testing.T) *pipelineFixture {
	t.Helper()

	fs, err := memfs.NewFS()
	require.NoError(t, err)

	store, err := OpenDedupStore(DedupStoreConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	resolver := NewMemOwnerResolver()
	bc, err := New(&Config{
		FS:            fs,
		IndexCapacity: 1 << 10,
		Resolver:      resolver,
		Positions:     store,
	})
	require.NoError(t, err)

	return &pipelineFixture{bc: bc, resolver: resolver, store: store}
}

func (f *pipelineFixture) newOwner(t *testing.T, id uint64, flags PolicyFlag, suite CipherSuite) *Owner {
	t.Helper()
	owner, err := NewOwner(id, flags, suite, testMasterKey)
	require.NoError(t, err)
	f.resolver.Register(owner)
	return owner
}

func TestNew_ConfigValidation(t *testing.T) {
	fs, err := memfs.NewFS()
	require.NoError(t, err)

	_, err = New(nil)
	assert.ErrorIs(t, err, ErrNilConfig)

	_, err = New(&Config{Resolver: NewMemOwnerResolver()})
	assert.ErrorIs(t, err, ErrNilFilesystem)

	_, err = New(&Config{FS: fs})
	assert.ErrorIs(t, err, ErrNilResolver)
}

func TestBlockCrypt_EncryptDecryptInverse(t *testing.T) {
	tests := []struct {
		name  string
		suite CipherSuite
		flags PolicyFlag
	}{
		{"xts default policy", SuiteAES256XTS, 0},
		{"xts owner-in-high-32", SuiteAES256XTS, PolicyIVOwnerLblk64},
		{"xts owner-hash-in-32", SuiteAES256XTS, PolicyIVOwnerLblk32},
		{"xchacha direct-key", SuiteXChaCha20, PolicyDirectKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupPipeline(t)
			owner := f.newOwner(t, 42, tt.flags, tt.suite)
			plaintext := bytes.Repeat([]byte("payload!"), 512) // 4 KiB block

			ciphertext, err := f.bc.EncryptBlock(owner, 5, plaintext)
			require.NoError(t, err)
			require.NotEqual(t, plaintext, ciphertext)

			recovered, err := f.bc.DecryptBlock(owner, 5, ciphertext)
			require.NoError(t, err)
			assert.Equal(t, plaintext, recovered)
		})
	}
}

func TestBlockCrypt_Validation(t *testing.T) {
	f := setupPipeline(t)
	owner := f.newOwner(t, 42, 0, SuiteAES256XTS)

	_, err := f.bc.EncryptBlock(owner, 0, nil)
	assert.True(t, IsValidationError(err), "empty block must be rejected")

	_, err = f.bc.EncryptBlock(owner, 0, make([]byte, 17))
	assert.True(t, IsValidationError(err), "misaligned block must be rejected")

	_, err = f.bc.DecryptBlock(owner, 0, make([]byte, 33))
	assert.True(t, IsValidationError(err), "misaligned ciphertext must be rejected")
}

// TestBlockCrypt_DedupOwnerRecovery is the defining scenario: a block
// encrypted by owner 42 at position 0 is read back on behalf of owner 99 at
// position 7, and must still decrypt with owner 42's key at position 0.
func TestBlockCrypt_DedupOwnerRecovery(t *testing.T) {
	f := setupPipeline(t)
	ownerA := f.newOwner(t, 42, PolicyIVOwnerLblk64, SuiteAES256XTS)
	ownerB := f.newOwner(t, 99, PolicyIVOwnerLblk64, SuiteAES256XTS)

	plaintext := bytes.Repeat([]byte("A"), 64)
	ciphertext, err := f.bc.EncryptBlock(ownerA, 0, plaintext)
	require.NoError(t, err)

	// The dedup write path records the block's true logical position.
	require.NoError(t, f.store.RecordLogicalBlock(NewDigest(ciphertext), 0))

	recovered, err := f.bc.DecryptBlock(ownerB, 7, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered,
		"decrypt must recover owner 42 and position 0 from content alone")
}

func TestBlockCrypt_PositionRecoveryWithSameOwner(t *testing.T) {
	f := setupPipeline(t)
	owner := f.newOwner(t, 42, PolicyIVOwnerLblk64, SuiteAES256XTS)

	plaintext := bytes.Repeat([]byte("Z"), 128)
	ciphertext, err := f.bc.EncryptBlock(owner, 3, plaintext)
	require.NoError(t, err)
	require.NoError(t, f.store.RecordLogicalBlock(NewDigest(ciphertext), 3))

	// Caller asks for the right file but the wrong offset; the position
	// index corrects it.
	recovered, err := f.bc.DecryptBlock(owner, 1000, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)
}

func TestBlockCrypt_DecryptMissFallsBackToCaller(t *testing.T) {
	f := setupPipeline(t)
	owner := f.newOwner(t, 42, PolicyIVOwnerLblk64, SuiteAES256XTS)

	// Ciphertext produced outside the pipeline: nothing registered in the
	// content index, no recorded position.
	plaintext := bytes.Repeat([]byte("Q"), 64)
	iv, err := GenerateIV(9, owner)
	require.NoError(t, err)
	ciphertext, err := owner.engine.Encrypt(iv, plaintext)
	require.NoError(t, err)

	recovered, err := f.bc.DecryptBlock(owner, 9, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered, "miss must fall back to caller-supplied context")
}

func TestBlockCrypt_KeyUnavailable(t *testing.T) {
	f := setupPipeline(t)
	ownerA := f.newOwner(t, 42, 0, SuiteAES256XTS)
	ownerB := f.newOwner(t, 99, 0, SuiteAES256XTS)

	plaintext := bytes.Repeat([]byte("K"), 64)
	ciphertext, err := f.bc.EncryptBlock(ownerA, 0, plaintext)
	require.NoError(t, err)

	ownerA.DropKey()

	_, err = f.bc.DecryptBlock(ownerB, 0, ciphertext)
	assert.True(t, IsKeyError(err), "recovered owner without key must fail the read")
	assert.ErrorIs(t, err, ErrKeyUnavailable)
}

func TestBlockCrypt_IndexSurvivesPipelineRestart(t *testing.T) {
	fs, err := memfs.NewFS()
	require.NoError(t, err)
	resolver := NewMemOwnerResolver()

	ownerA, err := NewOwner(42, PolicyIVOwnerLblk64, SuiteAES256XTS, testMasterKey)
	require.NoError(t, err)
	ownerB, err := NewOwner(99, PolicyIVOwnerLblk64, SuiteAES256XTS, testMasterKey)
	require.NoError(t, err)
	resolver.Register(ownerA)
	resolver.Register(ownerB)

	config := &Config{FS: fs, IndexCapacity: 1 << 8, Resolver: resolver}
	bc1, err := New(config)
	require.NoError(t, err)

	plaintext := bytes.Repeat([]byte("R"), 64)
	ciphertext, err := bc1.EncryptBlock(ownerA, 0, plaintext)
	require.NoError(t, err)

	// A second pipeline over the same filesystem sees the persisted index.
	bc2, err := New(config)
	require.NoError(t, err)
	recovered, err := bc2.DecryptBlock(ownerB, 0, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)
}

// stubEngine lets tests engineer digest collisions: every encryption yields
// the same ciphertext regardless of input.
type stubEngine struct {
	ciphertext []byte
	plaintext  []byte
}

func (e *stubEngine) Encrypt(iv IV, block []byte) ([]byte, error) { return e.ciphertext, nil }

func (e *stubEngine) Decrypt(iv IV, block []byte) ([]byte, error) { return e.plaintext, nil }

func (e *stubEngine) IVSize() int { return 8 }

func TestBlockCrypt_EngineeredCollision(t *testing.T) {
	f := setupPipeline(t)

	sharedCiphertext := bytes.Repeat([]byte("C"), 64)
	plaintextA := bytes.Repeat([]byte("1"), 64)
	plaintextB := bytes.Repeat([]byte("2"), 64)

	ownerA, err := NewOwnerWithEngine(42, 0, &stubEngine{sharedCiphertext, plaintextA})
	require.NoError(t, err)
	ownerB, err := NewOwnerWithEngine(99, 0, &stubEngine{sharedCiphertext, plaintextB})
	require.NoError(t, err)
	f.resolver.Register(ownerA)
	f.resolver.Register(ownerB)

	// Both owners produce byte-identical ciphertext from distinct
	// plaintexts. The second registration must not displace the first.
	_, err = f.bc.EncryptBlock(ownerA, 0, plaintextA)
	require.NoError(t, err)
	_, err = f.bc.EncryptBlock(ownerB, 0, plaintextB)
	require.NoError(t, err)

	id, ok := f.bc.index.Lookup(NewDigest(sharedCiphertext))
	require.True(t, ok)
	assert.Equal(t, uint64(42), id, "first writer must keep the mapping")

	recovered, err := f.bc.DecryptBlock(ownerB, 0, sharedCiphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintextA, recovered, "collided ciphertext must resolve to the first owner")
}

func TestBlockCrypt_IndexCapacityExceeded(t *testing.T) {
	fs, err := memfs.NewFS()
	require.NoError(t, err)
	resolver := NewMemOwnerResolver()
	bc, err := New(&Config{FS: fs, IndexCapacity: 1, Resolver: resolver})
	require.NoError(t, err)

	owner, err := NewOwner(42, 0, SuiteAES256XTS, testMasterKey)
	require.NoError(t, err)
	resolver.Register(owner)

	_, err = bc.EncryptBlock(owner, 0, bytes.Repeat([]byte("a"), 16))
	require.NoError(t, err)

	_, err = bc.EncryptBlock(owner, 1, bytes.Repeat([]byte("b"), 16))
	assert.True(t, IsCapacityError(err), "second distinct digest must exhaust the one-slot table")
	assert.ErrorIs(t, err, ErrIndexFull)
}
