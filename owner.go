package blockdedup

import (
	"crypto/sha512"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// FileNonceSize is the width of a file's encryption nonce in bytes.
const FileNonceSize = 16

// fileKeyInfo labels the per-file key derivation so keys derived for other
// purposes from the same master key can never collide with content keys.
var fileKeyInfo = []byte("blockdedup file content key v1")

// Owner is a live handle to an owning file: its identifier, IV policy,
// nonce and content key. Key material is borrowed for the duration of one
// encrypt or decrypt call; the handle itself may outlive its key (see
// DropKey).
type Owner struct {
	ID          uint64
	PolicyFlags PolicyFlag
	Suite       CipherSuite
	Nonce       [FileNonceSize]byte

	engine CipherEngine
}

// NewOwner creates an owner handle with a freshly minted file nonce and a
// content key derived from masterKey and that nonce. The id must be nonzero;
// zero is the content index's empty-slot sentinel.
func NewOwner(id uint64, flags PolicyFlag, suite CipherSuite, masterKey []byte) (*Owner, error) {
	var nonce [FileNonceSize]byte
	u := uuid.New()
	copy(nonce[:], u[:])
	return NewOwnerWithNonce(id, flags, suite, masterKey, nonce)
}

// NewOwnerWithNonce creates an owner handle with an explicit file nonce,
// for files whose nonce was already persisted by the host filesystem.
func NewOwnerWithNonce(id uint64, flags PolicyFlag, suite CipherSuite, masterKey []byte, nonce [FileNonceSize]byte) (*Owner, error) {
	if err := ValidateOwnerID(id); err != nil {
		return nil, err
	}
	keySize := suite.KeySize()
	if keySize == 0 {
		return nil, ErrUnsupportedSuite
	}
	if len(masterKey) == 0 {
		return nil, NewValidationError("master_key", nil, "master key cannot be empty")
	}

	key, err := deriveFileKey(masterKey, nonce, keySize)
	if err != nil {
		return nil, err
	}
	engine, err := NewCipherEngine(suite, key)
	if err != nil {
		return nil, err
	}

	return &Owner{
		ID:          id,
		PolicyFlags: flags,
		Suite:       suite,
		Nonce:       nonce,
		engine:      engine,
	}, nil
}

// NewOwnerWithEngine creates an owner handle around an existing cipher
// engine, bypassing key derivation. Intended for callers that manage keys
// themselves.
func NewOwnerWithEngine(id uint64, flags PolicyFlag, engine CipherEngine) (*Owner, error) {
	if err := ValidateOwnerID(id); err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, NewValidationError("engine", nil, "cipher engine cannot be nil")
	}
	o := &Owner{
		ID:          id,
		PolicyFlags: flags,
		engine:      engine,
	}
	u := uuid.New()
	copy(o.Nonce[:], u[:])
	return o, nil
}

// deriveFileKey derives a per-file content key from the master key and the
// file's nonce using HKDF-SHA512.
func deriveFileKey(masterKey []byte, nonce [FileNonceSize]byte, size int) ([]byte, error) {
	info := make([]byte, 0, len(fileKeyInfo)+FileNonceSize)
	info = append(info, fileKeyInfo...)
	info = append(info, nonce[:]...)

	key := make([]byte, size)
	r := hkdf.New(sha512.New, masterKey, nil, info)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive file key: %w", err)
	}
	return key, nil
}

// RequireKeyAvailable reports whether the owner's key material can be used
// for cipher operations.
func (o *Owner) RequireKeyAvailable() error {
	if o.engine == nil {
		return NewKeyError(o.ID, ErrKeyUnavailable.Error(), ErrKeyUnavailable)
	}
	return nil
}

// DropKey detaches the owner's key material, as the host filesystem does
// when a key is evicted. Subsequent cipher operations fail with a KeyError.
func (o *Owner) DropKey() {
	o.engine = nil
}

// MemOwnerResolver is an in-memory owner registry implementing
// OwnerResolver. The host filesystem's inode lookup takes this role in
// production; the registry serves embedders and tests.
type MemOwnerResolver struct {
	mu     sync.RWMutex
	owners map[uint64]*Owner
}

// NewMemOwnerResolver creates an empty owner registry
func NewMemOwnerResolver() *MemOwnerResolver {
	return &MemOwnerResolver{
		owners: make(map[uint64]*Owner),
	}
}

// Register adds an owner to the registry, replacing any previous handle
// with the same id.
func (r *MemOwnerResolver) Register(o *Owner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[o.ID] = o
}

// ResolveOwner returns the owner registered under id
func (r *MemOwnerResolver) ResolveOwner(id uint64) (*Owner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.owners[id]
	if !ok {
		return nil, fmt.Errorf("owner %d: %w", id, ErrOwnerNotFound)
	}
	return o, nil
}
