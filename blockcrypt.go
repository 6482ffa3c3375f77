package blockdedup

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// BlockCrypt is the block transform pipeline exposed to filesystem read and
// write paths. It encrypts and decrypts single content blocks, maintains the
// persisted content index, and on the read path recovers the true owner and
// logical position of a block from its ciphertext digest, so that a block
// the physical store has deduplicated away from its original owner still
// decrypts under the right key and IV.
type BlockCrypt struct {
	resolver  OwnerResolver
	positions PositionIndex
	store     *IndexStore
	log       *logrus.Logger

	// mu guards the reload/lookup/insert/flush sequence on the index, so at
	// most one transform transaction touches the persisted table at a time.
	mu    sync.Mutex
	index *ContentIndex
}

// New creates a block transform pipeline from the given configuration.
func New(config *Config) (*BlockCrypt, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	capacity := config.IndexCapacity
	if capacity == 0 {
		capacity = DefaultIndexCapacity
	}
	path := config.IndexPath
	if path == "" {
		path = DefaultIndexPath
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.New()
	}

	store, err := NewIndexStore(config.FS, path, capacity)
	if err != nil {
		return nil, err
	}
	index, err := NewContentIndex(capacity)
	if err != nil {
		return nil, err
	}

	return &BlockCrypt{
		resolver:  config.Resolver,
		positions: config.Positions,
		store:     store,
		log:       logger,
		index:     index,
	}, nil
}

// EncryptBlock encrypts one content block of the owning file at the given
// logical block number. When the resulting ciphertext digest is new, it is
// registered in the content index under the owner's id and the whole index
// is flushed back to storage.
func (bc *BlockCrypt) EncryptBlock(owner *Owner, lblk uint64, plaintext []byte) ([]byte, error) {
	if err := ValidateBlock(plaintext, ContentAlignment); err != nil {
		return nil, err
	}
	if err := owner.RequireKeyAvailable(); err != nil {
		return nil, err
	}

	iv, err := GenerateIV(lblk, owner)
	if err != nil {
		return nil, err
	}
	ciphertext, err := owner.engine.Encrypt(iv, plaintext)
	if err != nil {
		return nil, NewCryptoError("encrypt", owner.ID, lblk, err)
	}

	if err := bc.registerDigest(NewDigest(ciphertext), owner.ID); err != nil {
		return nil, err
	}
	return ciphertext, nil
}

// registerDigest records digest -> owner in the content index if the digest
// is not yet known. The durable table is reloaded before the insert and
// rewritten after it, all under the pipeline mutex, so the in-memory table
// never diverges from the persisted copy across transactions.
func (bc *BlockCrypt) registerDigest(d Digest, owner uint64) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if _, ok := bc.index.Lookup(d); ok {
		return nil
	}

	index, err := bc.store.Load()
	if err != nil {
		return err
	}
	bc.index = index

	if _, ok := bc.index.Lookup(d); ok {
		return nil
	}
	if err := bc.index.Insert(d, owner); err != nil {
		return err
	}
	if err := bc.store.Flush(bc.index); err != nil {
		return err
	}
	bc.log.WithFields(logrus.Fields{
		"digest":  d.String(),
		"owner":   owner,
		"entries": bc.index.Len(),
	}).Debug("registered ciphertext digest")
	return nil
}

// DecryptBlock decrypts one content block. The caller's owner and logical
// block number are hints only: the ciphertext digest is looked up in the
// content index and the position recovery index, and when either returns a
// different answer the recovered owner and position are used to re-derive
// the IV. A block deduplicated onto another file therefore decrypts under
// its original key even though the caller asked on behalf of the wrong file.
func (bc *BlockCrypt) DecryptBlock(owner *Owner, lblk uint64, ciphertext []byte) ([]byte, error) {
	if err := ValidateBlock(ciphertext, ContentAlignment); err != nil {
		return nil, err
	}

	d := NewDigest(ciphertext)
	resolved, err := bc.resolveOwner(d, owner)
	if err != nil {
		return nil, err
	}

	resolvedLblk := lblk
	if bc.positions != nil {
		n, ok, err := bc.positions.LookupLogicalBlock(d)
		if err != nil {
			return nil, NewPersistenceError("position-lookup", "", err)
		}
		if ok {
			resolvedLblk = n
		}
	}

	if err := resolved.RequireKeyAvailable(); err != nil {
		return nil, err
	}
	iv, err := GenerateIV(resolvedLblk, resolved)
	if err != nil {
		return nil, err
	}
	plaintext, err := resolved.engine.Decrypt(iv, ciphertext)
	if err != nil {
		return nil, NewCryptoError("decrypt", resolved.ID, resolvedLblk, err)
	}
	return plaintext, nil
}

// resolveOwner reloads the content index from storage and resolves the true
// owner of the ciphertext digest. A miss falls back to the requested owner.
func (bc *BlockCrypt) resolveOwner(d Digest, requested *Owner) (*Owner, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	index, err := bc.store.Load()
	if err != nil {
		return nil, err
	}
	bc.index = index

	id, ok := bc.index.Lookup(d)
	if !ok || id == requested.ID {
		return requested, nil
	}

	owner, err := bc.resolver.ResolveOwner(id)
	if err != nil {
		return nil, NewKeyError(id, "failed to resolve recovered owner", err)
	}
	if err := owner.RequireKeyAvailable(); err != nil {
		return nil, err
	}
	bc.log.WithFields(logrus.Fields{
		"digest":    d.String(),
		"requested": requested.ID,
		"resolved":  id,
	}).Debug("content index overrode requested owner")
	return owner, nil
}
