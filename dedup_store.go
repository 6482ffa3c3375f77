package blockdedup

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// Key prefixes of the auxiliary dedup tables. All three tables share one
// key/value store; the prefix selects the table.
var (
	keyPrefixPosition = []byte("pos/") // ciphertext digest -> logical block number
	keyPrefixBlock    = []byte("blk/") // plaintext digest  -> physical block address
	keyPrefixRef      = []byte("ref/") // block address     -> reference count
)

// DedupStoreConfig configures the auxiliary dedup tables.
type DedupStoreConfig struct {
	// Path is the store directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the tables in memory only; used by tests and examples.
	InMemory bool

	// Logger receives store diagnostics. Defaults to logrus.New().
	Logger *logrus.Logger
}

// DedupStore holds the three auxiliary dedup tables:
// the position recovery table consulted by the decrypt path, and the
// plaintext-fingerprint and block-refcount tables maintained by the host
// filesystem's dedup write path. It implements PositionIndex.
type DedupStore struct {
	db  *badger.DB
	log *logrus.Logger
}

// OpenDedupStore opens the dedup tables at the configured location.
func OpenDedupStore(config DedupStoreConfig) (*DedupStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if !config.InMemory && config.Path == "" {
		return nil, NewValidationError("path", "", "store path cannot be empty")
	}

	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open dedup store: %w", err)
	}
	return &DedupStore{db: db, log: config.Logger}, nil
}

// Close closes the underlying store
func (s *DedupStore) Close() error {
	return s.db.Close()
}

func positionKey(d Digest) []byte {
	return append(append([]byte{}, keyPrefixPosition...), d[:]...)
}

func blockKey(d Digest) []byte {
	return append(append([]byte{}, keyPrefixBlock...), d[:]...)
}

func refKey(addr uint64) []byte {
	key := make([]byte, len(keyPrefixRef)+8)
	copy(key, keyPrefixRef)
	binary.LittleEndian.PutUint64(key[len(keyPrefixRef):], addr)
	return key
}

// txnGetUint64 reads a little-endian counter or position record inside txn.
func txnGetUint64(txn *badger.Txn, key []byte) (uint64, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var value uint64
	err = item.Value(func(v []byte) error {
		if len(v) != 8 {
			return fmt.Errorf("malformed record: %d bytes", len(v))
		}
		value = binary.LittleEndian.Uint64(v)
		return nil
	})
	return value, err == nil, err
}

func txnSetUint64(txn *badger.Txn, key []byte, value uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	return txn.Set(key, buf[:])
}

func (s *DedupStore) getUint64(key []byte) (uint64, bool, error) {
	var value uint64
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		value, found, err = txnGetUint64(txn, key)
		return err
	})
	if err != nil {
		return 0, false, fmt.Errorf("dedup store read: %w", err)
	}
	return value, found, nil
}

// recordFirst writes value under key unless a record already exists. First
// writer wins, matching the content index's no-overwrite rule.
func (s *DedupStore) recordFirst(key []byte, value uint64) (bool, error) {
	var wrote bool
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, found, err := txnGetUint64(txn, key); err != nil {
			return err
		} else if found {
			return nil
		}
		wrote = true
		return txnSetUint64(txn, key, value)
	})
	if err != nil {
		return false, fmt.Errorf("dedup store write: %w", err)
	}
	return wrote, nil
}

// RecordLogicalBlock remembers the original logical block number of the
// block whose ciphertext hashes to d.
func (s *DedupStore) RecordLogicalBlock(d Digest, lblk uint64) error {
	wrote, err := s.recordFirst(positionKey(d), lblk)
	if err != nil {
		return err
	}
	if wrote {
		s.log.WithFields(logrus.Fields{
			"digest": d.String(),
			"lblk":   lblk,
		}).Debug("recorded logical block position")
	}
	return nil
}

// LookupLogicalBlock implements PositionIndex.
func (s *DedupStore) LookupLogicalBlock(d Digest) (uint64, bool, error) {
	return s.getUint64(positionKey(d))
}

// RecordBlockAddress remembers the physical block address holding the block
// whose plaintext hashes to d.
func (s *DedupStore) RecordBlockAddress(d Digest, addr uint64) error {
	_, err := s.recordFirst(blockKey(d), addr)
	return err
}

// LookupBlockAddress returns the physical block address registered for a
// plaintext digest, if any.
func (s *DedupStore) LookupBlockAddress(d Digest) (uint64, bool, error) {
	return s.getUint64(blockKey(d))
}

// IncrRef increments the reference count of a physical block address and
// returns the new count.
func (s *DedupStore) IncrRef(addr uint64) (uint64, error) {
	return s.addRef(addr, 1)
}

// DecrRef decrements the reference count of a physical block address and
// returns the new count. The count never goes below zero.
func (s *DedupStore) DecrRef(addr uint64) (uint64, error) {
	return s.addRef(addr, -1)
}

func (s *DedupStore) addRef(addr uint64, delta int64) (uint64, error) {
	var count uint64
	err := s.db.Update(func(txn *badger.Txn) error {
		current, _, err := txnGetUint64(txn, refKey(addr))
		if err != nil {
			return err
		}
		if delta < 0 && current == 0 {
			count = 0
			return nil
		}
		count = uint64(int64(current) + delta)
		return txnSetUint64(txn, refKey(addr), count)
	})
	if err != nil {
		return 0, fmt.Errorf("dedup store write: %w", err)
	}
	return count, nil
}

// RefCount returns the current reference count of a physical block address.
func (s *DedupStore) RefCount(addr uint64) (uint64, error) {
	count, _, err := s.getUint64(refKey(addr))
	return count, err
}
