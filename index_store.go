package blockdedup

import (
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/absfs/absfs"
)

// DefaultIndexPath is the default location of the persisted content index.
const DefaultIndexPath = "/citable"

// indexRecordSize is the fixed on-disk record width: a 16-byte digest
// followed by a little-endian 64-bit owner id.
const indexRecordSize = DigestSize + 8

// IndexStore persists a ContentIndex as one flat file of fixed-size records
// in bucket order, with no header and no checksum. The whole table is read
// before every decrypt and rewritten after every encrypt that inserted an
// entry, so the in-memory table is only a cache of the durable copy.
type IndexStore struct {
	fs       absfs.FileSystem
	path     string
	capacity int
}

// NewIndexStore creates a store for a table of the given capacity at path.
func NewIndexStore(fs absfs.FileSystem, path string, capacity int) (*IndexStore, error) {
	if fs == nil {
		return nil, ErrNilFilesystem
	}
	if err := ValidateCapacity(capacity); err != nil {
		return nil, err
	}
	if path == "" {
		path = DefaultIndexPath
	}
	return &IndexStore{fs: fs, path: path, capacity: capacity}, nil
}

// Path returns the index file path
func (s *IndexStore) Path() string {
	return s.path
}

// Load reads the whole table from storage. A missing file yields an empty
// table, and a short file is padded with empty slots, so a store that has
// never been flushed behaves like a fresh table. Records with owner id 0
// are placeholders and load as empty slots.
func (s *IndexStore) Load() (*ContentIndex, error) {
	ix, err := NewContentIndex(s.capacity)
	if err != nil {
		return nil, err
	}

	f, err := s.fs.OpenFile(s.path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
			return ix, nil
		}
		return nil, NewPersistenceError("load", s.path, err)
	}
	defer f.Close()

	buf := make([]byte, s.capacity*indexRecordSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, NewPersistenceError("load", s.path, err)
	}

	for i := 0; (i+1)*indexRecordSize <= n; i++ {
		rec := buf[i*indexRecordSize : (i+1)*indexRecordSize]
		owner := binary.LittleEndian.Uint64(rec[DigestSize:])
		if owner == 0 {
			continue
		}
		entry := &IndexEntry{OwnerID: owner}
		copy(entry.Digest[:], rec[:DigestSize])
		ix.setEntryAt(i, entry)
	}
	return ix, nil
}

// Flush rewrites the whole table to storage. Empty slots are written as
// zero-filled placeholder records so the file always holds exactly capacity
// records. The new contents are written to a temporary file and renamed
// into place, so a reader never observes a partially written table.
func (s *IndexStore) Flush(ix *ContentIndex) error {
	if ix.Capacity() != s.capacity {
		return NewValidationError("index", ix.Capacity(), "table capacity does not match store capacity")
	}

	buf := make([]byte, s.capacity*indexRecordSize)
	for i := 0; i < s.capacity; i++ {
		entry := ix.entryAt(i)
		if entry == nil {
			continue
		}
		rec := buf[i*indexRecordSize : (i+1)*indexRecordSize]
		copy(rec[:DigestSize], entry.Digest[:])
		binary.LittleEndian.PutUint64(rec[DigestSize:], entry.OwnerID)
	}

	tmp := s.path + ".tmp"
	f, err := s.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return NewPersistenceError("flush", tmp, err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return NewPersistenceError("flush", tmp, err)
	}
	if err := f.Close(); err != nil {
		return NewPersistenceError("flush", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return NewPersistenceError("flush", s.path, err)
	}
	return nil
}
