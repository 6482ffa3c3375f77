package blockdedup

// DefaultIndexCapacity is the slot count of the content index.
const DefaultIndexCapacity = 1 << 20

// IndexEntry records that a block whose ciphertext hashes to Digest was
// produced by the file identified by OwnerID. Entries are never removed;
// the first writer of a digest owns it for the lifetime of the table.
type IndexEntry struct {
	Digest  Digest
	OwnerID uint64
}

// ContentIndex is a fixed-capacity open-addressing table mapping ciphertext
// digests to owning-file identifiers. Collisions are resolved by linear
// probing with wraparound and there is no removal, so a nil slot is a
// definitive end-of-chain marker. The zero owner id never occurs in a live
// entry; on disk it marks an empty slot.
//
// ContentIndex is not safe for concurrent use; the pipeline serializes all
// access under its own critical section.
type ContentIndex struct {
	slots []*IndexEntry
	count int
}

// NewContentIndex creates an empty content index with the given slot count.
func NewContentIndex(capacity int) (*ContentIndex, error) {
	if err := ValidateCapacity(capacity); err != nil {
		return nil, err
	}
	return &ContentIndex{
		slots: make([]*IndexEntry, capacity),
	}, nil
}

// Capacity returns the slot count of the table
func (ix *ContentIndex) Capacity() int {
	return len(ix.slots)
}

// Len returns the number of live entries in the table
func (ix *ContentIndex) Len() int {
	return ix.count
}

// Lookup probes for the owner of the given digest. It returns false when
// the probe reaches an empty slot, and also after capacity probes without a
// match so that a full or corrupt table terminates instead of looping.
func (ix *ContentIndex) Lookup(d Digest) (uint64, bool) {
	capacity := len(ix.slots)
	i := d.Bucket(capacity)
	for probes := 0; probes < capacity; probes++ {
		entry := ix.slots[i]
		if entry == nil {
			return 0, false
		}
		if entry.Digest == d {
			return entry.OwnerID, true
		}
		i = (i + 1) % capacity
	}
	return 0, false
}

// Insert registers owner as the producer of the given digest. A digest that
// is already mapped keeps its original owner; the insert is a no-op. Probing
// past every slot without finding a free one reports a CapacityError.
func (ix *ContentIndex) Insert(d Digest, owner uint64) error {
	if err := ValidateOwnerID(owner); err != nil {
		return err
	}
	if _, ok := ix.Lookup(d); ok {
		return nil
	}

	capacity := len(ix.slots)
	i := d.Bucket(capacity)
	for probes := 0; probes < capacity; probes++ {
		if ix.slots[i] == nil {
			ix.slots[i] = &IndexEntry{Digest: d, OwnerID: owner}
			ix.count++
			return nil
		}
		i = (i + 1) % capacity
	}
	return &CapacityError{Capacity: capacity}
}

// entryAt returns the entry stored in slot i, or nil. Used by persistence,
// which serializes slots in bucket order.
func (ix *ContentIndex) entryAt(i int) *IndexEntry {
	return ix.slots[i]
}

// setEntryAt places an entry directly into slot i, bypassing probing. Used
// by persistence when rebuilding the table in bucket order.
func (ix *ContentIndex) setEntryAt(i int, entry *IndexEntry) {
	if ix.slots[i] != nil {
		ix.count--
	}
	ix.slots[i] = entry
	if entry != nil {
		ix.count++
	}
}
