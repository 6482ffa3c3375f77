package blockdedup

import (
	"fmt"
)

// Input validation helpers shared by the encrypt and decrypt entry points

// ValidateBlock checks that a content block is a positive multiple of the
// cipher's content alignment unit.
func ValidateBlock(block []byte, alignment int) error {
	if len(block) == 0 {
		return &ValidationError{
			Field:   "block",
			Message: "block cannot be empty",
		}
	}
	if alignment > 0 && len(block)%alignment != 0 {
		return &ValidationError{
			Field:   "block",
			Value:   len(block),
			Message: fmt.Sprintf("block length %d is not a multiple of %d", len(block), alignment),
		}
	}
	return nil
}

// ValidateKey checks if a key has the correct size
func ValidateKey(key []byte, expectedSize int) error {
	if key == nil {
		return &ValidationError{
			Field:   "key",
			Message: "key cannot be nil",
		}
	}
	if len(key) != expectedSize {
		return &ValidationError{
			Field:   "key",
			Value:   len(key),
			Message: fmt.Sprintf("invalid key size: got %d bytes, expected %d bytes", len(key), expectedSize),
		}
	}
	return nil
}

// ValidateOwnerID checks that an owner identifier is usable as a content
// index value. Zero is the empty-slot sentinel and can never own a block.
func ValidateOwnerID(id uint64) error {
	if id == 0 {
		return &ValidationError{
			Field:   "owner_id",
			Value:   id,
			Message: ErrReservedOwner.Error(),
			Err:     ErrReservedOwner,
		}
	}
	return nil
}

// ValidateCapacity checks that a content index capacity is positive
func ValidateCapacity(capacity int) error {
	if capacity <= 0 {
		return &ValidationError{
			Field:   "capacity",
			Value:   capacity,
			Message: "capacity must be positive",
		}
	}
	return nil
}
