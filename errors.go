package blockdedup

import (
	"errors"
	"fmt"
)

// Error types represent the failure categories of the transform pipeline

// ValidationError represents an invalid parameter or block supplied by the
// caller. It is never worth retrying.
type ValidationError struct {
	Field   string // The field or parameter that failed validation
	Value   any    // The invalid value
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// CryptoError represents a cipher failure during block encryption or
// decryption. It carries the logical position of the failing block for
// diagnostics.
type CryptoError struct {
	Operation string // "encrypt" or "decrypt"
	OwnerID   uint64 // Owning file identifier
	Lblk      uint64 // Logical block number of the failing block
	Message   string // Human-readable error message
	Err       error  // Underlying cipher error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("%s error: owner %d block %d: %s", e.Operation, e.OwnerID, e.Lblk, e.Message)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// KeyError represents unavailable or unresolvable key material for an owner.
type KeyError struct {
	OwnerID uint64 // Owner whose key could not be obtained
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("key error: owner %d: %s", e.OwnerID, e.Message)
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

// CapacityError represents an exhausted probe sequence in the content index.
// It implies the table is full or corrupt and is fatal for the operation.
type CapacityError struct {
	Capacity int // Slot count of the table
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity error: content index full after %d probes", e.Capacity)
}

func (e *CapacityError) Unwrap() error {
	return ErrIndexFull
}

// PersistenceError represents a storage failure while loading or flushing
// the persisted content index. Partial writes are never repaired here.
type PersistenceError struct {
	Operation string // "load" or "flush"
	Path      string // Index file path
	Message   string // Human-readable error message
	Err       error  // Underlying error
}

func (e *PersistenceError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("persistence error: %s %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("persistence error: %s: %s", e.Operation, e.Message)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Common sentinel errors
var (
	ErrNilConfig        = errors.New("config cannot be nil")
	ErrNilFilesystem    = errors.New("filesystem cannot be nil")
	ErrNilResolver      = errors.New("owner resolver cannot be nil")
	ErrKeyUnavailable   = errors.New("key material unavailable")
	ErrIndexFull        = errors.New("content index full")
	ErrReservedOwner    = errors.New("owner id 0 is reserved for empty slots")
	ErrOwnerNotFound    = errors.New("owner not registered")
	ErrUnsupportedSuite = errors.New("unsupported cipher suite")
)

// Helper functions for creating structured errors

// NewValidationError creates a new validation error
func NewValidationError(field string, value any, message string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewCryptoError creates a new crypto error for the given block position
func NewCryptoError(operation string, ownerID, lblk uint64, err error) error {
	return &CryptoError{
		Operation: operation,
		OwnerID:   ownerID,
		Lblk:      lblk,
		Message:   err.Error(),
		Err:       err,
	}
}

// NewKeyError creates a new key error
func NewKeyError(ownerID uint64, message string, err error) error {
	return &KeyError{
		OwnerID: ownerID,
		Message: message,
		Err:     err,
	}
}

// NewPersistenceError creates a new persistence error
func NewPersistenceError(operation, path string, err error) error {
	return &PersistenceError{
		Operation: operation,
		Path:      path,
		Message:   err.Error(),
		Err:       err,
	}
}

// Error checking helpers

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsCryptoError checks if an error is a crypto error
func IsCryptoError(err error) bool {
	var ce *CryptoError
	return errors.As(err, &ce)
}

// IsKeyError checks if an error is a key error
func IsKeyError(err error) bool {
	var ke *KeyError
	return errors.As(err, &ke)
}

// IsCapacityError checks if an error is a capacity error
func IsCapacityError(err error) bool {
	var ce *CapacityError
	return errors.As(err, &ce)
}

// IsPersistenceError checks if an error is a persistence error
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
