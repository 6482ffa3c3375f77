package blockdedup

import (
	"github.com/absfs/absfs"
	"github.com/sirupsen/logrus"
)

// CipherSuite identifies the symmetric cipher used for file contents.
type CipherSuite uint8

const (
	// SuiteAES256XTS uses AES-256 in XTS mode. The low 64 bits of the IV
	// select the tweak, so it pairs with the block-number based IV policies.
	SuiteAES256XTS CipherSuite = iota
	// SuiteXChaCha20 uses the XChaCha20 stream cipher with a 24-byte nonce
	// taken from the IV. The nonce field of the IV feeds the keystream, so
	// this is the suite direct-key policies require.
	SuiteXChaCha20
)

// String returns the string representation of the cipher suite
func (c CipherSuite) String() string {
	switch c {
	case SuiteAES256XTS:
		return "aes-256-xts"
	case SuiteXChaCha20:
		return "xchacha20"
	default:
		return "unknown"
	}
}

// KeySize returns the content key size in bytes for the suite, or 0 for an
// unknown suite.
func (c CipherSuite) KeySize() int {
	switch c {
	case SuiteAES256XTS:
		return 64 // two AES-256 keys: data unit + tweak
	case SuiteXChaCha20:
		return 32
	default:
		return 0
	}
}

// PolicyFlag selects how per-block IVs are derived for a file. At most one
// of the IV policy bits applies per file; selection is a property of the
// owning file, not of the call site.
type PolicyFlag uint8

const (
	// PolicyIVOwnerLblk64 packs the owner identifier into IV bits 32-63 and
	// the logical block number into bits 0-31. Both values must fit in 32
	// bits.
	PolicyIVOwnerLblk64 PolicyFlag = 1 << iota
	// PolicyIVOwnerLblk32 uses a 32-bit hash of the owner identifier plus
	// the truncated logical block number as the low 32 IV bits.
	PolicyIVOwnerLblk32
	// PolicyDirectKey copies the file's nonce into the IV's nonce field in
	// addition to encoding the logical block number.
	PolicyDirectKey
)

// OwnerResolver resolves a numeric owner identifier to a live Owner carrying
// its key material and IV policy. The content index stores identifiers only;
// the decrypt path resolves them back through this interface.
type OwnerResolver interface {
	ResolveOwner(id uint64) (*Owner, error)
}

// PositionIndex recovers the original logical block number of a ciphertext
// from its digest. It is consulted read-only on the decrypt path; the dedup
// write path that maintains it lives outside the transform pipeline.
type PositionIndex interface {
	LookupLogicalBlock(d Digest) (uint64, bool, error)
}

// Config contains configuration for the block transform pipeline
type Config struct {
	// FS is the filesystem holding the persisted content index.
	FS absfs.FileSystem

	// IndexPath is the content index file path on FS. Defaults to
	// DefaultIndexPath.
	IndexPath string

	// IndexCapacity is the slot count of the content index. Defaults to
	// DefaultIndexCapacity.
	IndexCapacity int

	// Resolver maps owner identifiers recovered from the content index back
	// to their key material.
	Resolver OwnerResolver

	// Positions recovers original logical block numbers on the decrypt
	// path. Optional; without it the caller-supplied block number is used.
	Positions PositionIndex

	// Logger receives pipeline diagnostics. Defaults to logrus.New().
	Logger *logrus.Logger
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if c.FS == nil {
		return ErrNilFilesystem
	}
	if c.Resolver == nil {
		return ErrNilResolver
	}
	if c.IndexCapacity < 0 {
		return NewValidationError("index_capacity", c.IndexCapacity, "capacity cannot be negative")
	}
	return nil
}
