package blockdedup

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/xts"
)

// ContentAlignment is the required alignment of content block lengths, in
// bytes. Every block handed to the pipeline must be a positive multiple.
const ContentAlignment = 16

// CipherEngine encrypts and decrypts a single content block under a fixed
// key, given a derived IV. Implementations must be deterministic for a
// (key, IV) pair: identical plaintext written twice has to produce identical
// ciphertext, or content deduplication cannot work.
type CipherEngine interface {
	// Encrypt encrypts one content block with the given IV
	Encrypt(iv IV, block []byte) ([]byte, error)

	// Decrypt decrypts one content block with the given IV
	Decrypt(iv IV, block []byte) ([]byte, error)

	// IVSize returns the number of IV bytes the engine consumes
	IVSize() int
}

// AESXTSEngine implements CipherEngine using AES-256 in XTS mode. The low
// 64 bits of the IV select the XTS tweak.
type AESXTSEngine struct {
	cipher *xts.Cipher
}

// NewAESXTSEngine creates a new AES-256-XTS engine. The key is 64 bytes:
// a 32-byte data-unit key followed by a 32-byte tweak key.
func NewAESXTSEngine(key []byte) (*AESXTSEngine, error) {
	if err := ValidateKey(key, SuiteAES256XTS.KeySize()); err != nil {
		return nil, err
	}
	c, err := xts.NewCipher(aes.NewCipher, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create XTS cipher: %w", err)
	}
	return &AESXTSEngine{cipher: c}, nil
}

// Encrypt encrypts one block using AES-256-XTS
func (e *AESXTSEngine) Encrypt(iv IV, block []byte) ([]byte, error) {
	if err := ValidateBlock(block, ContentAlignment); err != nil {
		return nil, err
	}
	out := make([]byte, len(block))
	e.cipher.Encrypt(out, block, binary.LittleEndian.Uint64(iv[:8]))
	return out, nil
}

// Decrypt decrypts one block using AES-256-XTS
func (e *AESXTSEngine) Decrypt(iv IV, block []byte) ([]byte, error) {
	if err := ValidateBlock(block, ContentAlignment); err != nil {
		return nil, err
	}
	out := make([]byte, len(block))
	e.cipher.Decrypt(out, block, binary.LittleEndian.Uint64(iv[:8]))
	return out, nil
}

// IVSize returns the number of IV bytes consumed by XTS (8, the tweak)
func (e *AESXTSEngine) IVSize() int {
	return 8
}

// XChaCha20Engine implements CipherEngine using the XChaCha20 stream cipher.
// The first 24 IV bytes form the nonce, which covers both the logical block
// number field and the file nonce field of the IV layout.
type XChaCha20Engine struct {
	key []byte
}

// NewXChaCha20Engine creates a new XChaCha20 engine with a 32-byte key.
func NewXChaCha20Engine(key []byte) (*XChaCha20Engine, error) {
	if err := ValidateKey(key, SuiteXChaCha20.KeySize()); err != nil {
		return nil, err
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &XChaCha20Engine{key: k}, nil
}

func (e *XChaCha20Engine) xor(iv IV, block []byte) ([]byte, error) {
	if err := ValidateBlock(block, ContentAlignment); err != nil {
		return nil, err
	}
	c, err := chacha20.NewUnauthenticatedCipher(e.key, iv[:chacha20.NonceSizeX])
	if err != nil {
		return nil, fmt.Errorf("failed to create XChaCha20 cipher: %w", err)
	}
	out := make([]byte, len(block))
	c.XORKeyStream(out, block)
	return out, nil
}

// Encrypt encrypts one block using XChaCha20
func (e *XChaCha20Engine) Encrypt(iv IV, block []byte) ([]byte, error) {
	return e.xor(iv, block)
}

// Decrypt decrypts one block using XChaCha20
func (e *XChaCha20Engine) Decrypt(iv IV, block []byte) ([]byte, error) {
	return e.xor(iv, block)
}

// IVSize returns the XChaCha20 nonce size (24 bytes)
func (e *XChaCha20Engine) IVSize() int {
	return chacha20.NonceSizeX
}

// NewCipherEngine creates a new cipher engine for the given suite
func NewCipherEngine(suite CipherSuite, key []byte) (CipherEngine, error) {
	switch suite {
	case SuiteAES256XTS:
		return NewAESXTSEngine(key)
	case SuiteXChaCha20:
		return NewXChaCha20Engine(key)
	default:
		return nil, ErrUnsupportedSuite
	}
}
