// Package blockdedup is the encrypted, content-deduplicating block
// transform layer of a filesystem encryption subsystem.
//
// # Overview
//
// For every filesystem block written or read, the pipeline derives a
// reproducible IV from the block's logical position and the owning file's
// policy, runs the block through a symmetric cipher, and maintains a
// persistent reverse index from ciphertext content to the cryptographic
// context that produced it. A block read back from an arbitrary physical
// location can therefore be decrypted correctly even when the physical
// store has deduplicated it away from its original owner: decryption does
// not trust the caller's notion of which file and which offset, it
// re-derives both from the ciphertext digest.
//
// # Components
//
//   - Digest: 16-byte BLAKE2b fingerprint of a block, the key of every
//     dedup table.
//   - ContentIndex: fixed-capacity open-addressing table mapping ciphertext
//     digest to owning-file identifier, persisted whole through IndexStore
//     as one flat file of fixed-size records on any absfs filesystem.
//   - GenerateIV: pure derivation of per-block IVs under the four file
//     policies (default, owner-in-high-32, owner-hash-in-32, direct-key).
//   - CipherEngine: AES-256-XTS and XChaCha20 engines, deterministic per
//     (key, IV) pair as deduplication requires.
//   - BlockCrypt: the transform pipeline tying the above together; the only
//     surface exposed to filesystem read/write paths.
//   - DedupStore: the auxiliary dedup tables (position recovery, plaintext
//     fingerprints, block reference counts) backed by Badger.
//
// # Basic Usage
//
//	fs, _ := memfs.NewFS()
//	resolver := blockdedup.NewMemOwnerResolver()
//
//	owner, err := blockdedup.NewOwner(42, 0, blockdedup.SuiteAES256XTS, masterKey)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	resolver.Register(owner)
//
//	bc, err := blockdedup.New(&blockdedup.Config{
//	    FS:       fs,
//	    Resolver: resolver,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ciphertext, err := bc.EncryptBlock(owner, 0, block)
//	...
//	plaintext, err := bc.DecryptBlock(owner, 0, ciphertext)
//
// The requested owner and block number on the decrypt side are hints; if
// the content index knows the ciphertext under a different owner, that
// owner's key and recovered position are used instead.
//
// # Concurrency
//
// EncryptBlock and DecryptBlock are synchronous, blocking calls. The
// reload/lookup/insert/flush sequence on the persisted index runs under a
// single mutex, so at most one transform transaction touches the table at
// a time.
package blockdedup
