package datastore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/gearbot/GearBot-2/internal/snowflake"
	"github.com/gearbot/GearBot-2/internal/xerrors"
)

// KeySize is the length in bytes of both the master key and every
// per-guild derived key: AES-256.
const KeySize = 32

// nonceSize is the GCM standard 96-bit nonce.
const nonceSize = 12

// MasterKey is the single process-wide key loaded from ENCRYPTION_KEY at
// startup. It is used only to derive per-guild keys, never to encrypt
// record payloads directly.
type MasterKey [KeySize]byte

// ParseMasterKey validates a raw 32-byte key loaded from the environment.
func ParseMasterKey(raw []byte) (MasterKey, error) {
	var k MasterKey
	if len(raw) != KeySize {
		return k, xerrors.Fatal(fmt.Sprintf("ENCRYPTION_KEY must be %d raw bytes, got %d", KeySize, len(raw)), nil)
	}
	copy(k[:], raw)
	return k, nil
}

// idNonce builds the deterministic 96-bit nonce from a record's own
// identifier: 8-byte little-endian id followed by 4 zero bytes. Nonce
// uniqueness is guaranteed by identifier uniqueness, never by randomness.
func idNonce(id uint64) [nonceSize]byte {
	var n [nonceSize]byte
	binary.LittleEndian.PutUint64(n[:8], id)
	return n
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}

// DeriveGuildKey produces a fresh per-guild key: 32 random bytes encrypted
// under the master key with a nonce derived from the guild id, keeping the
// first 32 bytes of the resulting ciphertext (GCM's 16-byte auth tag is
// discarded along with any bytes beyond KeySize — the derivation only
// needs a key-sized pseudorandom output, not an authenticated record).
func DeriveGuildKey(master MasterKey, guildID snowflake.ID) ([]byte, error) {
	seed := make([]byte, KeySize)
	if _, err := rand.Read(seed); err != nil {
		return nil, xerrors.Fatal("generating guild key seed", err)
	}

	gcm, err := newGCM(master[:])
	if err != nil {
		return nil, xerrors.Fatal("constructing master cipher", err)
	}

	nonce := idNonce(uint64(guildID))
	ciphertext := gcm.Seal(nil, nonce[:], seed, nil)
	if len(ciphertext) < KeySize {
		return nil, xerrors.Fatal("derived guild key ciphertext too short", nil)
	}
	return ciphertext[:KeySize], nil
}

// Encrypt seals plaintext under a per-guild key, using the record's own
// identifier to build the nonce. The returned ciphertext carries the GCM
// authentication tag; there is no path in this package that exposes
// encryption without authentication.
func Encrypt(key []byte, recordID uint64, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, xerrors.StateInvariant(fmt.Sprintf("constructing record cipher: %v", err))
	}
	nonce := idNonce(recordID)
	return gcm.Seal(nil, nonce[:], plaintext, nil), nil
}

// Decrypt opens ciphertext sealed by Encrypt. A failure here is fatal to
// the record: the caller must propagate the error rather than return
// empty plaintext, per the decryption-failure-is-state-invariant policy.
func Decrypt(key []byte, recordID uint64, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, xerrors.StateInvariant(fmt.Sprintf("constructing record cipher: %v", err))
	}
	nonce := idNonce(recordID)
	plaintext, err := gcm.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, xerrors.StateInvariant(fmt.Sprintf("record %d failed authentication on decrypt: %v", recordID, err))
	}
	return plaintext, nil
}
