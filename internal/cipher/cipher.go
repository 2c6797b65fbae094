// Package cipher implements the envelope encryption of the secrets
// store. A block's plaintext is encrypted once under a fresh
// ChaCha20-Poly1305 seal key; the seal key is wrapped for every
// recipient with an ephemeral X25519 exchange.
package cipher

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/maisiliym/trustless/internal/block"
	"github.com/maisiliym/trustless/internal/memguard"
)

const (
	// KeySize is the size of X25519 keys and ChaCha20-Poly1305 seal
	// keys in bytes.
	KeySize = 32

	// NonceSize is the size of ChaCha20-Poly1305 nonces in bytes.
	NonceSize = block.NonceSize

	// TagSize is the size of Poly1305 authentication tags in bytes.
	TagSize = block.TagSize
)

var (
	// ErrDataTooShort is returned when a ciphertext is shorter than the
	// authentication tag.
	ErrDataTooShort = errors.New("data too short")

	// ErrDecryptionFailed is returned when AEAD verification fails.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrNoRecipient is returned when the decrypting identity is not
	// among a block's recipients.
	ErrNoRecipient = errors.New("identity is not a recipient")
)

// RecipientKey names an identity entitled to decrypt, together with its
// public key from the ring.
type RecipientKey struct {
	ID        string
	PublicKey [KeySize]byte
}

// GenerateKeyPair generates a new X25519 keypair. The private key is
// returned in a zeroizing buffer.
func GenerateKeyPair() ([KeySize]byte, *memguard.SecretBytes, error) {
	var public [KeySize]byte

	private, err := memguard.Random(KeySize)
	if err != nil {
		return public, nil, fmt.Errorf("generate private key: %w", err)
	}
	clamp(private.BorrowMut())

	var raw [KeySize]byte
	copy(raw[:], private.Borrow())
	curve25519.ScalarBaseMult(&public, &raw)
	memguard.Wipe(raw[:])

	return public, private, nil
}

// SealPrivateKey encrypts a private key under a seal key derived from
// the owner's passphrase. The result is ciphertext followed by the
// authentication tag.
func SealPrivateKey(sealKey *memguard.SecretBytes, nonce []byte, private *memguard.SecretBytes) ([]byte, error) {
	aead, err := chacha20poly1305.New(sealKey.Borrow())
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return aead.Seal(nil, nonce, private.Borrow(), nil), nil
}

// OpenPrivateKey reverses SealPrivateKey. The opened key is returned in
// a zeroizing buffer.
func OpenPrivateKey(sealKey *memguard.SecretBytes, nonce, sealed []byte) (*memguard.SecretBytes, error) {
	if len(sealed) < TagSize {
		return nil, ErrDataTooShort
	}
	aead, err := chacha20poly1305.New(sealKey.Borrow())
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	private := memguard.Zeroed(len(sealed) - TagSize)
	out, err := aead.Open(private.BorrowMut()[:0], nonce, sealed, nil)
	if err != nil || len(out) != private.Len() {
		private.Close()
		return nil, ErrDecryptionFailed
	}
	return private, nil
}

// Encrypt seals plaintext under a fresh seal key and wraps that seal key
// for every recipient:
//
//	wrapped[0:32]  = ephemeral public key
//	wrapped[32:64] = seal key XOR X25519(ephemeral private, recipient public)
//
// The XOR wrap keeps the wrapped key at a fixed 32 bytes; a tampered
// wrapped key surfaces as an AEAD failure on the payload.
func Encrypt(recipients []RecipientKey, plaintext *memguard.SecretBytes) (*block.Header, []byte, error) {
	if len(recipients) == 0 {
		return nil, nil, ErrNoRecipient
	}

	sealKey, err := memguard.Random(KeySize)
	if err != nil {
		return nil, nil, fmt.Errorf("generate seal key: %w", err)
	}
	defer sealKey.Close()

	header := &block.Header{Type: block.TypeX25519ChaCha20Poly1305}
	if _, err := io.ReadFull(rand.Reader, header.CommonKey[:]); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	aead, err := chacha20poly1305.New(sealKey.Borrow())
	if err != nil {
		return nil, nil, fmt.Errorf("create cipher: %w", err)
	}
	ciphertext := aead.Seal(nil, header.CommonKey[:], plaintext.Borrow(), nil)

	header.Recipients = make([]block.Recipient, 0, len(recipients))
	for _, recipient := range recipients {
		ephemeralPrivate, ephemeralPublic, err := generateEphemeral()
		if err != nil {
			return nil, nil, err
		}

		shared, err := computeShared(ephemeralPrivate, recipient.PublicKey)
		memguard.Wipe(ephemeralPrivate[:])
		if err != nil {
			return nil, nil, fmt.Errorf("wrap key for %s: %w", recipient.ID, err)
		}

		entry := block.Recipient{ID: recipient.ID}
		copy(entry.CryptedKey[:KeySize], ephemeralPublic[:])
		xorBytes(sealKey.Borrow(), shared[:], entry.CryptedKey[KeySize:])
		memguard.Wipe(shared[:])

		header.Recipients = append(header.Recipients, entry)
	}

	return header, ciphertext, nil
}

// Decrypt locates the recipient entry for id, unwraps the seal key with
// the identity's private key and opens the ciphertext. The plaintext is
// returned in a zeroizing buffer.
func Decrypt(id string, private *memguard.SecretBytes, header *block.Header, ciphertext []byte) (*memguard.SecretBytes, error) {
	if len(ciphertext) < TagSize {
		return nil, ErrDataTooShort
	}

	for _, recipient := range header.Recipients {
		if recipient.ID != id {
			continue
		}

		var ephemeralPublic [KeySize]byte
		copy(ephemeralPublic[:], recipient.CryptedKey[:KeySize])

		var raw [KeySize]byte
		copy(raw[:], private.Borrow())
		shared, err := computeShared(raw, ephemeralPublic)
		memguard.Wipe(raw[:])
		if err != nil {
			return nil, fmt.Errorf("unwrap key: %w", err)
		}

		sealKey := memguard.Zeroed(KeySize)
		xorBytes(shared[:], recipient.CryptedKey[KeySize:], sealKey.BorrowMut())
		memguard.Wipe(shared[:])

		aead, err := chacha20poly1305.New(sealKey.Borrow())
		if err != nil {
			sealKey.Close()
			return nil, fmt.Errorf("create cipher: %w", err)
		}

		plaintext := memguard.Zeroed(len(ciphertext) - TagSize)
		out, err := aead.Open(plaintext.BorrowMut()[:0], header.CommonKey[:], ciphertext, nil)
		sealKey.Close()
		if err != nil || len(out) != plaintext.Len() {
			plaintext.Close()
			return nil, ErrDecryptionFailed
		}
		return plaintext, nil
	}

	return nil, ErrNoRecipient
}

// generateEphemeral draws a one-time X25519 keypair for a single wrap.
func generateEphemeral() (private, public [KeySize]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, private[:]); err != nil {
		return private, public, fmt.Errorf("generate ephemeral key: %w", err)
	}
	clamp(private[:])
	curve25519.ScalarBaseMult(&public, &private)
	return private, public, nil
}

// computeShared performs the X25519 exchange, rejecting low-order inputs
// and results.
func computeShared(private, public [KeySize]byte) ([KeySize]byte, error) {
	var shared, zero [KeySize]byte

	if public == zero {
		return shared, errors.New("invalid public key: zero key")
	}
	curve25519.ScalarMult(&shared, &private, &public) //nolint:staticcheck // low-order check follows
	if shared == zero {
		return shared, errors.New("invalid exchange result: low-order point")
	}
	return shared, nil
}

// clamp applies the X25519 private key clamping in place.
func clamp(private []byte) {
	private[0] &= 248
	private[31] &= 127
	private[31] |= 64
}

func xorBytes(src1, src2, dst []byte) {
	for i := range dst {
		dst[i] = src1[i] ^ src2[i]
	}
}
