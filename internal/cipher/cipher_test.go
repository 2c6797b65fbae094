package cipher

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"testing"

	"github.com/maisiliym/trustless/internal/block"
	"github.com/maisiliym/trustless/internal/memguard"
)

func TestGenerateKeyPair(t *testing.T) {
	pub1, priv1, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	defer priv1.Close()

	var zero [KeySize]byte
	if pub1 == zero {
		t.Error("public key is zero")
	}
	if priv1.Len() != KeySize {
		t.Errorf("private key length = %d, want %d", priv1.Len(), KeySize)
	}

	pub2, priv2, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() second call error = %v", err)
	}
	defer priv2.Close()

	if pub1 == pub2 {
		t.Error("two generated public keys are identical")
	}
	if bytes.Equal(priv1.Borrow(), priv2.Borrow()) {
		t.Error("two generated private keys are identical")
	}
}

func TestSealOpenPrivateKey(t *testing.T) {
	_, private, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	defer private.Close()
	want := append([]byte(nil), private.Borrow()...)

	sealKey, err := memguard.Random(KeySize)
	if err != nil {
		t.Fatalf("Random() error = %v", err)
	}
	defer sealKey.Close()

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		t.Fatalf("read nonce: %v", err)
	}

	sealed, err := SealPrivateKey(sealKey, nonce, private)
	if err != nil {
		t.Fatalf("SealPrivateKey() error = %v", err)
	}
	if len(sealed) != KeySize+TagSize {
		t.Errorf("sealed length = %d, want %d", len(sealed), KeySize+TagSize)
	}

	opened, err := OpenPrivateKey(sealKey, nonce, sealed)
	if err != nil {
		t.Fatalf("OpenPrivateKey() error = %v", err)
	}
	defer opened.Close()

	if !opened.Equal(want) {
		t.Error("opened private key differs from original")
	}
}

func TestOpenPrivateKeyErrors(t *testing.T) {
	sealKey, _ := memguard.Random(KeySize)
	defer sealKey.Close()
	nonce := make([]byte, NonceSize)

	if _, err := OpenPrivateKey(sealKey, nonce, make([]byte, TagSize-1)); !errors.Is(err, ErrDataTooShort) {
		t.Errorf("short data error = %v, want ErrDataTooShort", err)
	}

	private := memguard.FromBytes([]byte("0123456789abcdef0123456789abcdef"))
	defer private.Close()
	sealed, err := SealPrivateKey(sealKey, nonce, private)
	if err != nil {
		t.Fatalf("SealPrivateKey() error = %v", err)
	}

	wrongKey, _ := memguard.Random(KeySize)
	defer wrongKey.Close()
	if _, err := OpenPrivateKey(wrongKey, nonce, sealed); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("wrong key error = %v, want ErrDecryptionFailed", err)
	}

	sealed[0] ^= 0x01
	if _, err := OpenPrivateKey(sealKey, nonce, sealed); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("tampered data error = %v, want ErrDecryptionFailed", err)
	}
}

func twoRecipients(t *testing.T) ([]RecipientKey, map[string]*memguard.SecretBytes) {
	t.Helper()

	recipients := make([]RecipientKey, 0, 2)
	privates := make(map[string]*memguard.SecretBytes, 2)
	for _, id := range []string{"alice", "bob"} {
		pub, priv, err := GenerateKeyPair()
		if err != nil {
			t.Fatalf("GenerateKeyPair() error = %v", err)
		}
		t.Cleanup(priv.Close)
		recipients = append(recipients, RecipientKey{ID: id, PublicKey: pub})
		privates[id] = priv
	}
	return recipients, privates
}

func TestEncryptDecryptAllRecipients(t *testing.T) {
	recipients, privates := twoRecipients(t)

	message := []byte("the secret payload")
	plaintext := memguard.FromBytes(append([]byte(nil), message...))
	defer plaintext.Close()

	header, ciphertext, err := Encrypt(recipients, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if len(ciphertext) != len(message)+TagSize {
		t.Errorf("ciphertext length = %d, want %d", len(ciphertext), len(message)+TagSize)
	}
	if len(header.Recipients) != 2 {
		t.Fatalf("recipient count = %d, want 2", len(header.Recipients))
	}

	// Every recipient can decrypt to the same plaintext.
	for id, private := range privates {
		decrypted, err := Decrypt(id, private, header, ciphertext)
		if err != nil {
			t.Fatalf("Decrypt(%s) error = %v", id, err)
		}
		if !decrypted.Equal(message) {
			t.Errorf("Decrypt(%s) plaintext mismatch", id)
		}
		decrypted.Close()
	}
}

func TestEncryptFreshRandomness(t *testing.T) {
	recipients, _ := twoRecipients(t)

	plaintext := memguard.FromBytes([]byte("same message"))
	defer plaintext.Close()

	header1, ciphertext1, err := Encrypt(recipients, plaintext.Clone())
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	header2, ciphertext2, err := Encrypt(recipients, plaintext.Clone())
	if err != nil {
		t.Fatalf("Encrypt() second call error = %v", err)
	}

	if bytes.Equal(ciphertext1, ciphertext2) {
		t.Error("two encryptions of the same plaintext yield identical ciphertexts")
	}
	if header1.CommonKey == header2.CommonKey {
		t.Error("nonce reused across encryptions")
	}
	if header1.Recipients[0].CryptedKey == header2.Recipients[0].CryptedKey {
		t.Error("ephemeral wrap reused across encryptions")
	}
}

func TestDecryptNoRecipient(t *testing.T) {
	recipients, privates := twoRecipients(t)

	plaintext := memguard.FromBytes([]byte("payload"))
	defer plaintext.Close()

	header, ciphertext, err := Encrypt(recipients[:1], plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := Decrypt("bob", privates["bob"], header, ciphertext); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("Decrypt() error = %v, want ErrNoRecipient", err)
	}
}

func TestDecryptTamperDetection(t *testing.T) {
	recipients, privates := twoRecipients(t)

	plaintext := memguard.FromBytes([]byte("tamper target"))
	defer plaintext.Close()

	header, ciphertext, err := Encrypt(recipients, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	// Flip a bit anywhere in the ciphertext.
	for i := 0; i < len(ciphertext); i++ {
		tampered := append([]byte(nil), ciphertext...)
		tampered[i] ^= 0x01
		if _, err := Decrypt("alice", privates["alice"], header, tampered); !errors.Is(err, ErrDecryptionFailed) {
			t.Fatalf("byte %d: error = %v, want ErrDecryptionFailed", i, err)
		}
	}

	// Flip a bit in the nonce.
	tamperedHeader := *header
	tamperedHeader.Recipients = append([]block.Recipient(nil), header.Recipients...)
	tamperedHeader.CommonKey[0] ^= 0x01
	if _, err := Decrypt("alice", privates["alice"], &tamperedHeader, ciphertext); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("tampered nonce error = %v, want ErrDecryptionFailed", err)
	}

	// Flip a bit in alice's wrapped seal key.
	tamperedHeader = *header
	tamperedHeader.Recipients = append([]block.Recipient(nil), header.Recipients...)
	for i, r := range tamperedHeader.Recipients {
		if r.ID == "alice" {
			tamperedHeader.Recipients[i].CryptedKey[40] ^= 0x01
		}
	}
	if _, err := Decrypt("alice", privates["alice"], &tamperedHeader, ciphertext); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("tampered wrapped key error = %v, want ErrDecryptionFailed", err)
	}
}

func TestDecryptShortCiphertext(t *testing.T) {
	_, private, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	defer private.Close()

	if _, err := Decrypt("alice", private, nil, make([]byte, TagSize-1)); !errors.Is(err, ErrDataTooShort) {
		t.Errorf("Decrypt() error = %v, want ErrDataTooShort", err)
	}
}

func TestKdfDeterministic(t *testing.T) {
	params, err := NewKdfParams()
	if err != nil {
		t.Fatalf("NewKdfParams() error = %v", err)
	}
	if params.Algorithm != KdfArgon2id {
		t.Errorf("algorithm = %q, want %q", params.Algorithm, KdfArgon2id)
	}
	if len(params.Salt) != kdfSaltSize {
		t.Errorf("salt length = %d, want %d", len(params.Salt), kdfSaltSize)
	}

	pass1 := memguard.FromBytes([]byte("correct horse"))
	defer pass1.Close()
	key1, err := DeriveSealKey(pass1, params)
	if err != nil {
		t.Fatalf("DeriveSealKey() error = %v", err)
	}
	defer key1.Close()

	pass2 := memguard.FromBytes([]byte("correct horse"))
	defer pass2.Close()
	key2, err := DeriveSealKey(pass2, params)
	if err != nil {
		t.Fatalf("DeriveSealKey() error = %v", err)
	}
	defer key2.Close()

	if !key1.Equal(key2.Borrow()) {
		t.Error("same passphrase and params derive different keys")
	}

	pass3 := memguard.FromBytes([]byte("wrong horse"))
	defer pass3.Close()
	key3, err := DeriveSealKey(pass3, params)
	if err != nil {
		t.Fatalf("DeriveSealKey() error = %v", err)
	}
	defer key3.Close()

	if key1.Equal(key3.Borrow()) {
		t.Error("different passphrases derive the same key")
	}
}

func TestKdfRejectsUnknownAlgorithm(t *testing.T) {
	params, err := NewKdfParams()
	if err != nil {
		t.Fatalf("NewKdfParams() error = %v", err)
	}
	params.Algorithm = "scrypt"

	pass := memguard.FromBytes([]byte("pw"))
	defer pass.Close()

	if _, err := DeriveSealKey(pass, params); err == nil {
		t.Error("DeriveSealKey() with unknown algorithm should fail")
	}
}
