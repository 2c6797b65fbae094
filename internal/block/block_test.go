package block

import (
	"bytes"
	"strings"
	"testing"
)

func testBlock() *Block {
	b := &Block{
		Header: Header{
			Type: TypeX25519ChaCha20Poly1305,
			Recipients: []Recipient{
				{ID: "alice-0123456789"},
				{ID: "bob-9876543210"},
			},
		},
		Ciphertext: bytes.Repeat([]byte{0xAB}, 48),
	}
	for i := range b.Header.CommonKey {
		b.Header.CommonKey[i] = byte(i)
	}
	for i := range b.Header.Recipients {
		for j := range b.Header.Recipients[i].CryptedKey {
			b.Header.Recipients[i].CryptedKey[j] = byte(i*64 + j)
		}
	}
	return b
}

func TestBlockRoundtrip(t *testing.T) {
	b := testBlock()

	encoded, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if decoded.Header.Type != b.Header.Type {
		t.Errorf("Type = %d, want %d", decoded.Header.Type, b.Header.Type)
	}
	if decoded.Header.CommonKey != b.Header.CommonKey {
		t.Error("CommonKey mismatch")
	}
	if len(decoded.Header.Recipients) != len(b.Header.Recipients) {
		t.Fatalf("recipient count = %d, want %d", len(decoded.Header.Recipients), len(b.Header.Recipients))
	}
	for i, r := range decoded.Header.Recipients {
		if r.ID != b.Header.Recipients[i].ID {
			t.Errorf("recipient %d id = %q, want %q", i, r.ID, b.Header.Recipients[i].ID)
		}
		if r.CryptedKey != b.Header.Recipients[i].CryptedKey {
			t.Errorf("recipient %d crypted key mismatch", i)
		}
	}
	if !bytes.Equal(decoded.Ciphertext, b.Ciphertext) {
		t.Error("ciphertext mismatch")
	}
}

func TestBlockEncodeValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Block)
	}{
		{"unknown type", func(b *Block) { b.Header.Type = 99 }},
		{"no recipients", func(b *Block) { b.Header.Recipients = nil }},
		{"empty recipient id", func(b *Block) { b.Header.Recipients[0].ID = "" }},
		{"short ciphertext", func(b *Block) { b.Ciphertext = b.Ciphertext[:TagSize-1] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBlock()
			tt.mutate(b)
			if _, err := b.Encode(); err == nil {
				t.Error("Encode() should fail")
			}
		})
	}
}

func TestBlockDecodeTruncated(t *testing.T) {
	encoded, err := testBlock().Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	// Any prefix that cuts into the header or leaves less than a full
	// tag of ciphertext must fail to decode. Longer prefixes merely
	// shorten the ciphertext, which only the AEAD can reject.
	headerLen := len(encoded) - len(testBlock().Ciphertext)
	for n := 0; n < headerLen+TagSize; n++ {
		if _, err := Decode(encoded[:n]); err == nil {
			t.Fatalf("Decode() of %d-byte prefix should fail", n)
		}
	}
}

func TestBlockDecodeUnknownType(t *testing.T) {
	encoded, _ := testBlock().Encode()
	encoded[0] = 7

	if _, err := Decode(encoded); err == nil {
		t.Fatal("Decode() with unknown type should fail")
	}
}

func TestRingRoundtrip(t *testing.T) {
	entries := []RingEntry{
		{
			ID:               "alice-id",
			Name:             "Alice",
			Email:            "alice@example.com",
			SealedPrivateKey: bytes.Repeat([]byte{0x11}, 48),
			Kdf: KdfParams{
				Algorithm:   "argon2id",
				Salt:        []byte("0123456789abcdef"),
				Time:        2,
				Memory:      64 * 1024,
				Parallelism: 4,
			},
		},
		{
			ID:               "bob-id",
			Name:             "Bob",
			Email:            "bob@example.com",
			SealedPrivateKey: bytes.Repeat([]byte{0x22}, 48),
			Kdf: KdfParams{
				Algorithm:   "argon2id",
				Salt:        []byte("fedcba9876543210"),
				Time:        3,
				Memory:      32 * 1024,
				Parallelism: 1,
			},
		},
	}
	for i := range entries {
		for j := range entries[i].PublicKey {
			entries[i].PublicKey[j] = byte(i + j)
		}
		for j := range entries[i].PrivateKeyNonce {
			entries[i].PrivateKeyNonce[j] = byte(i * j)
		}
	}

	encoded, err := EncodeRing(entries)
	if err != nil {
		t.Fatalf("EncodeRing() error = %v", err)
	}

	decoded, err := DecodeRing(encoded)
	if err != nil {
		t.Fatalf("DecodeRing() error = %v", err)
	}

	if len(decoded) != len(entries) {
		t.Fatalf("entry count = %d, want %d", len(decoded), len(entries))
	}
	for i, e := range decoded {
		want := entries[i]
		if e.ID != want.ID || e.Name != want.Name || e.Email != want.Email {
			t.Errorf("entry %d identity fields mismatch: %+v", i, e)
		}
		if e.PublicKey != want.PublicKey || e.PrivateKeyNonce != want.PrivateKeyNonce {
			t.Errorf("entry %d key fields mismatch", i)
		}
		if !bytes.Equal(e.SealedPrivateKey, want.SealedPrivateKey) {
			t.Errorf("entry %d sealed key mismatch", i)
		}
		if e.Kdf.Algorithm != want.Kdf.Algorithm || !bytes.Equal(e.Kdf.Salt, want.Kdf.Salt) ||
			e.Kdf.Time != want.Kdf.Time || e.Kdf.Memory != want.Kdf.Memory ||
			e.Kdf.Parallelism != want.Kdf.Parallelism {
			t.Errorf("entry %d kdf params mismatch: %+v", i, e.Kdf)
		}
	}
}

func TestRingEmptyRoundtrip(t *testing.T) {
	encoded, err := EncodeRing(nil)
	if err != nil {
		t.Fatalf("EncodeRing(nil) error = %v", err)
	}
	decoded, err := DecodeRing(encoded)
	if err != nil {
		t.Fatalf("DecodeRing() error = %v", err)
	}
	if len(decoded) != 0 {
		t.Errorf("entry count = %d, want 0", len(decoded))
	}
}

func TestRingDuplicateIDs(t *testing.T) {
	entries := []RingEntry{
		{ID: "same", SealedPrivateKey: bytes.Repeat([]byte{1}, 32), Kdf: KdfParams{Algorithm: "argon2id"}},
		{ID: "same", SealedPrivateKey: bytes.Repeat([]byte{2}, 32), Kdf: KdfParams{Algorithm: "argon2id"}},
	}

	encoded, err := EncodeRing(entries)
	if err != nil {
		t.Fatalf("EncodeRing() error = %v", err)
	}
	if _, err := DecodeRing(encoded); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("DecodeRing() error = %v, want duplicate id error", err)
	}
}

func TestRingTrailingBytes(t *testing.T) {
	encoded, err := EncodeRing(nil)
	if err != nil {
		t.Fatalf("EncodeRing() error = %v", err)
	}
	if _, err := DecodeRing(append(encoded, 0xFF)); err == nil {
		t.Error("DecodeRing() with trailing bytes should fail")
	}
}
