package block

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ringVersion is the serialization version of the ring blob.
const ringVersion = 1

// ErrInvalidRing is returned when the ring blob is malformed.
var ErrInvalidRing = errors.New("invalid ring")

// KdfParams records how an identity's seal key is derived from its
// passphrase. Cost parameters are persisted so sealed keys remain
// openable after defaults change.
type KdfParams struct {
	Algorithm   string
	Salt        []byte
	Time        uint32
	Memory      uint32
	Parallelism uint8
}

// RingEntry holds one identity: its public key and the passphrase-sealed
// private key.
type RingEntry struct {
	ID               string
	Name             string
	Email            string
	PublicKey        [PublicKeySize]byte
	PrivateKeyNonce  [NonceSize]byte
	SealedPrivateKey []byte
	Kdf              KdfParams
}

// EncodeRing serializes the identity ring.
//
// Wire layout:
//
//	Version [1 byte]
//	Count   [2 bytes] - entry count (big-endian)
//	Entries           - see encodeRingEntry
func EncodeRing(entries []RingEntry) ([]byte, error) {
	buf := []byte{ringVersion}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(entries)))
	for i := range entries {
		var err error
		buf, err = encodeRingEntry(buf, &entries[i])
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func encodeRingEntry(buf []byte, e *RingEntry) ([]byte, error) {
	for _, s := range []string{e.ID, e.Kdf.Algorithm} {
		if len(s) == 0 || len(s) >= MaxStringSize {
			return nil, fmt.Errorf("%w: string field length %d", ErrInvalidRing, len(s))
		}
	}
	if len(e.Name) >= MaxStringSize || len(e.Email) >= MaxStringSize {
		return nil, fmt.Errorf("%w: string field too long", ErrInvalidRing)
	}
	if len(e.SealedPrivateKey) < TagSize {
		return nil, fmt.Errorf("%w: sealed key shorter than tag", ErrInvalidRing)
	}

	buf = appendString(buf, e.ID)
	buf = appendString(buf, e.Name)
	buf = appendString(buf, e.Email)
	buf = append(buf, e.PublicKey[:]...)
	buf = append(buf, e.PrivateKeyNonce[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.SealedPrivateKey)))
	buf = append(buf, e.SealedPrivateKey...)
	buf = appendString(buf, e.Kdf.Algorithm)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.Kdf.Salt)))
	buf = append(buf, e.Kdf.Salt...)
	buf = binary.BigEndian.AppendUint32(buf, e.Kdf.Time)
	buf = binary.BigEndian.AppendUint32(buf, e.Kdf.Memory)
	buf = append(buf, e.Kdf.Parallelism)

	return buf, nil
}

// DecodeRing deserializes the identity ring. Entry ids must be unique.
func DecodeRing(buf []byte) ([]RingEntry, error) {
	if len(buf) < 3 {
		return nil, fmt.Errorf("%w: too short", ErrInvalidRing)
	}
	if buf[0] != ringVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidRing, buf[0])
	}

	count := int(binary.BigEndian.Uint16(buf[1:3]))
	pos := 3
	entries := make([]RingEntry, 0, count)
	seen := make(map[string]struct{}, count)

	for i := 0; i < count; i++ {
		var e RingEntry
		var err error
		if pos, err = decodeRingEntry(buf, pos, &e); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidRing, e.ID)
		}
		seen[e.ID] = struct{}{}
		entries = append(entries, e)
	}
	if pos != len(buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidRing, len(buf)-pos)
	}

	return entries, nil
}

func decodeRingEntry(buf []byte, pos int, e *RingEntry) (int, error) {
	var err error
	if e.ID, pos, err = readString(buf, pos); err != nil {
		return 0, err
	}
	if e.ID == "" {
		return 0, fmt.Errorf("%w: empty id", ErrInvalidRing)
	}
	if e.Name, pos, err = readString(buf, pos); err != nil {
		return 0, err
	}
	if e.Email, pos, err = readString(buf, pos); err != nil {
		return 0, err
	}
	if len(buf) < pos+PublicKeySize+NonceSize+4 {
		return 0, fmt.Errorf("%w: truncated keys", ErrInvalidRing)
	}
	copy(e.PublicKey[:], buf[pos:pos+PublicKeySize])
	pos += PublicKeySize
	copy(e.PrivateKeyNonce[:], buf[pos:pos+NonceSize])
	pos += NonceSize

	sealedLen := int(binary.BigEndian.Uint32(buf[pos : pos+4]))
	pos += 4
	if sealedLen < TagSize || len(buf) < pos+sealedLen {
		return 0, fmt.Errorf("%w: truncated sealed key", ErrInvalidRing)
	}
	e.SealedPrivateKey = append([]byte(nil), buf[pos:pos+sealedLen]...)
	pos += sealedLen

	if e.Kdf.Algorithm, pos, err = readString(buf, pos); err != nil {
		return 0, err
	}
	if len(buf) < pos+2 {
		return 0, fmt.Errorf("%w: truncated kdf", ErrInvalidRing)
	}
	saltLen := int(binary.BigEndian.Uint16(buf[pos : pos+2]))
	pos += 2
	if len(buf) < pos+saltLen+9 {
		return 0, fmt.Errorf("%w: truncated kdf", ErrInvalidRing)
	}
	e.Kdf.Salt = append([]byte(nil), buf[pos:pos+saltLen]...)
	pos += saltLen
	e.Kdf.Time = binary.BigEndian.Uint32(buf[pos : pos+4])
	pos += 4
	e.Kdf.Memory = binary.BigEndian.Uint32(buf[pos : pos+4])
	pos += 4
	e.Kdf.Parallelism = buf[pos]
	pos++

	return pos, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func readString(buf []byte, pos int) (string, int, error) {
	if len(buf) < pos+2 {
		return "", 0, fmt.Errorf("%w: truncated string", ErrInvalidRing)
	}
	n := int(binary.BigEndian.Uint16(buf[pos : pos+2]))
	pos += 2
	if len(buf) < pos+n {
		return "", 0, fmt.Errorf("%w: truncated string", ErrInvalidRing)
	}
	return string(buf[pos : pos+n]), pos + n, nil
}
