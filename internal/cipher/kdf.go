package cipher

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"

	"github.com/maisiliym/trustless/internal/block"
	"github.com/maisiliym/trustless/internal/memguard"
)

// KdfArgon2id identifies the argon2id derivation in persisted kdf params.
const KdfArgon2id = "argon2id"

const (
	kdfSaltSize    = 16
	kdfTime        = 2
	kdfMemory      = 64 * 1024
	kdfParallelism = 4
)

// NewKdfParams returns argon2id parameters with a fresh random salt and
// the current default costs.
func NewKdfParams() (block.KdfParams, error) {
	params := block.KdfParams{
		Algorithm:   KdfArgon2id,
		Salt:        make([]byte, kdfSaltSize),
		Time:        kdfTime,
		Memory:      kdfMemory,
		Parallelism: kdfParallelism,
	}
	if _, err := io.ReadFull(rand.Reader, params.Salt); err != nil {
		return block.KdfParams{}, fmt.Errorf("generate salt: %w", err)
	}
	return params, nil
}

// DeriveSealKey derives the 32-byte seal key protecting an identity's
// private key from its passphrase and the persisted kdf parameters.
func DeriveSealKey(passphrase *memguard.SecretBytes, params block.KdfParams) (*memguard.SecretBytes, error) {
	if params.Algorithm != KdfArgon2id {
		return nil, fmt.Errorf("unsupported kdf algorithm %q", params.Algorithm)
	}
	if params.Time == 0 || params.Memory == 0 || params.Parallelism == 0 {
		return nil, fmt.Errorf("invalid kdf cost parameters")
	}

	key := argon2.IDKey(passphrase.Borrow(), params.Salt, params.Time, params.Memory, params.Parallelism, KeySize)
	return memguard.FromBytes(key), nil
}
