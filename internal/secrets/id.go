package secrets

import (
	"crypto/rand"
	"math/big"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateID returns n random alphanumeric characters, suitable as an
// identity or logical secret id.
func GenerateID(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform's entropy
			// source is broken; nothing sensible can continue.
			panic(err)
		}
		out[i] = idAlphabet[idx.Int64()]
	}
	return string(out)
}
