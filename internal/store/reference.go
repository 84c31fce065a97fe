package store

import (
	"crypto/rand"
	"math/big"
)

const (
	referenceLength   = 10
	referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// maxReferenceAttempts bounds retries after a unique-constraint collision.
	maxReferenceAttempts = 5
)

// NewReference returns a random 10-character uppercase alphanumeric token. Uniqueness is
// enforced by the stores at write time, not assumed from the random space.
func NewReference() (string, error) {
	alphabetSize := big.NewInt(int64(len(referenceAlphabet)))
	buf := make([]byte, referenceLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		buf[i] = referenceAlphabet[n.Int64()]
	}
	return string(buf), nil
}
