package random

import (
	"crypto/sha256"
	"math/rand"

	"github.com/divi-project/divid/pkg/util"
)

// String returns a random string with the n as its length.
func String(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(Int(65, 90))
	}

	return string(b)
}

// Bytes returns a random byte slice of specified length.
func Bytes(n int) []byte {
	b := make([]byte, n)
	Fill(b)
	return b
}

// Fill fills buffer with random bytes.
func Fill(buf []byte) {
	// Rand reader returns no errors.
	rand.Read(buf)
}

// Int returns a random integer in [min,max).
func Int(min, max int) int {
	return min + rand.Intn(max-min)
}

// Uint256 returns a random Uint256.
func Uint256() util.Uint256 {
	return util.Uint256(sha256.Sum256(Bytes(20)))
}
