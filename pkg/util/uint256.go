package util

import (
	"encoding/hex"
	"fmt"
)

// Uint256Size is the size of Uint256 in bytes.
const Uint256Size = 32

// Uint256 is a 32 byte long unsigned integer. Its zero value stands for
// "no hash".
type Uint256 [Uint256Size]uint8

// Uint256DecodeStringLE attempts to decode the given string (in LE
// representation) into a Uint256.
func Uint256DecodeStringLE(s string) (u Uint256, err error) {
	if len(s) != Uint256Size*2 {
		return u, fmt.Errorf("expected string size of %d got %d", Uint256Size*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return u, err
	}
	return Uint256DecodeBytesLE(b)
}

// Uint256DecodeBytesBE attempts to decode the given bytes (in BE
// representation) into a Uint256.
func Uint256DecodeBytesBE(b []byte) (u Uint256, err error) {
	if len(b) != Uint256Size {
		return u, fmt.Errorf("expected []byte of size %d got %d", Uint256Size, len(b))
	}
	copy(u[:], b)
	return u, nil
}

// Uint256DecodeBytesLE attempts to decode the given bytes (in LE
// representation) into a Uint256.
func Uint256DecodeBytesLE(b []byte) (u Uint256, err error) {
	if len(b) != Uint256Size {
		return u, fmt.Errorf("expected []byte of size %d got %d", Uint256Size, len(b))
	}
	for i := range b {
		u[Uint256Size-i-1] = b[i]
	}
	return u, nil
}

// BytesBE returns a byte slice representation of u.
func (u Uint256) BytesBE() []byte {
	return u[:]
}

// BytesLE returns a little-endian byte representation of u.
func (u Uint256) BytesLE() []byte {
	b := make([]byte, Uint256Size)
	for i := range u {
		b[Uint256Size-i-1] = u[i]
	}
	return b
}

// Equals returns true if both Uint256 values are the same.
func (u Uint256) Equals(other Uint256) bool {
	return u == other
}

// String implements the stringer interface. Uses LE representation as the
// rest of the Bitcoin-derived world does.
func (u Uint256) String() string {
	return u.StringLE()
}

// StringBE produces a string representation of Uint256 with BE byte order.
func (u Uint256) StringBE() string {
	return hex.EncodeToString(u.BytesBE())
}

// StringLE produces a string representation of Uint256 with LE byte order.
func (u Uint256) StringLE() string {
	return hex.EncodeToString(u.BytesLE())
}

// CompareTo compares two Uint256 with each other. Possible output: 1, -1, 0.
//  1 implies u > other.
// -1 implies u < other.
//  0 implies u = other.
func (u Uint256) CompareTo(other Uint256) int {
	for i := range u {
		if u[i] > other[i] {
			return 1
		}
		if u[i] < other[i] {
			return -1
		}
	}
	return 0
}
