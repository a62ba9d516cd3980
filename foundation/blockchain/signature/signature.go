// Package signature provides helper functions for handling the blockchain
// hashing and signature needs.
package signature

import (
	"bytes"
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// HashSize is the number of bytes in a digest.
const HashSize = sha512.Size

// PubKeyHashSize is the number of bytes in a public key hash.
const PubKeyHashSize = 20

// ZeroHash represents a hash code of zeros.
var ZeroHash Hash

// =============================================================================

// Hash is a 512 bit digest used for block, transaction and merkle hashes.
type Hash [HashSize]byte

// Sum returns the SHA-512 digest of the data.
func Sum(data []byte) Hash {
	return sha512.Sum512(data)
}

// DoubleSum returns SHA-512(SHA-512(data)). Block and transaction ids are
// always produced this way.
func DoubleSum(data []byte) Hash {
	first := sha512.Sum512(data)
	return sha512.Sum512(first[:])
}

// ParseHash converts a 0x prefixed hex string into a hash.
func ParseHash(s string) (Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Hash{}, fmt.Errorf("decode hash: %w", err)
	}

	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("invalid hash length %d", len(b))
	}

	var h Hash
	copy(h[:], b)
	return h, nil
}

// Equal compares two hashes in constant time.
func (h Hash) Equal(other Hash) bool {
	return subtle.ConstantTimeCompare(h[:], other[:]) == 1
}

// Compare orders two hashes as big endian numbers. It is not constant time
// and is meant for sorting.
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

// IsZero reports whether the hash is all zeros.
func (h Hash) IsZero() bool {
	return h.Equal(ZeroHash)
}

// Bytes returns a copy of the hash as a slice.
func (h Hash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// String returns the 0x prefixed hex form of the hash.
func (h Hash) String() string {
	return hexutil.Encode(h[:])
}

// MarshalText implements the encoding.TextMarshaler interface.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (h *Hash) UnmarshalText(text []byte) error {
	v, err := ParseHash(string(text))
	if err != nil {
		return err
	}

	*h = v
	return nil
}

// =============================================================================

// PubKeyHash returns the 20 byte commitment to a public key that is placed
// inside pay-to-pubkey-hash lock scripts.
func PubKeyHash(pubKey []byte) []byte {
	h := sha512.Sum512(pubKey)
	out := make([]byte, PubKeyHashSize)
	copy(out, h[:PubKeyHashSize])
	return out
}

// ParsePubKeyHash converts a 0x prefixed hex address into a pubkey hash.
func ParsePubKeyHash(s string) ([]byte, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}

	if len(b) != PubKeyHashSize {
		return nil, errors.New("invalid address length")
	}

	return b, nil
}
