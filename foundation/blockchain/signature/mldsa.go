package signature

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Sizes of the ML-DSA key material and signatures.
const (
	PublicKeySize  = mode3.PublicKeySize
	PrivateKeySize = mode3.PrivateKeySize
	SignatureSize  = mode3.SignatureSize
)

// ErrInvalidKey is returned when key material can't be decoded.
var ErrInvalidKey = errors.New("invalid key")

// PrivateKey is an ML-DSA signing key.
type PrivateKey struct {
	sk *mode3.PrivateKey
	pk *mode3.PublicKey
}

// GenerateKey creates a new ML-DSA key pair from crypto/rand.
func GenerateKey() (*PrivateKey, error) {
	return GenerateKeyFrom(rand.Reader)
}

// GenerateKeyFrom creates a new key pair reading entropy from r.
func GenerateKeyFrom(r io.Reader) (*PrivateKey, error) {
	pk, sk, err := mode3.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	return &PrivateKey{sk: sk, pk: pk}, nil
}

// PrivateKeyFromBytes decodes a packed private key.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != PrivateKeySize {
		return nil, ErrInvalidKey
	}

	var sk mode3.PrivateKey
	if err := sk.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}

	pub, ok := sk.Public().(*mode3.PublicKey)
	if !ok {
		return nil, ErrInvalidKey
	}

	return &PrivateKey{sk: &sk, pk: pub}, nil
}

// Sign signs the message. ML-DSA signing is deterministic for a given key
// and message.
func (k *PrivateKey) Sign(msg []byte) []byte {
	sig := make([]byte, SignatureSize)
	mode3.SignTo(k.sk, msg, sig)
	return sig
}

// PublicKey returns the packed public key.
func (k *PrivateKey) PublicKey() []byte {
	return k.pk.Bytes()
}

// PubKeyHash returns the address commitment for this key.
func (k *PrivateKey) PubKeyHash() []byte {
	return PubKeyHash(k.PublicKey())
}

// Bytes returns the packed private key.
func (k *PrivateKey) Bytes() []byte {
	return k.sk.Bytes()
}

// Verify checks the signature of msg against the packed public key. Malformed
// keys or signatures simply fail verification.
func Verify(pubKey []byte, msg []byte, sig []byte) bool {
	if len(pubKey) != PublicKeySize || len(sig) != SignatureSize {
		return false
	}

	var pk mode3.PublicKey
	if err := pk.UnmarshalBinary(pubKey); err != nil {
		return false
	}

	return mode3.Verify(&pk, msg, sig)
}

// =============================================================================

// SaveKey writes the private key to the file as hex.
func SaveKey(path string, k *PrivateKey) error {
	return os.WriteFile(path, []byte(hexutil.Encode(k.Bytes())), 0600)
}

// LoadKey reads a hex encoded private key from the file.
func LoadKey(path string) (*PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	b, err := hexutil.Decode(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}

	return PrivateKeyFromBytes(b)
}
