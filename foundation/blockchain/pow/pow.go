// Package pow implements the proof of work rules: compact difficulty
// targets, the hash to target comparison and the nonce search.
package pow

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/signature"
)

// Set of error variables for proof of work.
var (
	ErrInvalidBits = errors.New("invalid compact target")
	ErrExhausted   = errors.New("nonce space exhausted")
)

// Target is the big endian 512 bit representation of a difficulty target.
type Target [signature.HashSize]byte

var (
	bigOne     = big.NewInt(1)
	oneLsh512  = new(big.Int).Lsh(bigOne, 8*signature.HashSize)
	maxTarget  = new(big.Int).Sub(oneLsh512, bigOne)
	nonceSpace = uint64(math.MaxUint32) + 1
)

// MaxTarget returns the largest representable target.
func MaxTarget() *big.Int {
	return new(big.Int).Set(maxTarget)
}

// TargetFromBits expands the compact representation into the full target.
// Negative, zero and overflowing encodings are rejected so a malformed value
// can never turn into an easier target than it claims.
func TargetFromBits(bits uint32) (*big.Int, error) {
	if bits&0x007fffff == 0 {
		return nil, fmt.Errorf("%w: bits %08x encode zero", ErrInvalidBits, bits)
	}
	if bits&0x00800000 != 0 {
		return nil, fmt.Errorf("%w: bits %08x encode a negative value", ErrInvalidBits, bits)
	}

	target := blockchain.CompactToBig(bits)
	if target.Sign() <= 0 || target.Cmp(maxTarget) > 0 {
		return nil, fmt.Errorf("%w: bits %08x overflow 512 bits", ErrInvalidBits, bits)
	}

	return target, nil
}

// BitsFromTarget returns the compact representation of the target. Precision
// below the top three bytes is dropped.
func BitsFromTarget(target *big.Int) uint32 {
	return blockchain.BigToCompact(target)
}

// TargetBytes returns the fixed width big endian form of the target.
func TargetBytes(target *big.Int) Target {
	var t Target
	if target.Sign() <= 0 {
		return t
	}
	if target.Cmp(maxTarget) > 0 {
		target = maxTarget
	}
	target.FillBytes(t[:])
	return t
}

// MeetsTarget reports whether hash <= target, reading both as big endian
// numbers. Every byte is visited regardless of where the values differ.
func MeetsTarget(hash signature.Hash, target *big.Int) bool {
	t := TargetBytes(target)
	return meets(hash, t)
}

func meets(hash signature.Hash, t Target) bool {
	var borrow uint32
	for i := signature.HashSize - 1; i >= 0; i-- {
		d := uint32(t[i]) - uint32(hash[i]) - borrow
		borrow = (d >> 31) & 1
	}
	return borrow == 0
}

// Work returns the expected number of hashes needed to meet the target of
// the bits. Chains are compared by their summed work.
func Work(bits uint32) *big.Int {
	target, err := TargetFromBits(bits)
	if err != nil {
		return new(big.Int)
	}

	denom := new(big.Int).Add(target, bigOne)
	return new(big.Int).Div(oneLsh512, denom)
}

// =============================================================================

// Mine searches for a nonce that makes the header hash meet the target. The
// search starts at a random nonce and wraps around. ErrExhausted is returned
// once every nonce was tried so the caller can build a fresh header.
func Mine(ctx context.Context, header database.BlockHeader, target *big.Int) (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}

	return mine(ctx, header, target, binary.LittleEndian.Uint32(b[:]), nonceSpace)
}

func mine(ctx context.Context, header database.BlockHeader, target *big.Int, start uint32, tries uint64) (uint32, error) {
	t := TargetBytes(target)

	raw := header.Encode()
	nonceAt := raw[len(raw)-4:]

	nonce := start
	for i := uint64(0); i < tries; i++ {
		if i&0xffff == 0 && ctx.Err() != nil {
			return 0, ctx.Err()
		}

		binary.LittleEndian.PutUint32(nonceAt, nonce)
		if meets(signature.DoubleSum(raw), t) {
			return nonce, nil
		}

		nonce++
	}

	return 0, ErrExhausted
}
