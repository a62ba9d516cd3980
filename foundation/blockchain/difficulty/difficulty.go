// Package difficulty implements the periodic retargeting of the proof of work
// target. All arithmetic is done on integers so every node computes the same
// result.
package difficulty

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/genesis"
	"github.com/btpc/consensus/foundation/blockchain/pow"
)

// MaxAdjustmentFactor bounds how far a single retarget can move the target.
const MaxAdjustmentFactor = 4

// Set of error variables for difficulty transitions.
var (
	ErrUnexpectedChange    = errors.New("difficulty changed outside an adjustment height")
	ErrIncorrectAdjustment = errors.New("difficulty adjustment does not match the expected target")
)

// IsAdjustmentHeight reports whether a block at height starts a new period.
func IsAdjustmentHeight(height uint32, p genesis.Params) bool {
	return height > 0 && height%p.AdjustmentInterval == 0
}

// ClampTimespan bounds the observed duration of a period to a factor of four
// around the expected duration.
func ClampTimespan(actual int64, p genesis.Params) int64 {
	expected := p.TargetTimespan()
	minSpan := expected / MaxAdjustmentFactor
	maxSpan := expected * MaxAdjustmentFactor

	switch {
	case actual < minSpan:
		return minSpan
	case actual > maxSpan:
		return maxSpan
	}

	return actual
}

// NextTarget computes the target of the period that follows the one spanning
// start to end. The previous target is scaled by actual / expected time and
// never exceeds the network's proof of work limit.
func NextTarget(start, end database.BlockHeader, prev *big.Int, p genesis.Params) (*big.Int, error) {
	limit, err := pow.TargetFromBits(p.PowLimitBits)
	if err != nil {
		return nil, fmt.Errorf("pow limit: %w", err)
	}

	actual := ClampTimespan(int64(end.Timestamp)-int64(start.Timestamp), p)

	next := new(big.Int).Mul(prev, big.NewInt(actual))
	next.Div(next, big.NewInt(p.TargetTimespan()))

	if next.Cmp(limit) > 0 {
		next.Set(limit)
	}

	return next, nil
}

// CheckTransition verifies the bits of a block at height against its parent.
// Outside an adjustment height the bits must be inherited unchanged. At an
// adjustment height they must equal the recomputed target, where start is the
// header at height-interval and end is the parent.
func CheckTransition(height uint32, bits uint32, parent database.BlockHeader, start database.BlockHeader, p genesis.Params) error {
	if !IsAdjustmentHeight(height, p) {
		if bits != parent.Bits {
			return fmt.Errorf("%w: height %d bits %08x parent %08x", ErrUnexpectedChange, height, bits, parent.Bits)
		}
		return nil
	}

	prev, err := pow.TargetFromBits(parent.Bits)
	if err != nil {
		return err
	}

	next, err := NextTarget(start, parent, prev, p)
	if err != nil {
		return err
	}

	if exp := pow.BitsFromTarget(next); bits != exp {
		return fmt.Errorf("%w: height %d bits %08x expected %08x", ErrIncorrectAdjustment, height, bits, exp)
	}

	return nil
}

// NextBits returns the bits a block at height must carry. The lookup
// function returns the header at a given height of the current chain.
func NextBits(height uint32, parent database.BlockHeader, lookup func(uint32) (database.BlockHeader, error), p genesis.Params) (uint32, error) {
	if !IsAdjustmentHeight(height, p) {
		return parent.Bits, nil
	}

	start, err := lookup(height - p.AdjustmentInterval)
	if err != nil {
		return 0, err
	}

	prev, err := pow.TargetFromBits(parent.Bits)
	if err != nil {
		return 0, err
	}

	next, err := NextTarget(start, parent, prev, p)
	if err != nil {
		return 0, err
	}

	return pow.BitsFromTarget(next), nil
}
