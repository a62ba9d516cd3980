package difficulty_test

import (
	"math/big"
	"testing"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/difficulty"
	"github.com/btpc/consensus/foundation/blockchain/genesis"
	"github.com/btpc/consensus/foundation/blockchain/pow"
	"github.com/stretchr/testify/require"
)

var params = genesis.Mainnet

func span(seconds int64) (database.BlockHeader, database.BlockHeader) {
	start := database.BlockHeader{Timestamp: 1_800_000_000}
	end := database.BlockHeader{Timestamp: uint32(int64(start.Timestamp) + seconds)}
	return start, end
}

func TestIsAdjustmentHeight(t *testing.T) {
	require.False(t, difficulty.IsAdjustmentHeight(0, params))
	require.False(t, difficulty.IsAdjustmentHeight(2015, params))
	require.True(t, difficulty.IsAdjustmentHeight(2016, params))
	require.False(t, difficulty.IsAdjustmentHeight(2017, params))
	require.True(t, difficulty.IsAdjustmentHeight(4032, params))
}

func TestNextTarget(t *testing.T) {
	prev, err := pow.TargetFromBits(0x3d0fffff)
	require.NoError(t, err)

	expected := params.TargetTimespan()

	t.Run("half", func(t *testing.T) {
		start, end := span(expected / 2)
		next, err := difficulty.NextTarget(start, end, prev, params)
		require.NoError(t, err)
		require.Zero(t, new(big.Int).Div(prev, big.NewInt(2)).Cmp(next))
	})

	t.Run("exact", func(t *testing.T) {
		start, end := span(expected)
		next, err := difficulty.NextTarget(start, end, prev, params)
		require.NoError(t, err)
		require.Zero(t, prev.Cmp(next))
	})

	t.Run("clamped fast", func(t *testing.T) {
		start, end := span(expected / 100)
		next, err := difficulty.NextTarget(start, end, prev, params)
		require.NoError(t, err)
		require.Zero(t, new(big.Int).Div(prev, big.NewInt(4)).Cmp(next))
	})

	t.Run("backwards time", func(t *testing.T) {
		start, end := span(-5000)
		next, err := difficulty.NextTarget(start, end, prev, params)
		require.NoError(t, err)
		require.Zero(t, new(big.Int).Div(prev, big.NewInt(4)).Cmp(next))
	})

	t.Run("clamped slow", func(t *testing.T) {
		start, end := span(expected * 100)
		next, err := difficulty.NextTarget(start, end, prev, params)
		require.NoError(t, err)
		require.Zero(t, new(big.Int).Mul(prev, big.NewInt(4)).Cmp(next))
	})

	t.Run("capped at limit", func(t *testing.T) {
		limit, err := pow.TargetFromBits(params.PowLimitBits)
		require.NoError(t, err)

		start, end := span(expected * 4)
		next, err := difficulty.NextTarget(start, end, limit, params)
		require.NoError(t, err)
		require.Zero(t, limit.Cmp(next))
	})
}

func TestCheckTransition(t *testing.T) {
	parent := database.BlockHeader{Bits: 0x3d0fffff, Timestamp: 1_800_000_000}

	require.NoError(t, difficulty.CheckTransition(100, 0x3d0fffff, parent, database.BlockHeader{}, params))
	require.ErrorIs(t, difficulty.CheckTransition(100, 0x3d0ffffe, parent, database.BlockHeader{}, params), difficulty.ErrUnexpectedChange)

	start := database.BlockHeader{Timestamp: parent.Timestamp - uint32(params.TargetTimespan()/2)}

	prev, err := pow.TargetFromBits(parent.Bits)
	require.NoError(t, err)
	exp := pow.BitsFromTarget(new(big.Int).Div(prev, big.NewInt(2)))

	require.NoError(t, difficulty.CheckTransition(2016, exp, parent, start, params))
	require.ErrorIs(t, difficulty.CheckTransition(2016, parent.Bits, parent, start, params), difficulty.ErrIncorrectAdjustment)

	lookup := func(h uint32) (database.BlockHeader, error) {
		require.Equal(t, uint32(0), h)
		return start, nil
	}
	bits, err := difficulty.NextBits(2016, parent, lookup, params)
	require.NoError(t, err)
	require.Equal(t, exp, bits)

	bits, err = difficulty.NextBits(2017, parent, lookup, params)
	require.NoError(t, err)
	require.Equal(t, parent.Bits, bits)
}
