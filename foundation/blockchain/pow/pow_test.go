package pow

import (
	"context"
	"errors"
	"math"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/signature"
	"github.com/stretchr/testify/require"
)

func header(ts uint32) database.BlockHeader {
	return database.BlockHeader{
		Version:    1,
		PrevBlock:  signature.Sum([]byte("parent")),
		MerkleRoot: signature.Sum([]byte("root")),
		Timestamp:  ts,
		Bits:       0x407fffff,
	}
}

func TestTargetFromBits(t *testing.T) {
	target, err := TargetFromBits(0x3e0fffff)
	require.NoError(t, err)

	exp := new(big.Int).Lsh(big.NewInt(0x0fffff), 8*(0x3e-3))
	require.Zero(t, exp.Cmp(target))
	require.NotZero(t, target.Cmp(MaxTarget()), "a real target must not become the maximal target")
	require.Equal(t, uint32(0x3e0fffff), BitsFromTarget(target))

	for _, bits := range []uint32{0x3e000000, 0x3e800001, 0x417fffff, 0x01003456} {
		_, err := TargetFromBits(bits)
		require.ErrorIs(t, err, ErrInvalidBits, "bits %08x", bits)
	}
}

func TestMeetsTarget(t *testing.T) {
	target, err := TargetFromBits(0x3e0fffff)
	require.NoError(t, err)

	tb := TargetBytes(target)

	var equal signature.Hash
	copy(equal[:], tb[:])
	require.True(t, MeetsTarget(equal, target))

	below := equal
	below[4]--
	require.True(t, MeetsTarget(below, target))

	above := equal
	above[signature.HashSize-1]++
	require.False(t, MeetsTarget(above, target))

	var high signature.Hash
	high[0] = 0x01
	require.False(t, MeetsTarget(high, target), "a hash meeting only the maximal target is rejected")
	require.True(t, MeetsTarget(high, MaxTarget()))

	require.True(t, MeetsTarget(signature.ZeroHash, target))
}

func TestMeetsTargetAgreesWithCmp(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))

	for pos := 0; pos < signature.HashSize; pos++ {
		for i := 0; i < 64; i++ {
			var hash signature.Hash
			rnd.Read(hash[:])

			// The target shares the hash prefix and first differs at pos.
			var tb Target
			copy(tb[:], hash[:])
			for tb[pos] == hash[pos] {
				tb[pos] = byte(rnd.Intn(256))
			}
			rnd.Read(tb[pos+1:])

			target := new(big.Int).SetBytes(tb[:])
			exp := new(big.Int).SetBytes(hash[:]).Cmp(target) <= 0

			require.Equal(t, exp, meets(hash, tb), "pos %d", pos)
			require.Equal(t, exp, MeetsTarget(hash, target), "pos %d", pos)

			var equal signature.Hash
			copy(equal[:], tb[:])
			require.True(t, MeetsTarget(equal, target), "pos %d", pos)
		}
	}
}

var meetsSink bool

func TestMeetsTargetConstantTime(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}

	var tb Target
	for i := range tb {
		tb[i] = 0x80
	}

	// Fastest of several runs of comparing a hash that first differs from
	// the target at pos.
	measure := func(pos int) time.Duration {
		var hash signature.Hash
		copy(hash[:], tb[:])
		hash[pos] = 0x81

		best := time.Duration(math.MaxInt64)
		for trial := 0; trial < 9; trial++ {
			start := time.Now()
			for i := 0; i < 20_000; i++ {
				meetsSink = meets(hash, tb) != meetsSink
			}
			if d := time.Since(start); d < best {
				best = d
			}
		}
		return best
	}

	fastest := time.Duration(math.MaxInt64)
	var slowest time.Duration
	for _, pos := range []int{0, 1, 16, 32, 48, signature.HashSize - 1} {
		d := measure(pos)
		if d < fastest {
			fastest = d
		}
		if d > slowest {
			slowest = d
		}
	}

	require.Less(t, slowest, 3*fastest, "comparison time depends on where the values differ: fastest %v slowest %v", fastest, slowest)
}

func TestMine(t *testing.T) {
	target, err := TargetFromBits(0x407fffff)
	require.NoError(t, err)

	h := header(1735690000)
	nonce, err := Mine(context.Background(), h, target)
	require.NoError(t, err)

	h.Nonce = nonce
	require.True(t, MeetsTarget(h.Hash(), target))
}

func TestMineExhausted(t *testing.T) {
	_, err := mine(context.Background(), header(1735690000), big.NewInt(1), 0, 1000)
	require.ErrorIs(t, err, ErrExhausted)
}

func TestMineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mine(ctx, header(1735690000), big.NewInt(1), 0, 1000)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestMineWraps(t *testing.T) {
	const start = math.MaxUint32 - 4

	// Find a header whose best nonce in the window lies past the wrap.
	for ts := uint32(1735690000); ; ts++ {
		h := header(ts)

		var best *big.Int
		var bestNonce uint32
		nonce := uint32(start)
		for i := 0; i < 10; i++ {
			h.Nonce = nonce
			hash := h.Hash()
			v := new(big.Int).SetBytes(hash[:])
			if best == nil || v.Cmp(best) < 0 {
				best, bestNonce = v, nonce
			}
			nonce++
		}

		if bestNonce > 4 {
			continue
		}

		h.Nonce = 0
		got, err := mine(context.Background(), h, best, start, 10)
		require.NoError(t, err)
		require.Equal(t, bestNonce, got)
		return
	}
}

func TestWork(t *testing.T) {
	easy := Work(0x407fffff)
	hard := Work(0x3e0fffff)
	require.Equal(t, 1, hard.Cmp(easy))
	require.Zero(t, Work(0x3e800001).Sign())
}
