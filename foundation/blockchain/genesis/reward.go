package genesis

// Reward schedule constants in base units.
const (
	InitialReward  uint64 = 3_237_500_000
	TailEmission   uint64 = 50_000_000
	BlocksPerYear  uint32 = 52_596
	DecayEndHeight uint32 = 24 * BlocksPerYear
)

// Reward returns the block subsidy at height. It decays linearly from the
// initial reward to the tail emission and stays there. The decrease is
// floor((initial - tail) * height / decay end height), exact in 64 bits
// over the whole decay period.
func Reward(height uint32) uint64 {
	if height >= DecayEndHeight {
		return TailEmission
	}

	total := InitialReward - TailEmission
	decrease := total * uint64(height) / uint64(DecayEndHeight)

	return InitialReward - decrease
}

// TotalSupply returns the sum of every subsidy up to but excluding height,
// with the genesis subsidy counted for height 0.
func TotalSupply(height uint32) uint64 {
	if height == 0 {
		return InitialReward
	}

	decay := height
	if decay > DecayEndHeight {
		decay = DecayEndHeight
	}

	var supply uint64
	for h := uint32(0); h < decay; h++ {
		supply += Reward(h)
	}

	return supply + uint64(height-decay)*TailEmission
}
