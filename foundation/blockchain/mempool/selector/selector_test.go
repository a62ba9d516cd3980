package selector_test

import (
	"testing"
	"time"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/mempool/selector"
	"github.com/btpc/consensus/foundation/blockchain/signature"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func entry(seed byte, rate uint64, size int, added time.Time, spends ...byte) selector.Entry {
	var id signature.Hash
	id[0] = seed

	tx := database.Tx{Version: 1, LockTime: uint32(seed)}
	for _, s := range spends {
		var prev signature.Hash
		prev[0] = s
		tx.Inputs = append(tx.Inputs, database.TxIn{PrevOut: database.OutPoint{TxID: prev}})
	}

	return selector.Entry{Tx: tx, ID: id, FeeRate: rate, Size: size, Added: added}
}

func ids(entries []selector.Entry) []byte {
	out := make([]byte, len(entries))
	for i, e := range entries {
		out[i] = e.ID[0]
	}
	return out
}

func TestSelect(t *testing.T) {
	now := time.Now()

	type test struct {
		name     string
		strategy string
		entries  []selector.Entry
		maxBytes int
		best     []byte
	}

	tt := []test{
		{
			name:     "fee rate order",
			strategy: selector.StrategyFeeRate,
			entries: []selector.Entry{
				entry(1, 10, 100, now, 1),
				entry(2, 30, 100, now, 2),
				entry(3, 20, 100, now, 3),
			},
			maxBytes: -1,
			best:     []byte{2, 3, 1},
		},
		{
			name:     "fee rate ties go to the oldest",
			strategy: selector.StrategyFeeRate,
			entries: []selector.Entry{
				entry(1, 10, 100, now.Add(2*time.Second), 1),
				entry(2, 10, 100, now.Add(time.Second), 2),
				entry(3, 10, 100, now.Add(time.Second), 3),
			},
			maxBytes: -1,
			best:     []byte{2, 3, 1},
		},
		{
			name:     "conflicting spends",
			strategy: selector.StrategyFeeRate,
			entries: []selector.Entry{
				entry(1, 50, 100, now, 7, 8),
				entry(2, 40, 100, now, 8),
				entry(3, 30, 100, now, 9),
			},
			maxBytes: -1,
			best:     []byte{1, 3},
		},
		{
			name:     "byte budget",
			strategy: selector.StrategyFeeRate,
			entries: []selector.Entry{
				entry(1, 50, 300, now, 1),
				entry(2, 40, 200, now, 2),
				entry(3, 30, 100, now, 3),
				entry(4, 20, 100, now, 4),
			},
			maxBytes: 400,
			best:     []byte{1, 3},
		},
		{
			name:     "age order",
			strategy: selector.StrategyAge,
			entries: []selector.Entry{
				entry(1, 50, 100, now.Add(3*time.Second), 1),
				entry(2, 10, 100, now.Add(time.Second), 2),
				entry(3, 30, 100, now.Add(2*time.Second), 3),
			},
			maxBytes: -1,
			best:     []byte{2, 3, 1},
		},
	}

	t.Log("Given the need to select transactions for a block.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling %s.", testID, tst.name)
			{
				f := func(t *testing.T) {
					selectFn, err := selector.Retrieve(tst.strategy)
					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould be able to retrieve strategy: %v", failed, testID, err)
					}
					t.Logf("\t%s\tTest %d:\tShould be able to retrieve strategy.", success, testID)

					got := ids(selectFn(tst.entries, tst.maxBytes))
					if string(got) != string(tst.best) {
						t.Logf("\t%s\tTest %d:\tgot: %v", failed, testID, got)
						t.Logf("\t%s\tTest %d:\texp: %v", failed, testID, tst.best)
						t.Fatalf("\t%s\tTest %d:\tShould get back the right transactions.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould get back the right transactions.", success, testID)
				}

				t.Run(tst.name, f)
			}
		}
	}
}

func TestFeeRate(t *testing.T) {
	t.Log("Given the need to compare fees of different sizes.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen computing a fee rate.", testID)
		{
			if got := selector.FeeRate(94, 94); got != 1000 {
				t.Fatalf("\t%s\tTest %d:\tShould be a thousand per byte paid: %d", failed, testID, got)
			}
			if got := selector.FeeRate(10, 0); got != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould be zero for an empty size: %d", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould compute integer fee rates.", success, testID)
		}
	}
}
