package mempool_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/mempool"
	"github.com/btpc/consensus/foundation/blockchain/signature"
	"github.com/btpc/consensus/foundation/blockchain/validator"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// baseSize is the encoded size of a transaction built by newTx without
// padding.
const baseSize = 94

// fakeValidator reports the lock time as the fee. It rejects transactions
// spending a blocked outpoint as missing and those spending a forged
// outpoint as badly signed.
type fakeValidator struct {
	blocked map[database.OutPoint]bool
	forged  map[database.OutPoint]bool
	storage bool
	calls   int
	during  func()
}

func (fv *fakeValidator) ValidateTransaction(tx database.Tx) (uint64, error) {
	fv.calls++

	if fv.during != nil {
		fv.during()
	}

	if fv.storage {
		return 0, fmt.Errorf("%w: disk gone", validator.ErrStorageUnavailable)
	}

	for _, in := range tx.Inputs {
		if fv.blocked[in.PrevOut] {
			return 0, fmt.Errorf("%w: %s", validator.ErrUTXONotFound, in.PrevOut)
		}
		if fv.forged[in.PrevOut] {
			return 0, fmt.Errorf("%w: input %s", validator.ErrSignatureVerificationFailed, in.PrevOut)
		}
	}

	return uint64(tx.LockTime), nil
}

// newTx builds a transaction spending output 0 of a transaction identified
// by seed. The fee is carried in the lock time for the fake validator.
func newTx(seed byte, fee uint32, pad int) database.Tx {
	var prev signature.Hash
	prev[0] = seed

	return database.Tx{
		Version:  1,
		Inputs:   []database.TxIn{{PrevOut: database.OutPoint{TxID: prev}, SigScript: make([]byte, pad)}},
		Outputs:  []database.TxOut{{Value: 1000, PkScript: []byte{0x51}}},
		LockTime: fee,
		ForkID:   2,
	}
}

func newMempool(t *testing.T, fv *fakeValidator, cfg mempool.Config) (*mempool.Mempool, *time.Time) {
	now := time.Unix(1_750_000_000, 0)

	cfg.Validator = fv
	cfg.Now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	mp, err := mempool.New(cfg)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct a mempool: %v", failed, err)
	}

	return mp, &now
}

func TestAdmit(t *testing.T) {
	t.Log("Given the need to admit transactions into the mempool.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen handling a set of transactions.", testID)
		{
			fv := fakeValidator{blocked: map[database.OutPoint]bool{}}
			mp, _ := newMempool(t, &fv, mempool.Config{MaxTxSize: 500, MinFeeRate: 100})

			tx := newTx(1, 94, 0)
			e, err := mp.Admit(tx)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to admit a valid transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to admit a valid transaction.", success, testID)

			if e.Size != baseSize || e.FeeRate != 1000 {
				t.Logf("\t%s\tTest %d:\tgot: size %d rate %d", failed, testID, e.Size, e.FeeRate)
				t.Logf("\t%s\tTest %d:\texp: size %d rate %d", failed, testID, baseSize, 1000)
				t.Fatalf("\t%s\tTest %d:\tShould compute the fee rate per thousand bytes.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould compute the fee rate per thousand bytes.", success, testID)

			if mp.Count() != 1 || mp.Size() != baseSize {
				t.Fatalf("\t%s\tTest %d:\tShould account for the transaction: count %d size %d", failed, testID, mp.Count(), mp.Size())
			}
			t.Logf("\t%s\tTest %d:\tShould account for the transaction.", success, testID)

			if _, err := mp.Admit(tx); !errors.Is(err, mempool.ErrDuplicate) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a duplicate: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a duplicate.", success, testID)

			if _, err := mp.Admit(newTx(1, 200, 0)); !errors.Is(err, mempool.ErrDoubleSpend) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a spend of a claimed output: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a spend of a claimed output.", success, testID)

			if _, err := mp.Admit(newTx(2, 1, 0)); !errors.Is(err, mempool.ErrInsufficientFee) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a fee rate below the floor: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a fee rate below the floor.", success, testID)

			if _, err := mp.Admit(newTx(3, 1000, 600)); !errors.Is(err, mempool.ErrTooLarge) {
				t.Fatalf("\t%s\tTest %d:\tShould reject an oversized transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject an oversized transaction.", success, testID)

			if mp.Count() != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould leave the pool unchanged on rejection: %d", failed, testID, mp.Count())
			}
			t.Logf("\t%s\tTest %d:\tShould leave the pool unchanged on rejection.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen handling invalid transactions.", testID)
		{
			fv := fakeValidator{blocked: map[database.OutPoint]bool{}, forged: map[database.OutPoint]bool{}}
			mp, _ := newMempool(t, &fv, mempool.Config{})

			bad := newTx(9, 500, 0)
			fv.forged[bad.Inputs[0].PrevOut] = true

			if _, err := mp.Admit(bad); !errors.Is(err, validator.ErrSignatureVerificationFailed) {
				t.Fatalf("\t%s\tTest %d:\tShould return the validation error: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould return the validation error.", success, testID)

			calls := fv.calls
			if _, err := mp.Admit(bad); !errors.Is(err, mempool.ErrRecentlyRejected) {
				t.Fatalf("\t%s\tTest %d:\tShould remember the rejection: %v", failed, testID, err)
			}
			if fv.calls != calls {
				t.Fatalf("\t%s\tTest %d:\tShould not validate a recently rejected transaction again.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould remember the rejection.", success, testID)

			missing := newTx(11, 500, 0)
			fv.blocked[missing.Inputs[0].PrevOut] = true

			if _, err := mp.Admit(missing); !errors.Is(err, validator.ErrUTXONotFound) {
				t.Fatalf("\t%s\tTest %d:\tShould return the missing input: %v", failed, testID, err)
			}

			fv.blocked[missing.Inputs[0].PrevOut] = false
			if _, err := mp.Admit(missing); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould admit once the input exists: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould not remember a rejection the ledger can undo.", success, testID)

			fv.storage = true
			flaky := newTx(10, 500, 0)
			if _, err := mp.Admit(flaky); !errors.Is(err, validator.ErrStorageUnavailable) {
				t.Fatalf("\t%s\tTest %d:\tShould return the storage fault: %v", failed, testID, err)
			}

			fv.storage = false
			if _, err := mp.Admit(flaky); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould not remember a storage fault as a rejection: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould not remember a storage fault as a rejection.", success, testID)

			if st := mp.Stats(); st.Rejected != 1 || st.Count != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould report stats: %+v", failed, testID, st)
			}
			t.Logf("\t%s\tTest %d:\tShould report stats.", success, testID)
		}
	}
}

func TestPoolFull(t *testing.T) {
	t.Log("Given the need to bound the mempool.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the pool holds its maximum number of transactions.", testID)
		{
			fv := fakeValidator{blocked: map[database.OutPoint]bool{}}
			mp, _ := newMempool(t, &fv, mempool.Config{MaxTxs: 2})

			low := newTx(1, 10, 0)
			mid := newTx(2, 20, 0)
			for _, tx := range []database.Tx{low, mid} {
				if _, err := mp.Admit(tx); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to fill the pool: %v", failed, testID, err)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould be able to fill the pool.", success, testID)

			if _, err := mp.Admit(newTx(3, 10, 0)); !errors.Is(err, mempool.ErrPoolFull) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a newcomer paying no more than the cheapest: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a newcomer paying no more than the cheapest.", success, testID)

			high := newTx(4, 30, 0)
			if _, err := mp.Admit(high); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould admit a newcomer paying more: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould admit a newcomer paying more.", success, testID)

			if _, exists := mp.Get(low.ID()); exists {
				t.Fatalf("\t%s\tTest %d:\tShould evict the cheapest transaction.", failed, testID)
			}
			if _, exists := mp.Get(mid.ID()); !exists {
				t.Fatalf("\t%s\tTest %d:\tShould keep the more expensive transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould evict the cheapest transaction.", success, testID)

			if _, err := mp.Admit(newTx(1, 40, 0)); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould release the outpoints of an evicted transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould release the outpoints of an evicted transaction.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the pool holds its maximum number of bytes.", testID)
		{
			fv := fakeValidator{blocked: map[database.OutPoint]bool{}}
			mp, _ := newMempool(t, &fv, mempool.Config{MaxBytes: 2 * baseSize})

			first := newTx(1, 10, 0)
			second := newTx(2, 10, 0)
			for _, tx := range []database.Tx{first, second} {
				if _, err := mp.Admit(tx); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to fill the pool: %v", failed, testID, err)
				}
			}

			if _, err := mp.Admit(newTx(3, 1000, baseSize)); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould evict enough bytes for a larger newcomer: %v", failed, testID, err)
			}
			if mp.Count() != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould have evicted both entries: %d", failed, testID, mp.Count())
			}
			t.Logf("\t%s\tTest %d:\tShould evict enough bytes for a larger newcomer.", success, testID)
		}
	}
}

func TestSelectForBlock(t *testing.T) {
	t.Log("Given the need to select transactions for a block.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen using the fee rate strategy.", testID)
		{
			fv := fakeValidator{blocked: map[database.OutPoint]bool{}}
			mp, _ := newMempool(t, &fv, mempool.Config{})

			txs := []database.Tx{
				newTx(1, 10, 0),
				newTx(2, 50, 0),
				newTx(3, 30, 0),
				newTx(4, 500, 200),
			}
			for _, tx := range txs {
				if _, err := mp.Admit(tx); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to admit: %v", failed, testID, err)
				}
			}

			got := mp.SelectForBlock(-1)
			exp := []database.Tx{txs[3], txs[1], txs[2], txs[0]}
			if len(got) != len(exp) {
				t.Fatalf("\t%s\tTest %d:\tShould select every transaction: %d", failed, testID, len(got))
			}
			for i := range exp {
				if !got[i].ID().Equal(exp[i].ID()) {
					t.Fatalf("\t%s\tTest %d:\tShould order by fee rate at position %d.", failed, testID, i)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould order by fee rate.", success, testID)

			got = mp.SelectForBlock(2 * baseSize)
			if len(got) != 2 || !got[0].ID().Equal(txs[1].ID()) || !got[1].ID().Equal(txs[2].ID()) {
				t.Fatalf("\t%s\tTest %d:\tShould skip what does not fit the byte budget: %d", failed, testID, len(got))
			}
			t.Logf("\t%s\tTest %d:\tShould skip what does not fit the byte budget.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen using the age strategy.", testID)
		{
			fv := fakeValidator{blocked: map[database.OutPoint]bool{}}
			mp, _ := newMempool(t, &fv, mempool.Config{Strategy: "age"})

			txs := []database.Tx{newTx(1, 10, 0), newTx(2, 50, 0), newTx(3, 30, 0)}
			for _, tx := range txs {
				if _, err := mp.Admit(tx); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to admit: %v", failed, testID, err)
				}
			}

			got := mp.SelectForBlock(-1)
			for i := range txs {
				if !got[i].ID().Equal(txs[i].ID()) {
					t.Fatalf("\t%s\tTest %d:\tShould order by admission at position %d.", failed, testID, i)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould order by admission.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen using an unknown strategy.", testID)
		{
			fv := fakeValidator{}
			if _, err := mempool.New(mempool.Config{Validator: &fv, Strategy: "tip"}); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould reject the strategy.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the strategy.", success, testID)
		}
	}
}

func TestBlockApplied(t *testing.T) {
	t.Log("Given the need to revalidate the mempool after a block.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a block is applied.", testID)
		{
			fv := fakeValidator{blocked: map[database.OutPoint]bool{}}
			mp, _ := newMempool(t, &fv, mempool.Config{})

			included := newTx(1, 10, 0)
			conflicting := newTx(2, 10, 0)
			invalidated := newTx(3, 10, 0)
			survivor := newTx(4, 10, 0)

			for _, tx := range []database.Tx{included, conflicting, invalidated, survivor} {
				if _, err := mp.Admit(tx); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to admit: %v", failed, testID, err)
				}
			}

			// The block carries a different spend of the conflicting outpoint.
			block := database.Block{
				Txs: []database.Tx{
					{Version: 1, Inputs: []database.TxIn{{PrevOut: database.NullOutPoint}}, ForkID: 2},
					included,
					newTx(2, 99, 0),
				},
			}
			fv.blocked[invalidated.Inputs[0].PrevOut] = true

			// Revalidation must leave the pool readable.
			var locked bool
			fv.during = func() {
				done := make(chan struct{})
				go func() {
					mp.Count()
					close(done)
				}()
				select {
				case <-done:
				case <-time.After(time.Second):
					locked = true
				}
			}

			removed := mp.BlockApplied(block)
			fv.during = nil

			if locked {
				t.Fatalf("\t%s\tTest %d:\tShould not hold the pool lock while revalidating.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not hold the pool lock while revalidating.", success, testID)

			if len(removed) != 3 {
				t.Fatalf("\t%s\tTest %d:\tShould remove three transactions: %d", failed, testID, len(removed))
			}
			t.Logf("\t%s\tTest %d:\tShould remove three transactions.", success, testID)

			for _, tx := range []database.Tx{included, conflicting, invalidated} {
				if _, exists := mp.Get(tx.ID()); exists {
					t.Fatalf("\t%s\tTest %d:\tShould not keep tx %s.", failed, testID, tx.ID())
				}
			}
			if _, exists := mp.Get(survivor.ID()); !exists {
				t.Fatalf("\t%s\tTest %d:\tShould keep the unaffected transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould keep only the unaffected transaction.", success, testID)

			if _, err := mp.Admit(newTx(2, 20, 0)); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould release the conflicting outpoint index: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould release the conflicting outpoint index.", success, testID)
		}
	}
}

func TestRemoveExpired(t *testing.T) {
	t.Log("Given the need to expire old transactions.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen transactions sit in the pool too long.", testID)
		{
			fv := fakeValidator{blocked: map[database.OutPoint]bool{}}
			mp, now := newMempool(t, &fv, mempool.Config{})

			old := newTx(1, 10, 0)
			if _, err := mp.Admit(old); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to admit: %v", failed, testID, err)
			}

			*now = now.Add(time.Hour)

			fresh := newTx(2, 10, 0)
			if _, err := mp.Admit(fresh); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to admit: %v", failed, testID, err)
			}

			if n := mp.RemoveExpired(30 * time.Minute); n != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould remove one transaction: %d", failed, testID, n)
			}
			if _, exists := mp.Get(fresh.ID()); !exists {
				t.Fatalf("\t%s\tTest %d:\tShould keep the fresh transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould remove only the old transaction.", success, testID)

			mp.Truncate()
			if mp.Count() != 0 || mp.Size() != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould be empty after truncate.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould be empty after truncate.", success, testID)
		}
	}
}
