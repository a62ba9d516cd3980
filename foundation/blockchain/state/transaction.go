package state

import (
	"errors"
	"time"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/mempool"
	"github.com/btpc/consensus/foundation/blockchain/metrics"
	"github.com/btpc/consensus/foundation/blockchain/validator"
)

// admissionReasons names the mempool admission rules for metrics.
var admissionReasons = []struct {
	err    error
	reason string
}{
	{mempool.ErrDuplicate, "Duplicate"},
	{mempool.ErrRecentlyRejected, "RecentlyRejected"},
	{mempool.ErrTooLarge, "TooLarge"},
	{mempool.ErrDoubleSpend, "DoubleSpend"},
	{mempool.ErrInsufficientFee, "InsufficientFee"},
	{mempool.ErrPoolFull, "PoolFull"},
	{validator.ErrStorageUnavailable, "StorageUnavailable"},
}

// AdmitToMempool validates a loose transaction against the ledger and adds
// it to the mempool. A mining operation is signalled on success.
func (s *State) AdmitToMempool(tx database.Tx) (mempool.Entry, error) {
	e, err := s.mempool.Admit(tx)
	if err != nil {
		s.logRejection("AdmitToMempool", tx.ID().String(), err)
		metrics.TxRejected(RejectionReason(err))
		return mempool.Entry{}, err
	}

	metrics.TxAdmitted()
	metrics.Mempool(s.mempool.Count(), s.mempool.Size())

	s.evHandler(`viewer: tx: {"id":%q,"fee":%d,"size":%d}`, e.ID, e.Fee, e.Size)

	if s.Worker != nil {
		s.Worker.SignalStartMining()
	}

	return e, nil
}

// ExpireMempool drops pooled transactions older than maxAge.
func (s *State) ExpireMempool(maxAge time.Duration) int {
	n := s.mempool.RemoveExpired(maxAge)
	metrics.Mempool(s.mempool.Count(), s.mempool.Size())
	return n
}

// =============================================================================

// RejectionReason returns the label used to count a failed admission.
func RejectionReason(err error) string {
	if rej, ok := validator.IsRejection(err); ok {
		return string(rej.Code)
	}

	for _, r := range admissionReasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}

	return "Unknown"
}
