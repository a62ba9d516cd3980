package errs

import (
	"errors"
	"net/http"

	"github.com/btpc/consensus/foundation/blockchain/ledger"
	"github.com/btpc/consensus/foundation/blockchain/mempool"
	"github.com/btpc/consensus/foundation/blockchain/state"
	"github.com/btpc/consensus/foundation/blockchain/validator"
)

// FromEngine maps an error returned by the blockchain engine to a trusted
// error. Rejections become 400, storage faults and a full pool become 503.
// Any other error is returned untouched and ends as a 500.
func FromEngine(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, validator.ErrStorageUnavailable), errors.Is(err, ledger.ErrStorage):
		return NewRejection(errors.New("storage unavailable"), http.StatusServiceUnavailable, "StorageUnavailable", "")

	case errors.Is(err, mempool.ErrPoolFull):
		return NewRejection(err, http.StatusServiceUnavailable, "PoolFull", "")
	}

	if rej, ok := validator.IsRejection(err); ok {
		return NewRejection(err, http.StatusBadRequest, string(rej.Code), rej.Kind.String())
	}

	if reason := state.RejectionReason(err); reason != "Unknown" {
		return NewRejection(err, http.StatusBadRequest, reason, "mempool")
	}

	return err
}
