package validate_test

import (
	"testing"

	"github.com/btpc/consensus/foundation/validate"
	"github.com/stretchr/testify/require"
)

type request struct {
	TxID  string `json:"txid" validate:"required,hexadecimal,len=128"`
	Index uint32 `json:"index"`
	Fee   uint64 `json:"fee" validate:"gte=1"`
}

func TestCheck(t *testing.T) {
	ok := request{TxID: string(make128('a')), Fee: 1}
	require.NoError(t, validate.Check(ok))

	err := validate.Check(request{TxID: "zz"})
	require.Error(t, err)
	require.True(t, validate.IsFieldErrors(err))

	fields := validate.GetFieldErrors(err).Fields()
	require.Contains(t, fields, "txid")
	require.Contains(t, fields, "fee")
	require.NotContains(t, fields, "index")
}

func make128(c byte) []byte {
	b := make([]byte, 128)
	for i := range b {
		b[i] = c
	}
	return b
}
