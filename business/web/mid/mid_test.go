package mid_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/btpc/consensus/business/web/errs"
	"github.com/btpc/consensus/business/web/mid"
	"github.com/btpc/consensus/foundation/validate"
	"github.com/btpc/consensus/foundation/web"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func serve(t *testing.T, handler web.Handler) (int, errs.Response) {
	log := zap.NewNop().Sugar()

	app := web.NewApp(make(chan os.Signal, 1), mid.Logger(log), mid.Errors(log), mid.Metrics(), mid.Panics())
	app.Handle(http.MethodGet, "v1", "/test", handler)

	w := httptest.NewRecorder()
	app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/test", nil))

	var resp errs.Response
	if w.Body.Len() > 0 {
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	}

	return w.Code, resp
}

func TestErrors(t *testing.T) {
	t.Run("rejection", func(t *testing.T) {
		status, resp := serve(t, func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			return errs.NewRejection(errors.New("utxo not found"), http.StatusBadRequest, "UTXONotFound", "ledger")
		})

		require.Equal(t, http.StatusBadRequest, status)
		require.Equal(t, "utxo not found", resp.Error)
		require.Equal(t, "UTXONotFound", resp.Code)
		require.Equal(t, "ledger", resp.Kind)
	})

	t.Run("trusted", func(t *testing.T) {
		status, resp := serve(t, func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			return errs.NewTrusted(errors.New("storage unavailable"), http.StatusServiceUnavailable)
		})

		require.Equal(t, http.StatusServiceUnavailable, status)
		require.Equal(t, "storage unavailable", resp.Error)
		require.Empty(t, resp.Code)
	})

	t.Run("fields", func(t *testing.T) {
		status, resp := serve(t, func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			return validate.FieldErrors{{Field: "txid", Err: "txid is required"}}
		})

		require.Equal(t, http.StatusBadRequest, status)
		require.Equal(t, "txid is required", resp.Fields["txid"])
	})

	t.Run("untrusted", func(t *testing.T) {
		status, resp := serve(t, func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			return errors.New("internal detail")
		})

		require.Equal(t, http.StatusInternalServerError, status)
		require.Equal(t, http.StatusText(http.StatusInternalServerError), resp.Error)
	})

	t.Run("panic", func(t *testing.T) {
		status, _ := serve(t, func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			panic("boom")
		})

		require.Equal(t, http.StatusInternalServerError, status)
	})
}
