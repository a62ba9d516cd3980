package mid

import (
	"context"
	"expvar"
	"net/http"
	"runtime"

	"github.com/btpc/consensus/foundation/web"
)

// counters contains the global program counters for the application.
var counters = struct {
	gr  *expvar.Int
	req *expvar.Int
	err *expvar.Int
}{
	gr:  expvar.NewInt("goroutines"),
	req: expvar.NewInt("requests"),
	err: expvar.NewInt("errors"),
}

// Metrics updates program counters.
func Metrics() web.Middleware {

	// This is the actual middleware function to be executed.
	m := func(handler web.Handler) web.Handler {

		// Create the handler that will be attached in the middleware chain.
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			// Call the next handler.
			err := handler(ctx, w, r)

			// Increment the request and goroutines counter.
			counters.req.Add(1)
			if counters.req.Value()%100 == 0 {
				counters.gr.Set(int64(runtime.NumGoroutine()))
			}

			// Increment if there is an error flowing through the request.
			if err != nil {
				counters.err.Add(1)
			}

			// Return the error so it can be handled further up the chain.
			return err
		}

		return h
	}

	return m
}
