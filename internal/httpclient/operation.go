package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/torosent/crankmeter/internal/instrument"
	"github.com/torosent/crankmeter/internal/tracing"
)

// Doer is the subset of *http.Client used to send requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Operation adapts one built request to an instrument.Operation. The response
// body is drained so Bytes reflects the full payload and the connection can
// be reused. BytesSent is the request's content length once it has been
// handed to the client. With propagate set, the trace context of ctx is injected into
// the outgoing headers.
func Operation(client Doer, builder *RequestBuilder, propagate bool) instrument.Operation {
	return func(ctx context.Context) (instrument.Result, error) {
		req, err := builder.Build(ctx)
		if err != nil {
			return instrument.Result{}, fmt.Errorf("build request: %w", err)
		}
		if propagate {
			tracing.InjectHTTPHeaders(ctx, req.Header)
		}

		var sent int64
		if req.ContentLength > 0 {
			sent = req.ContentLength
		}

		resp, err := client.Do(req)
		if err != nil {
			return instrument.Result{BytesSent: sent}, err
		}
		defer resp.Body.Close()

		n, err := io.Copy(io.Discard, resp.Body)
		res := instrument.Result{StatusCode: resp.StatusCode, Bytes: n, BytesSent: sent}
		if err != nil {
			return res, fmt.Errorf("read response body: %w", err)
		}
		return res, nil
	}
}
