// Package httpclient builds and sends the HTTP requests crankmeter measures.
//
// # Request Building
//
// Use [NewRequestBuilder] to create a request builder from configuration.
// Every call to Build returns a fresh request with its own body reader:
//
//	builder, err := httpclient.NewRequestBuilder(cfg)
//	if err != nil {
//		return err
//	}
//	req, err := builder.Build(ctx)
//
// # Measured Operations
//
// [Operation] turns a client and builder into an instrument.Operation. The
// response body is read to the end so byte counts cover the full payload:
//
//	client := httpclient.NewClient(30 * time.Second)
//	op := httpclient.Operation(client, builder, propagate)
//	res, err := wrapper.Do(ctx, op)
package httpclient
