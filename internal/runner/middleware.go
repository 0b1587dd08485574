package runner

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// WithLogging logs every failed request at debug level. Cancellation at the
// end of a run is not a failure and is not logged.
func WithLogging(req Requester, logger *zap.Logger) Requester {
	if logger == nil {
		return req
	}
	return RequesterFunc(func(ctx context.Context) error {
		err := req.Do(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Debug("request failed", zap.Error(err))
		}
		return err
	})
}
