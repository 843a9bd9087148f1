package receiver

import "errors"

var (
	ErrNilConsumer = errors.New("a consumer is required")
	ErrNotIdle     = errors.New("receiver has already been started or stopped")
)
