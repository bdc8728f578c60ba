package dlq

import "errors"

var (
	ErrBrokerRequired   = errors.New("dlq admin requires a broker")
	ErrStreamRequired   = errors.New("dlq admin requires stream, retry and dead-letter names")
	ErrReplayInProgress = errors.New("another dead-letter replay is in progress")
)
