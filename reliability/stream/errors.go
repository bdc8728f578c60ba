package stream

import "errors"

var (
	// ErrBrokerUnavailable is returned when a publish could not reach Redis.
	// The outbox publisher treats it as retryable.
	ErrBrokerUnavailable = errors.New("stream broker unavailable")
	// ErrNilBroker is returned when a method is called on a nil broker.
	ErrNilBroker = errors.New("stream broker is nil")
	// ErrClientRequired is returned when no Redis client provider is given.
	ErrClientRequired = errors.New("redis client provider is required")
	// ErrStreamRequired is returned for a blank stream name.
	ErrStreamRequired = errors.New("stream name is required")
	// ErrGroupRequired is returned for a blank consumer group name.
	ErrGroupRequired = errors.New("consumer group is required")
	// ErrConsumerRequired is returned for a blank consumer name.
	ErrConsumerRequired = errors.New("consumer name is required")
)
