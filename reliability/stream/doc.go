// Package stream is the Redis Streams broker: append-only streams with
// consumer groups, used for the primary event stream, the retry stream and
// the dead-letter stream.
//
// Publishes run behind a circuit breaker and are retried with jittered
// backoff. When the breaker is open, or every attempt fails, callers get
// ErrBrokerUnavailable.
package stream
