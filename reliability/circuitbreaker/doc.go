// Package circuitbreaker keeps one sony/gobreaker breaker per downstream
// dependency. The stream broker runs every XADD through the "redis-streams"
// breaker and the health endpoint reports its state.
package circuitbreaker
