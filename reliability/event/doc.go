// Package event defines the canonical event envelope, its validation rules
// and the flat field codec used on Redis Streams.
package event
