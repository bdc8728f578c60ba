// Package outbox implements the transactional outbox: rows enqueued inside
// the caller's database transaction, a publisher that drains them to the
// stream broker, and an emitter that degrades to direct publishing when the
// store is unavailable.
//
// Delivery is at-least-once. A row is published before it is marked, so a
// crash in between republishes it after the lock timeout expires.
package outbox
