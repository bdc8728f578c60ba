// Package postgres persists negotiations and transfers in PostgreSQL.
//
// Writes join the caller's transaction so the protocol services can lock,
// save and enqueue outbox events atomically. Plain reads go through the
// replica side of the resolver.
package postgres
