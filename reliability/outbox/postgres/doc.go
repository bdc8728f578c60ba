// Package postgres implements outbox.Repository on PostgreSQL.
//
// Enqueue runs inside the producer's transaction behind a savepoint, so an
// outbox failure never aborts the caller's business write. Claim takes rows
// with FOR UPDATE SKIP LOCKED, which lets several publishers share one table.
package postgres
