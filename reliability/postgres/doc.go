// Package postgres provides the PostgreSQL client shared by the outbox, event
// log, protocol, step receipt and gamification stores.
//
// Writes go to the primary through a dbresolver handle; list queries may be
// served by the replica. Schema migrations are embedded in the binary and
// applied explicitly through Migrator.
package postgres
