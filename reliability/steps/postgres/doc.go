// Package postgres stores step receipts in PostgreSQL.
//
// All operations run inside the executor's transaction. Lock takes a
// transaction-scoped advisory lock on the receipt key, so concurrent
// executions of the same key serialize even before a receipt row exists.
package postgres
