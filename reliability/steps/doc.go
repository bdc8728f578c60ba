// Package steps executes story step actions at most once per idempotency
// key.
//
// The Executor takes a transaction-scoped lock on the receipt key, returns a
// stored receipt unchanged when one exists, and otherwise runs the action,
// stores the receipt and enqueues the story_step_completed event in the same
// transaction.
package steps
