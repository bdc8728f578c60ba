// Package protocol implements the contract negotiation and transfer process
// state machines.
//
// Each protocol is a fixed adjacency table (Machine). Services resolve
// action verbs through an ActionRegistry and apply transitions inside one
// database transaction: the row is locked, the transition and usage policy
// are checked, the row is saved and the resulting events are enqueued in the
// outbox before commit. Business rejections are returned as Result values,
// never as errors.
package protocol
