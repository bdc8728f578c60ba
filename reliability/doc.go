// Package reliability hosts the process-level plumbing shared by every
// pipeline binary: the app launcher and environment-driven configuration.
//
// The event pipeline itself lives in the subpackages: event, outbox, stream,
// consumer, dlq, protocol and steps.
package reliability
