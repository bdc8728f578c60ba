// Package bootstrap loads the environment configuration and wires the
// pipeline: Postgres, Redis Streams, the outbox publisher, the gamification
// consumer with its retry relay and trimmer, the protocol services, the step
// executor and the admin HTTP API.
package bootstrap
