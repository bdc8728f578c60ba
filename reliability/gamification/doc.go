// Package gamification awards points and achievements for pipeline events.
//
// PointsHandler is a consumer.Handler. Its writes are idempotent: one
// ledger row per event_id and one grant per (user, achievement), so
// redelivered events leave a single durable side effect.
package gamification
