// Package rules loads point rules and achievements for the gamification
// consumer and caches them behind an explicit read-through Cache.
//
// Admin mutations must call Cache.Invalidate; there is no other
// invalidation path.
package rules
