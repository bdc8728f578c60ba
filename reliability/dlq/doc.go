// Package dlq is the dead-letter administration surface: stream status,
// pending inspection, dead-letter listing, deduplicated replay onto the
// primary stream, and manual trimming.
package dlq
