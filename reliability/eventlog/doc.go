// Package eventlog mirrors every stream publish attempt into a relational
// event_log table so sessions and runs can be audited without reading the
// stream.
package eventlog
