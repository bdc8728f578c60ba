// Package redis provides the go-redis client behind the stream broker and
// the redsync lock manager used by the trimmer and DLQ replay.
//
// One address selects standalone mode, several select cluster mode, and a
// master name selects sentinel.
package redis
