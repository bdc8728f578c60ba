// Package server coordinates the admin HTTP server and the pipeline
// workers through one graceful shutdown sequence.
package server
