// Package http exposes the pipeline over Fiber: stream and dead-letter
// administration, the negotiation and transfer protocols, step execution
// and a health probe.
//
// Handlers depend on small interfaces so each surface can be mounted on
// its own. Errors go through RenderError, which maps domain errors and
// protocol rejections to stable status codes and keeps internal detail out
// of 5xx bodies.
package http
