package ingest

import "errors"

var (
	// ErrQueueFull is returned by Enqueue when the bounded queue is at
	// capacity. Callers should surface this as backpressure rather
	// than retry in a tight loop.
	ErrQueueFull = errors.New("ingest: queue full")

	// ErrPipelineStopped is returned when work is submitted after Stop.
	ErrPipelineStopped = errors.New("ingest: pipeline stopped")
)
