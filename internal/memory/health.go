package memory

import (
	"sync"
	"sync/atomic"
	"time"
)

// Health tracks error counters and access times for a store instance
// using atomics for lock-free hot-path updates. The zero value is ready
// to use.
type Health struct {
	errorCount atomic.Int64
	lastAccess atomic.Int64 // unix nanos

	mu        sync.Mutex
	lastError string
}

// Touch records an access at the current time.
func (h *Health) Touch() {
	h.lastAccess.Store(time.Now().UnixNano())
}

// RecordError increments the error counter and remembers the message.
func (h *Health) RecordError(err error) {
	if err == nil {
		return
	}
	h.errorCount.Add(1)
	h.mu.Lock()
	h.lastError = err.Error()
	h.mu.Unlock()
}

// ErrorCount returns the total number of recorded errors.
func (h *Health) ErrorCount() int64 {
	return h.errorCount.Load()
}

// LastError returns the most recent error message, or "".
func (h *Health) LastError() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastError
}

// LastAccessed returns the time of the last Touch, or the zero time.
func (h *Health) LastAccessed() time.Time {
	ns := h.lastAccess.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Snapshot fills the shared fields of a HealthStatus.
func (h *Health) Snapshot(kind Kind, ownerKey string) HealthStatus {
	return HealthStatus{
		Healthy:      true,
		Kind:         kind,
		OwnerKey:     ownerKey,
		ErrorCount:   h.ErrorCount(),
		LastError:    h.LastError(),
		LastAccessed: h.LastAccessed(),
	}
}
