package app

import (
	"context"
	"sync"

	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/ports"
)

// ErrorLog is the append-only record of faults captured during one run.
// It is safe for concurrent use; readers get snapshots.
type ErrorLog struct {
	mu      sync.Mutex
	entries []domain.BarError
	sink    ports.BarErrorRepository // Optional persistent mirror
	logger  ports.Logger
}

// NewErrorLog creates an empty log. sink may be nil.
func NewErrorLog(sink ports.BarErrorRepository, logger ports.Logger) *ErrorLog {
	return &ErrorLog{sink: sink, logger: logger}
}

// Append records e and returns the new length. A failing sink is logged and
// does not affect the in-memory log.
func (l *ErrorLog) Append(ctx context.Context, e domain.BarError) int {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	n := len(l.entries)
	l.mu.Unlock()

	if l.sink != nil {
		if _, err := l.sink.CreateBarError(ctx, &e); err != nil && l.logger != nil {
			l.logger.Warn(ctx, "Failed to persist bar error", map[string]interface{}{
				"runID": e.RunID,
				"error": err.Error(),
			})
		}
	}
	return n
}

// Len returns the number of captured faults.
func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Snapshot returns a copy of the entries in append order.
func (l *ErrorLog) Snapshot() []domain.BarError {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.BarError, len(l.entries))
	copy(out, l.entries)
	return out
}
