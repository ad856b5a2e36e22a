package domain

import "time"

// BarError is one fault captured while handling a bar.
type BarError struct {
	ID      int64 // Row id when persisted
	RunID   string
	Symbol  string
	BarTime time.Time
	Message string
	Err     error // Nil when loaded back from storage
}

func (e BarError) Error() string {
	return e.Message
}

// Unwrap exposes the captured error to errors.Is / errors.As.
func (e BarError) Unwrap() error {
	return e.Err
}
