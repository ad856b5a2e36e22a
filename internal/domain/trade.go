package domain

import "time"

// Trade is a realized sale against the held position.
type Trade struct {
	ID          int64       // Unique identifier for the trade (usually from DB)
	Symbol      string      // Trading symbol
	EntryPrice  float64     // Cost basis of the units sold
	ExitPrice   float64     // Price the units were sold at
	Quantity    float64     // Units sold
	PNL         float64     // (ExitPrice - EntryPrice) * Quantity, no fees
	EntryTime   time.Time   // When the holding was opened
	ExitTime    time.Time   // When the sale filled
	CloseReason CloseReason // Why the units were sold
}
