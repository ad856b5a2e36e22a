package domain

import "time"

// OrderIntent says what an order is for.
type OrderIntent string

const (
	IntentBuy   OrderIntent = "buy"
	IntentClose OrderIntent = "close" // Sell everything held (target exposure zero)
)

// OrderRequest is what the bar routine hands to the execution host.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Intent        OrderIntent
	Quantity      float64 // Units; for IntentClose the amount held when the request was built
	LimitPrice    float64
	CreatedAt     time.Time
}

// Order is an order as known by the execution host.
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Intent        OrderIntent
	Quantity      float64
	ExecutedQty   float64
	LimitPrice    float64
	Status        OrderStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Fill is a single execution reported by the host.
type Fill struct {
	ID         int64       // Row id when persisted
	ExchangeID int64       // Exchange trade id, unique per symbol
	OrderID    string      // Exchange order id
	Symbol     string      // Trading symbol
	Side       OrderSide   // BUY or SELL
	Intent     OrderIntent // Inferred from the side for fills we did not originate
	Quantity   float64     // Units executed
	Price      float64     // Execution price
	Time       time.Time   // Execution time
}
