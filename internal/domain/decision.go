package domain

import (
	"fmt"
	"math"
	"time"
)

// ActionKind enumerates what the decision engine can ask for.
type ActionKind string

const (
	ActionNone  ActionKind = "none"
	ActionBuy   ActionKind = "buy"
	ActionClose ActionKind = "close"
)

// Action is the single intent produced for a bar.
type Action struct {
	Kind       ActionKind
	Units      float64 // Only set for ActionBuy
	LimitPrice float64 // Zero for ActionNone
}

// NoAction is the "do nothing this bar" outcome.
func NoAction() Action { return Action{Kind: ActionNone} }

// BuyAction asks for units at a limit price.
func BuyAction(units, limitPrice float64) Action {
	return Action{Kind: ActionBuy, Units: units, LimitPrice: limitPrice}
}

// CloseAction asks for the whole position to be sold at a limit price.
func CloseAction(limitPrice float64) Action {
	return Action{Kind: ActionClose, LimitPrice: limitPrice}
}

func (a Action) String() string {
	switch a.Kind {
	case ActionBuy:
		return fmt.Sprintf("buy %g @ %g", a.Units, a.LimitPrice)
	case ActionClose:
		return fmt.Sprintf("close @ %g", a.LimitPrice)
	default:
		return "none"
	}
}

// Reading is an indicator outcome. Defined is false when there was not enough
// data to compute a value.
type Reading struct {
	Value   float64
	Defined bool
}

// Undefined is the insufficient-data reading.
func Undefined() Reading { return Reading{Value: math.NaN()} }

// Defined wraps a computed value.
func Defined(v float64) Reading { return Reading{Value: v, Defined: true} }

// DecisionReason is a stable label explaining a Decision; used in logs and metrics.
type DecisionReason string

const (
	ReasonOpenOrders        DecisionReason = "open_orders"
	ReasonPositionCap       DecisionReason = "position_cap"
	ReasonTakeProfit        DecisionReason = "take_profit"
	ReasonEntry             DecisionReason = "entry"
	ReasonAveragingDown     DecisionReason = "averaging_down"
	ReasonRSITooHigh        DecisionReason = "rsi_too_high"
	ReasonInsufficientData  DecisionReason = "insufficient_data"
	ReasonInsufficientFunds DecisionReason = "insufficient_funds"
	ReasonNoOpportunity     DecisionReason = "no_opportunity"
)

// BarInput is the snapshot the host hands to the engine for one bar.
type BarInput struct {
	History       []*Kline  // Oldest first
	CurrentPrice  float64   // Latest traded price
	Cash          float64   // Quote currency available
	Position      *Position // nil when nothing is held
	HasOpenOrders bool      // Unfilled orders exist for the symbol
}

// Decision is what the engine returns for a bar.
type Decision struct {
	Action    Action
	Indicator Reading
	Reason    DecisionReason
}

// BarTelemetry is the advisory per-bar record handed to recorders.
type BarTelemetry struct {
	Symbol    string
	BarTime   time.Time
	Price     float64
	Indicator Reading
	Action    ActionKind
	Reason    DecisionReason
}
