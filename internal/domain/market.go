package domain

import "time"

// Bar is one OHLCV candle from the market data source.
type Bar struct {
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
	Start  time.Time
}

// Position is one open brokerage position.
type Position struct {
	Symbol   string
	Qty      int64 // negative for short
	AvgEntry float64
}

// Side returns the direction of the position.
func (p Position) Side() OrderSide {
	if p.Qty < 0 {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Account is a snapshot of the brokerage account used by the risk filter.
type Account struct {
	Equity      float64
	BuyingPower float64
	Positions   []Position
}

// PositionIn returns the open position for symbol, if any.
func (a Account) PositionIn(symbol string) (Position, bool) {
	for _, p := range a.Positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return Position{}, false
}
