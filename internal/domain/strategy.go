package domain

import "time"

// StrategyParams is the tunable parameter bundle carried by a version.
type StrategyParams struct {
	ConfidenceThreshold int     // minimum confidence for execution, 0-100
	RiskPerTrade        float64 // fraction of equity risked per trade, e.g. 0.02
	PromptTemplate      string  // prompt template id, e.g. "aggressive_day_trader"
	DefaultStopPct      float64 // stop distance as a fraction of price when the AI gave none
}

// StrategyVersion is an immutable, versioned bundle of tunable trading
// parameters. A new version supersedes but never mutates a prior one; the
// orchestrator holds exactly one active version at a time and swaps only at a
// pass boundary.
type StrategyVersion struct {
	ID           string
	ParentID     string // empty for the seed version
	Params       StrategyParams
	ChangeReason string
	CreatedAt    time.Time
}

// VersionPerformance is the aggregate the evolution engine reads for one
// version over a trailing window. It is rebuilt from event log rows only,
// never from live state.
type VersionPerformance struct {
	VersionID         string
	TradesExecuted    int
	Wins              int
	RealizedPnL       float64
	TotalLoss         float64 // sum of losing trade magnitudes
	AvgConfExecuted   float64
	AvgConfRejected   float64
	WindowStart       time.Time
	WindowEnd         time.Time
}

// WinRate returns wins over executed trades, zero when no trades.
func (p VersionPerformance) WinRate() float64 {
	if p.TradesExecuted == 0 {
		return 0
	}
	return float64(p.Wins) / float64(p.TradesExecuted)
}

// AvgLoss returns the average losing-trade magnitude, zero when none.
func (p VersionPerformance) AvgLoss() float64 {
	losses := p.TradesExecuted - p.Wins
	if losses <= 0 {
		return 0
	}
	return p.TotalLoss / float64(losses)
}
