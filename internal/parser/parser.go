// Package parser converts free-form AI response text into typed trade
// signals. AI output is inherently unreliable, so parsing is tolerant: a line
// that fails the grammar degrades to a skip record, never an error.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

// SkipReason classifies why a response line produced no signal.
type SkipReason string

const (
	SkipMalformed  SkipReason = "malformed"
	SkipOutOfScope SkipReason = "symbol out of scope"
	SkipDuplicate  SkipReason = "duplicate symbol"
)

// Skip records one response line that was dropped during parsing.
type Skip struct {
	Line   string
	Reason SkipReason
}

// signalLine matches the response grammar pinned by the prompt templates:
//
//	SYMBOL: [ACTION] at $PRICE - Confidence: N% - Reason: text
//
// The price clause is optional so HOLD lines parse; a BUY/SELL without a
// price still parses and is rejected downstream by the risk filter. An
// optional trailing "- Stop Loss: $PRICE" clause is recognized.
var signalLine = regexp.MustCompile(
	`^([A-Z][A-Z0-9.\-]{0,9}):\s*\[(BUY|SELL|HOLD)\]` +
		`(?:\s+at\s+\$(\d+(?:\.\d+)?))?` +
		`(?:\s*-\s*Confidence:\s*(-?\d+)%)?` +
		`(?:\s*-\s*Reason:\s*(.*?))?` +
		`(?:\s*-\s*Stop Loss:\s*\$(\d+(?:\.\d+)?))?\s*$`,
)

// Parser turns one AI response body into signals, guarding against symbols
// the AI invented and contradictory repeated lines.
type Parser struct {
	now func() time.Time
}

// New creates a Parser.
func New() *Parser {
	return &Parser{now: time.Now}
}

// Parse scans body line by line and returns the signals in input order plus a
// skip record for every dropped line. Only symbols present in scope are
// accepted; a symbol repeated within one response keeps its first occurrence.
func (p *Parser) Parse(body string, scope []string) ([]domain.Signal, []Skip) {
	inScope := make(map[string]bool, len(scope))
	for _, s := range scope {
		inScope[strings.ToUpper(strings.TrimSpace(s))] = true
	}

	var (
		signals []domain.Signal
		skips   []Skip
		seen    = make(map[string]bool)
	)

	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		m := signalLine.FindStringSubmatch(line)
		if m == nil {
			skips = append(skips, Skip{Line: line, Reason: SkipMalformed})
			continue
		}

		symbol := m[1]
		if !inScope[symbol] {
			skips = append(skips, Skip{Line: line, Reason: SkipOutOfScope})
			continue
		}
		if seen[symbol] {
			// First occurrence wins; a later contradictory line is never
			// acted on without explicit reconciliation.
			skips = append(skips, Skip{Line: line, Reason: SkipDuplicate})
			continue
		}
		seen[symbol] = true

		sig := domain.Signal{
			ID:        uuid.New().String(),
			Symbol:    symbol,
			Action:    domain.SignalAction(m[2]),
			Reason:    strings.TrimSpace(m[5]),
			CreatedAt: p.now().UTC(),
		}

		if m[3] != "" {
			sig.Price, _ = strconv.ParseFloat(m[3], 64)
		}

		// Missing confidence defaults to 0, forcing downstream rejection
		// rather than silent approval.
		if m[4] != "" {
			conf, _ := strconv.Atoi(m[4])
			switch {
			case conf < 0:
				sig.Confidence, sig.Clamped = 0, true
			case conf > 100:
				sig.Confidence, sig.Clamped = 100, true
			default:
				sig.Confidence = conf
			}
		}

		if m[6] != "" {
			stop, _ := strconv.ParseFloat(m[6], 64)
			if validStop(sig.Action, sig.Price, stop) {
				sig.StopLoss = stop
			}
		}

		signals = append(signals, sig)
	}

	return signals, skips
}

// validStop checks the stop sits on the protective side of the entry price.
// An inverted stop is discarded rather than trusted.
func validStop(action domain.SignalAction, price, stop float64) bool {
	if stop <= 0 || price <= 0 {
		return false
	}
	switch action {
	case domain.ActionBuy:
		return stop < price
	case domain.ActionSell:
		return stop > price
	}
	return false
}
