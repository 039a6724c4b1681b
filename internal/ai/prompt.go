package ai

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

// Template ids selectable via strategy parameters.
const (
	TemplateAggressiveDayTrader = "aggressive_day_trader"
	TemplateConservativeSwing   = "conservative_swing"
	TemplateMomentumScalper     = "momentum_scalper"
)

var personas = map[string]string{
	TemplateAggressiveDayTrader: "You are an aggressive intraday equities trader. You hunt short-term momentum and are willing to take frequent positions when the tape supports it.",
	TemplateConservativeSwing:   "You are a conservative swing trader. You only recommend positions with a clear multi-session setup and prefer HOLD when the picture is mixed.",
	TemplateMomentumScalper:     "You are a momentum scalper. You trade fast continuation moves, keep stops tight, and drop conviction quickly when momentum stalls.",
}

// responseGrammar pins the exact line format downstream parsing accepts. Kept
// verbatim across personas so a template swap never breaks parsing.
const responseGrammar = `Respond with one line per symbol, and nothing else. Each line must match exactly one of these formats:

SYMBOL: [BUY] at $PRICE - Confidence: N% - Reason: short explanation
SYMBOL: [BUY] at $PRICE - Confidence: N% - Reason: short explanation - Stop Loss: $PRICE
SYMBOL: [SELL] at $PRICE - Confidence: N% - Reason: short explanation
SYMBOL: [SELL] at $PRICE - Confidence: N% - Reason: short explanation - Stop Loss: $PRICE
SYMBOL: [HOLD] - Confidence: N% - Reason: short explanation

PRICE is a plain decimal number. N is an integer from 0 to 100. Do not add markdown, headers, or commentary. Emit at most one line per symbol.`

// PromptBuilder renders the system and user prompts for one analysis pass.
type PromptBuilder struct{}

// NewPromptBuilder creates a PromptBuilder.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// System renders the system prompt for the given strategy parameters. Unknown
// template ids fall back to the aggressive day trader persona.
func (b *PromptBuilder) System(params domain.StrategyParams) string {
	persona, ok := personas[params.PromptTemplate]
	if !ok {
		persona = personas[TemplateAggressiveDayTrader]
	}

	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb,
		"Only express conviction you actually have: recommendations below %d%% confidence will not be executed. ",
		params.ConfidenceThreshold)
	sb.WriteString("Include a Stop Loss whenever you recommend BUY or SELL and a sensible protective level exists.\n\n")
	sb.WriteString(responseGrammar)
	return sb.String()
}

// User renders the user prompt from the fetched bars, one section per symbol
// in the given order. Symbols with no bars are listed as missing data so the
// model does not invent prices for them.
func (b *PromptBuilder) User(symbols []string, bars map[string][]domain.Bar) string {
	var sb strings.Builder
	sb.WriteString("Analyze the following symbols and recommend an action for each.\n")

	for _, sym := range symbols {
		symBars := bars[sym]
		if len(symBars) == 0 {
			fmt.Fprintf(&sb, "\n%s: no recent data available.\n", sym)
			continue
		}

		last := symBars[len(symBars)-1]
		fmt.Fprintf(&sb, "\n%s (latest close %.2f):\n", sym, last.Close)
		for _, bar := range tail(symBars, 12) {
			fmt.Fprintf(&sb, "  %s O=%.2f H=%.2f L=%.2f C=%.2f V=%d\n",
				bar.Start.UTC().Format("15:04"),
				bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
		}
	}

	return sb.String()
}

func tail(bars []domain.Bar, n int) []domain.Bar {
	if len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}
