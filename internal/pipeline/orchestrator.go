// Package pipeline drives the trading cycle: fetch data, ask the model,
// parse, filter, execute, and account for every outcome in the event log. One
// pass runs at a time; the market calendar gates when passes happen at all.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/aitrader/internal/ai"
	"github.com/alanyoungcy/aitrader/internal/domain"
	"github.com/alanyoungcy/aitrader/internal/parser"
)

// Config holds the orchestrator's cadence and data parameters.
type Config struct {
	CycleInterval time.Duration
	BatchSize     int           // symbols per AI prompt
	CallTimeout   time.Duration // per external call
	Symbols       []string
	BarInterval   string // e.g. "5m"
	BarSpan       string // e.g. "1d"
}

// OrderExecutor is the execution engine surface the orchestrator needs.
type OrderExecutor interface {
	Execute(ctx context.Context, d domain.RiskDecision, versionID string, entryPrice float64) (domain.Order, error)
}

// RiskEvaluator produces one decision per signal.
type RiskEvaluator interface {
	Evaluate(ctx context.Context, signals []domain.Signal, acct domain.Account, version domain.StrategyVersion) []domain.RiskDecision
}

// HealthGate guards external calls and tracks per-service availability.
type HealthGate interface {
	Check(ctx context.Context, svc domain.Service) bool
	Record(svc domain.Service, callErr error)
	MarkDegraded(svc domain.Service, reason string)
}

// Evolver proposes a successor strategy version when performance warrants.
type Evolver interface {
	Evaluate(ctx context.Context, current domain.StrategyVersion) (domain.StrategyVersion, bool, error)
}

// Notifier forwards events to operator channels.
type Notifier interface {
	Notify(ctx context.Context, ev domain.Event)
}

// Orchestrator owns the day state machine and the per-interval trading pass.
// The active strategy version only changes at a pass boundary, so every
// decision inside one pass is attributed to a single version.
type Orchestrator struct {
	cfg       Config
	market    domain.MarketData
	completer domain.AICompleter
	broker    domain.Broker
	prompts   *ai.PromptBuilder
	parser    *parser.Parser
	risk      RiskEvaluator
	exec      OrderExecutor
	gate      HealthGate
	events    domain.EventStore
	evolver   Evolver
	notifier  Notifier
	archiver  domain.Archiver // nil disables cold storage
	hours     *MarketHours
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.Mutex
	passRunning bool
	wasOpen     bool
	active      domain.StrategyVersion
	pending     *domain.StrategyVersion
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Market    domain.MarketData
	Completer domain.AICompleter
	Broker    domain.Broker
	Prompts   *ai.PromptBuilder
	Parser    *parser.Parser
	Risk      RiskEvaluator
	Executor  OrderExecutor
	Gate      HealthGate
	Events    domain.EventStore
	Evolver   Evolver
	Notifier  Notifier
	Archiver  domain.Archiver
	Hours     *MarketHours
	Logger    *slog.Logger
}

// New creates an Orchestrator starting from the given active version.
func New(cfg Config, deps Deps, active domain.StrategyVersion) *Orchestrator {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Orchestrator{
		cfg:       cfg,
		market:    deps.Market,
		completer: deps.Completer,
		broker:    deps.Broker,
		prompts:   deps.Prompts,
		parser:    deps.Parser,
		risk:      deps.Risk,
		exec:      deps.Executor,
		gate:      deps.Gate,
		events:    deps.Events,
		evolver:   deps.Evolver,
		notifier:  notifier,
		archiver:  deps.Archiver,
		hours:     deps.Hours,
		logger:    deps.Logger.With(slog.String("component", "pipeline")),
		now:       time.Now,
		active:    active,
	}
}

// SetClock overrides the time source. Test hook.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// ActiveVersion returns the version the next pass will run with.
func (o *Orchestrator) ActiveVersion() domain.StrategyVersion {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending != nil {
		return *o.pending
	}
	return o.active
}

// Run ticks the cycle until ctx is cancelled. The in-flight pass finishes its
// submissions before Run returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator started",
		slog.Duration("cycle_interval", o.cfg.CycleInterval),
		slog.Int("symbols", len(o.cfg.Symbols)),
	)
	defer o.logger.Info("orchestrator stopped")

	ticker := time.NewTicker(o.cfg.CycleInterval)
	defer ticker.Stop()

	o.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick advances the day state machine and runs one pass when the market is
// open. A tick that lands while the previous pass is still in flight is
// suppressed, never queued.
func (o *Orchestrator) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	open := o.hours.IsOpen(o.now())

	o.mu.Lock()
	wasOpen := o.wasOpen
	o.wasOpen = open
	o.mu.Unlock()

	if !open {
		if wasOpen {
			o.closeDay(ctx)
		}
		return
	}

	o.mu.Lock()
	if o.passRunning {
		o.mu.Unlock()
		o.logger.Warn("previous pass still running, tick suppressed")
		return
	}
	o.passRunning = true
	// Version swaps happen here and only here.
	if o.pending != nil {
		o.logger.Info("installing strategy version",
			slog.String("version_id", o.pending.ID),
			slog.String("reason", o.pending.ChangeReason),
		)
		o.active = *o.pending
		o.pending = nil
	}
	active := o.active
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.passRunning = false
		o.mu.Unlock()
	}()

	o.runPass(ctx, active)
}

// runPass executes one full trading pass under the given version.
func (o *Orchestrator) runPass(ctx context.Context, active domain.StrategyVersion) {
	start := o.now()
	log := o.logger.With(slog.String("version_id", active.ID))
	log.Info("pass started")

	if !o.gate.Check(ctx, domain.ServiceBroker) {
		o.degraded(ctx, active.ID, domain.ServiceBroker, "health gate closed")
		return
	}
	acctCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	acct, err := o.broker.GetAccount(acctCtx)
	cancel()
	o.gate.Record(domain.ServiceBroker, err)
	if err != nil {
		// No account snapshot means no safe sizing; the pass cannot proceed.
		o.degraded(ctx, active.ID, domain.ServiceBroker, err.Error())
		return
	}

	bars := o.fetchBars(ctx, active.ID)
	signals := o.generateSignals(ctx, active, bars)
	decisions := o.risk.Evaluate(ctx, signals, acct, active)

	var approved int
	for i := range decisions {
		d := decisions[i]
		if !d.Approved {
			continue
		}
		if ctx.Err() != nil {
			log.Warn("shutdown during execution, remaining decisions dropped")
			break
		}

		entryPrice := 0.0
		if pos, ok := acct.PositionIn(d.Signal.Symbol); ok && closesPosition(pos, d.Signal.Action) {
			entryPrice = pos.AvgEntry
		}
		if _, err := o.exec.Execute(ctx, d, active.ID, entryPrice); err != nil {
			log.Error("execution failed",
				slog.String("symbol", d.Signal.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		approved++
	}

	log.Info("pass complete",
		slog.Duration("took", o.now().Sub(start)),
		slog.Int("signals", len(signals)),
		slog.Int("approved", approved),
	)
}

// fetchBars pulls OHLCV history for every configured symbol. A symbol whose
// fetch fails is simply absent from the result; the prompt marks it as
// missing data instead of inventing prices.
func (o *Orchestrator) fetchBars(ctx context.Context, versionID string) map[string][]domain.Bar {
	bars := make(map[string][]domain.Bar, len(o.cfg.Symbols))
	for _, sym := range o.cfg.Symbols {
		if !o.gate.Check(ctx, domain.ServiceData) {
			o.degraded(ctx, versionID, domain.ServiceData, "health gate closed")
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		fetched, err := o.market.FetchBars(callCtx, sym, o.cfg.BarInterval, o.cfg.BarSpan)
		cancel()
		o.gate.Record(domain.ServiceData, err)
		if err != nil {
			if errors.Is(err, domain.ErrQuotaExceeded) {
				o.gate.MarkDegraded(domain.ServiceData, err.Error())
			}
			o.logger.Warn("bar fetch failed",
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
			continue
		}
		bars[sym] = fetched
	}
	return bars
}

// generateSignals prompts the model in batches and parses the responses.
// The first signal per symbol wins across batches, matching the in-batch
// dedup rule.
func (o *Orchestrator) generateSignals(ctx context.Context, active domain.StrategyVersion, bars map[string][]domain.Bar) []domain.Signal {
	var withData []string
	for _, sym := range o.cfg.Symbols {
		if len(bars[sym]) > 0 {
			withData = append(withData, sym)
		}
	}
	if len(withData) == 0 {
		return nil
	}

	batchSize := o.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(withData)
	}

	system := o.prompts.System(active.Params)
	seen := make(map[string]bool)
	var all []domain.Signal

	for from := 0; from < len(withData); from += batchSize {
		to := min(from+batchSize, len(withData))
		batch := withData[from:to]

		if !o.gate.Check(ctx, domain.ServiceAI) {
			o.degraded(ctx, active.ID, domain.ServiceAI, "health gate closed")
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		completion, err := o.completer.Complete(callCtx, system, o.prompts.User(batch, bars))
		cancel()
		o.gate.Record(domain.ServiceAI, err)
		if err != nil {
			if errors.Is(err, domain.ErrQuotaExceeded) {
				o.gate.MarkDegraded(domain.ServiceAI, err.Error())
				o.degraded(ctx, active.ID, domain.ServiceAI, err.Error())
				break
			}
			o.logger.Warn("completion failed", slog.String("error", err.Error()))
			continue
		}

		signals, skips := o.parser.Parse(completion, batch)
		for _, sk := range skips {
			o.recordSkip(ctx, active.ID, sk)
		}
		for i := range signals {
			if seen[signals[i].Symbol] {
				o.recordSkip(ctx, active.ID, parser.Skip{
					Line:   signals[i].Symbol,
					Reason: parser.SkipDuplicate,
				})
				continue
			}
			seen[signals[i].Symbol] = true
			all = append(all, signals[i])
		}
	}
	return all
}

// closeDay runs once per market day after the close: daily summary, strategy
// evolution, and cold-storage archival.
func (o *Orchestrator) closeDay(ctx context.Context) {
	day := domain.EventDay(o.now())
	o.logger.Info("market closed, running day close", slog.String("day", day))

	o.mu.Lock()
	active := o.active
	o.mu.Unlock()

	summary := o.dailySummary(ctx, active.ID, day)
	o.notifier.Notify(ctx, summary)

	next, changed, err := o.evolver.Evaluate(ctx, active)
	if err != nil {
		o.logger.Error("evolution failed", slog.String("error", err.Error()))
	} else if changed {
		o.mu.Lock()
		o.pending = &next
		o.mu.Unlock()
		o.notifier.Notify(ctx, domain.Event{
			Type:      domain.EventVersionChange,
			VersionID: next.ID,
			Detail:    map[string]any{"change_reason": next.ChangeReason},
			Day:       day,
		})
	}

	if o.archiver != nil {
		if err := o.archiver.ArchiveDay(ctx, day); err != nil {
			o.logger.Error("archive failed",
				slog.String("day", day),
				slog.String("error", err.Error()),
			)
		}
	}
}

// dailySummary folds the day partition into one summary event and appends it.
func (o *Orchestrator) dailySummary(ctx context.Context, versionID, day string) domain.Event {
	var (
		executed, rejected, skipped, degraded int
		realized                              float64
	)

	events, err := o.events.ListByDay(ctx, day)
	if err != nil {
		o.logger.Error("daily summary query failed", slog.String("error", err.Error()))
	}
	for _, ev := range events {
		switch ev.Type {
		case domain.EventSignalExecuted:
			executed++
			if pnl, ok := ev.Detail["realized_pnl"].(float64); ok {
				realized += pnl
			}
		case domain.EventSignalRejected:
			rejected++
		case domain.EventParseSkip:
			skipped++
		case domain.EventCycleDegraded:
			degraded++
		}
	}

	summary := domain.Event{
		Type:      domain.EventDailySummary,
		VersionID: versionID,
		Day:       day,
		CreatedAt: o.now().UTC(),
		Detail: map[string]any{
			"trades_executed":  executed,
			"realized_pnl":     realized,
			"signals_rejected": rejected,
			"parse_skips":      skipped,
			"degraded_stages":  degraded,
		},
	}
	if err := o.events.Append(ctx, summary); err != nil {
		o.logger.Error("failed to record daily summary", slog.String("error", err.Error()))
	}
	return summary
}

// degraded records a skipped stage and notifies the operator.
func (o *Orchestrator) degraded(ctx context.Context, versionID string, svc domain.Service, reason string) {
	o.logger.Warn("stage degraded",
		slog.String("service", string(svc)),
		slog.String("reason", reason),
	)

	ev := domain.Event{
		Type:      domain.EventCycleDegraded,
		VersionID: versionID,
		Day:       domain.EventDay(o.now()),
		CreatedAt: o.now().UTC(),
		Detail: map[string]any{
			"service": string(svc),
			"reason":  reason,
		},
	}
	if err := o.events.Append(ctx, ev); err != nil {
		o.logger.Error("failed to record degraded stage", slog.String("error", err.Error()))
	}
	o.notifier.Notify(ctx, ev)
}

// recordSkip appends a parse_skip event.
func (o *Orchestrator) recordSkip(ctx context.Context, versionID string, sk parser.Skip) {
	ev := domain.Event{
		Type:      domain.EventParseSkip,
		VersionID: versionID,
		Day:       domain.EventDay(o.now()),
		CreatedAt: o.now().UTC(),
		Detail: map[string]any{
			"line":   sk.Line,
			"reason": string(sk.Reason),
		},
	}
	if err := o.events.Append(ctx, ev); err != nil {
		o.logger.Error("failed to record parse skip", slog.String("error", err.Error()))
	}
}

// closesPosition reports whether an action reduces the given open position.
func closesPosition(pos domain.Position, action domain.SignalAction) bool {
	switch action {
	case domain.ActionBuy:
		return pos.Qty < 0
	case domain.ActionSell:
		return pos.Qty > 0
	}
	return false
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, domain.Event) {}
