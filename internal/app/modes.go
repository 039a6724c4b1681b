package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/aitrader/internal/ai"
	"github.com/alanyoungcy/aitrader/internal/domain"
	"github.com/alanyoungcy/aitrader/internal/evolve"
	"github.com/alanyoungcy/aitrader/internal/executor"
	"github.com/alanyoungcy/aitrader/internal/health"
	"github.com/alanyoungcy/aitrader/internal/parser"
	"github.com/alanyoungcy/aitrader/internal/pipeline"
	"github.com/alanyoungcy/aitrader/internal/risk"
)

// TradeMode runs the full pipeline: live brokerage, order execution with the
// trade-updates stream, and strategy evolution.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)

	gate := a.buildGate(deps)
	engine := executor.NewEngine(deps.Broker, deps.Events, executor.Config{
		SubmitRetries: a.cfg.Pipeline.SubmitRetries,
		RetryBaseWait: a.cfg.Pipeline.RetryBaseWait.Duration,
		RetryMaxWait:  a.cfg.Pipeline.RetryMaxWait.Duration,
		PartialWatch:  a.cfg.Pipeline.PartialWatch.Duration,
		PollInterval:  a.cfg.Pipeline.FillPollInterval.Duration,
	}, a.logger)

	evolver := a.buildEvolver(deps)
	active, err := a.bootstrapVersion(ctx, deps, evolver)
	if err != nil {
		return err
	}

	orch, err := a.buildOrchestrator(deps, engine, gate, evolver, active)
	if err != nil {
		return err
	}

	// Stream fills feed the engine; the polling watcher below covers stream
	// outages through the same idempotent path.
	deps.Stream.OnTradeUpdate(func(fill domain.FillEvent, state domain.OrderState) {
		if fill.TotalQty > 0 {
			engine.ApplyFill(ctx, fill)
		}
		if state.Terminal() && state != domain.OrderFilled {
			engine.ApplyBrokerState(ctx, fill.BrokerID, state, "reported by broker stream")
		}
	})
	if err := deps.Stream.Connect(ctx); err != nil {
		a.logger.WarnContext(ctx, "trade stream unavailable, relying on polling",
			slog.String("error", err.Error()),
		)
	}

	g.Go(func() error { return engine.Watch(ctx) })
	g.Go(func() error { return orch.Run(ctx) })

	return g.Wait()
}

// MonitorMode runs the analysis pipeline against a paper account and logs the
// orders it would have placed. Nothing is ever submitted.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	gate := a.buildGate(deps)
	evolver := a.buildEvolver(deps)
	active, err := a.bootstrapVersion(ctx, deps, evolver)
	if err != nil {
		return err
	}

	broker := deps.Broker
	if broker == nil {
		broker = paperBroker{}
	}
	monitorDeps := *deps
	monitorDeps.Broker = broker

	orch, err := a.buildOrchestrator(&monitorDeps, &loggingExecutor{logger: a.logger}, gate, evolver, active)
	if err != nil {
		return err
	}
	return orch.Run(ctx)
}

// buildGate assembles the health gate from the configured per-service budgets.
func (a *App) buildGate(deps *Dependencies) *health.Gate {
	window := a.cfg.Pipeline.BudgetWindow.Duration
	return health.NewGate(deps.Limiter, health.Config{
		Budgets: map[domain.Service]health.Budget{
			domain.ServiceBroker:   {Limit: a.cfg.Pipeline.BrokerBudget, Window: window},
			domain.ServiceData:     {Limit: a.cfg.Pipeline.DataBudget, Window: window},
			domain.ServiceAI:       {Limit: a.cfg.Pipeline.AIBudget, Window: window},
			domain.ServiceNotifier: {Limit: a.cfg.Pipeline.NotifyBudget, Window: window},
		},
		FailureTrip: a.cfg.Pipeline.FailureTrip,
	}, a.logger)
}

func (a *App) buildEvolver(deps *Dependencies) *evolve.Engine {
	return evolve.New(deps.Events, deps.Versions, evolve.Rules{
		MinSampleTrades: a.cfg.Strategy.MinSampleTrades,
		WinRateFloor:    a.cfg.Strategy.WinRateFloor,
		AvgLossCap:      a.cfg.Strategy.AvgLossCap,
		ConfidenceStep:  a.cfg.Strategy.ConfidenceStep,
		RiskStep:        a.cfg.Strategy.RiskStep,
		MaxConfidence:   a.cfg.Strategy.MaxConfidence,
		MinRiskPerTrade: a.cfg.Strategy.MinRiskPerTrade,
		WindowDays:      a.cfg.Strategy.WindowDays,
	}, a.logger)
}

// bootstrapVersion resumes from the ledger's current version or seeds the
// initial one from configuration.
func (a *App) bootstrapVersion(ctx context.Context, deps *Dependencies, evolver *evolve.Engine) (domain.StrategyVersion, error) {
	current, err := deps.Versions.Current(ctx)
	if err == nil {
		a.logger.InfoContext(ctx, "resuming strategy version",
			slog.String("version_id", current.ID),
		)
		return current, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.StrategyVersion{}, fmt.Errorf("app: load current version: %w", err)
	}

	return evolver.Seed(ctx, domain.StrategyParams{
		ConfidenceThreshold: a.cfg.Strategy.ConfidenceThreshold,
		RiskPerTrade:        a.cfg.Strategy.RiskPerTrade,
		PromptTemplate:      a.cfg.Strategy.PromptTemplate,
		DefaultStopPct:      a.cfg.Strategy.DefaultStopPct,
	})
}

func (a *App) buildOrchestrator(deps *Dependencies, exec pipeline.OrderExecutor, gate *health.Gate, evolver *evolve.Engine, active domain.StrategyVersion) (*pipeline.Orchestrator, error) {
	hours, err := pipeline.NewMarketHours()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	return pipeline.New(pipeline.Config{
		CycleInterval: a.cfg.Pipeline.CycleInterval.Duration,
		BatchSize:     a.cfg.Pipeline.BatchSize,
		CallTimeout:   a.cfg.Pipeline.CallTimeout.Duration,
		Symbols:       a.cfg.Strategy.Symbols,
		BarInterval:   a.cfg.Data.Interval,
		BarSpan:       a.cfg.Data.Span,
	}, pipeline.Deps{
		Market:    deps.Market,
		Completer: deps.Completer,
		Broker:    deps.Broker,
		Prompts:   ai.NewPromptBuilder(),
		Parser:    parser.New(),
		Risk:      risk.NewFilter(deps.Events, a.logger),
		Executor:  exec,
		Gate:      gate,
		Events:    deps.Events,
		Evolver:   evolver,
		Notifier:  deps.Notifier,
		Archiver:  deps.Archiver,
		Hours:     hours,
		Logger:    a.logger,
	}, active), nil
}

// loggingExecutor satisfies the executor surface for monitor mode: approved
// decisions are logged, never sent to a broker.
type loggingExecutor struct {
	logger *slog.Logger
}

func (e *loggingExecutor) Execute(_ context.Context, d domain.RiskDecision, versionID string, _ float64) (domain.Order, error) {
	e.logger.Info("monitor: would execute",
		slog.String("symbol", d.Signal.Symbol),
		slog.String("action", string(d.Signal.Action)),
		slog.Int64("position_size", d.PositionSize),
		slog.Float64("price", d.Signal.Price),
		slog.String("version_id", versionID),
	)
	return domain.Order{Symbol: d.Signal.Symbol, State: domain.OrderPendingSubmit}, nil
}

// paperBroker backs monitor mode when no brokerage is configured. Order
// operations are never reached because monitor mode uses loggingExecutor.
type paperBroker struct{}

func (paperBroker) GetAccount(context.Context) (domain.Account, error) {
	return domain.Account{Equity: 100000, BuyingPower: 200000}, nil
}

func (paperBroker) SubmitOrder(context.Context, domain.OrderRequest) (domain.SubmitResult, error) {
	return domain.SubmitResult{}, domain.ErrUnavailable
}

func (paperBroker) GetOrder(context.Context, string) (domain.FillEvent, domain.OrderState, error) {
	return domain.FillEvent{}, "", domain.ErrUnavailable
}

func (paperBroker) CancelOrder(context.Context, string) error {
	return domain.ErrUnavailable
}
