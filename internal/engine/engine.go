// Package engine runs the option lifecycle: write, buy, exercise, expire worthless and
// reclaim, moving premium, strike and collateral between the ledgers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"options_ledger/internal/core"
	"options_ledger/internal/custody"
	"options_ledger/internal/option"
	"options_ledger/internal/oracle"
	"options_ledger/internal/registry"
	apperrors "options_ledger/pkg/errors"
	"options_ledger/pkg/telemetry"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the engine's account wiring
type Config struct {
	// EscrowAccount is the settlement account premiums and strikes pass through. Buyers
	// approve it as spender.
	EscrowAccount string
	Operators     []string
}

// Deps are the collaborators the engine drives
type Deps struct {
	Registry   *registry.Registry
	Custody    *custody.Custody
	Settlement core.ISettlementLedger
	Oracle     PriceSource
	Publisher  core.IEventPublisher // optional
	Clock      core.IClock          // defaults to the wall clock
	Logger     core.ILogger
}

// Engine serializes mutations per option id and keeps records, custody and ledgers in step
type Engine struct {
	cfg        Config
	registry   *registry.Registry
	custody    *custody.Custody
	settlement core.ISettlementLedger
	oracle     PriceSource
	publisher  core.IEventPublisher
	clock      core.IClock
	logger     core.ILogger

	locks *keyedLocks
	// sweep is held shared by lifecycle operations and exclusively by admin withdrawals,
	// so a withdrawal never sees value that is mid-flight through the escrow accounts
	sweep sync.RWMutex

	tracer  trace.Tracer
	metrics *telemetry.MetricsHolder
}

var _ Service = (*Engine)(nil)

// New creates an engine
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Registry == nil || deps.Custody == nil || deps.Settlement == nil || deps.Oracle == nil {
		return nil, errors.New("engine: registry, custody, settlement ledger and oracle are required")
	}
	if cfg.EscrowAccount == "" {
		return nil, errors.New("engine: escrow account is required")
	}
	if deps.Clock == nil {
		deps.Clock = core.SystemClock{}
	}
	return &Engine{
		cfg:        cfg,
		registry:   deps.Registry,
		custody:    deps.Custody,
		settlement: deps.Settlement,
		oracle:     deps.Oracle,
		publisher:  deps.Publisher,
		clock:      deps.Clock,
		logger:     deps.Logger.WithField("component", "engine"),
		locks:      newKeyedLocks(),
		tracer:     telemetry.GetTracer("options-engine"),
		metrics:    telemetry.GetGlobalMetrics(),
	}, nil
}

// Start restores the registry from its store and rebuilds custody from the records
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Starting options engine")
	if err := e.registry.Restore(ctx); err != nil {
		e.logger.Error("Failed to restore registry", "error", err)
		return fmt.Errorf("failed to restore registry: %w", err)
	}
	e.custody.Restore(e.registry.Options())
	e.refreshGauges()
	e.logger.Info("Options engine started", "options", e.registry.Count(), "locked_collateral", e.custody.Locked().String())
	return nil
}

// Stop is a no-op; the engine holds no background work
func (e *Engine) Stop() error {
	e.logger.Info("Stopping options engine")
	return nil
}

// GetOption returns a copy of the record for id
func (e *Engine) GetOption(id uint64) (*option.Option, error) {
	return e.registry.Get(id)
}

// ListPositions returns the ids account has written or bought
func (e *Engine) ListPositions(account string) []uint64 {
	return e.registry.Positions(account)
}

// CurrentPrice delegates to the oracle
func (e *Engine) CurrentPrice(ctx context.Context) (decimal.Decimal, error) {
	return e.oracle.CurrentPrice(ctx)
}

// LatestRound delegates to the oracle
func (e *Engine) LatestRound(ctx context.Context) (oracle.Reading, error) {
	return e.oracle.LatestRound(ctx)
}

func (e *Engine) isOperator(account string) bool {
	for _, op := range e.cfg.Operators {
		if op == account {
			return true
		}
	}
	return false
}

// run wraps one operation in a span and records its outcome
func (e *Engine) run(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, "engine."+op, trace.WithAttributes(attrs...))
	defer span.End()
	started := time.Now()

	err := fn(ctx)

	result := "ok"
	if err != nil {
		result = resultLabel(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if apperrors.Kind(err) != nil {
			e.logger.Debug("Operation rejected", "operation", op, "error", err)
		} else {
			e.logger.Error("Operation failed", "operation", op, "error", err)
		}
	}
	e.metrics.RecordOperation(ctx, op, result, started)
	return err
}

func resultLabel(err error) string {
	kind := apperrors.Kind(err)
	if kind == nil {
		return "internal"
	}
	return strings.ReplaceAll(kind.Error(), " ", "_")
}

// abort compensates moved value and puts the previous record back
func (e *Engine) abort(ctx context.Context, prev *option.Option, undo undoStack, cause error) error {
	if err := undo.unwind(); err != nil {
		e.logger.Error("Compensation failed, ledgers out of step with registry",
			"option_id", prev.ID, "cause", cause, "error", err)
	}
	if err := e.registry.Commit(context.WithoutCancel(ctx), prev, ""); err != nil {
		e.logger.Error("Failed to restore option record after aborted transfer",
			"option_id", prev.ID, "state", prev.State.String(), "error", err)
	}
	return cause
}

func (e *Engine) publish(evt core.Event) {
	if e.publisher != nil {
		e.publisher.Publish(evt)
	}
}

func (e *Engine) refreshGauges() {
	e.metrics.SetOptionsByState(e.registry.StateCounts())
}

func (e *Engine) load(id uint64, typ *option.Type) (*option.Option, error) {
	opt, err := e.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if typ != nil && opt.Type != *typ {
		return nil, fmt.Errorf("%w: option %d is a %s, not a %s", apperrors.ErrInvalidInput, id, opt.Type, *typ)
	}
	return opt, nil
}

func idAttr(id uint64) attribute.KeyValue {
	return attribute.Int64("option.id", int64(id))
}
