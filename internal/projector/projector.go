// Package projector reduces the ordered ledger event stream into the
// derived entity snapshot. Events apply one at a time, each inside its own
// store transaction together with the cursor advance, so redelivery and
// mid-batch crashes never leave an entity half-updated.
package projector

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/cheqlabs/dCheque/internal/alert"
	"github.com/cheqlabs/dCheque/internal/domain/event"
	"github.com/cheqlabs/dCheque/internal/invariant"
	"github.com/cheqlabs/dCheque/internal/metrics"
	"github.com/cheqlabs/dCheque/internal/store"
	"github.com/cheqlabs/dCheque/internal/tracing"
)

// Projector is the single writer that applies decoded ledger events to the
// entity store.
type Projector struct {
	db         store.TxBeginner
	accounts   store.AccountRepository
	erc20s     store.ERC20Repository
	notas      store.NotaRepository
	trust      store.TrustRepository
	handshakes store.HandshakeRepository
	cursors    store.CursorRepository
	checker    *invariant.Checker
	alerter    alert.Alerter
	logger     *slog.Logger
	sourceName string
	strict     bool
}

type Option func(*Projector)

// WithAlerter routes anomaly notifications to an alert channel.
func WithAlerter(a alert.Alerter) Option {
	return func(p *Projector) { p.alerter = a }
}

// WithStrictChecker enables strict mode: the checker re-validates the
// accounts each event touched right after commit, and a violation halts
// the stream.
func WithStrictChecker(c *invariant.Checker) Option {
	return func(p *Projector) {
		p.checker = c
		p.strict = true
	}
}

// WithSourceName sets the cursor source key. Defaults to "ledger".
func WithSourceName(name string) Option {
	return func(p *Projector) { p.sourceName = name }
}

func New(
	db store.TxBeginner,
	accounts store.AccountRepository,
	erc20s store.ERC20Repository,
	notas store.NotaRepository,
	trust store.TrustRepository,
	handshakes store.HandshakeRepository,
	cursors store.CursorRepository,
	logger *slog.Logger,
	opts ...Option,
) *Projector {
	p := &Projector{
		db:         db,
		accounts:   accounts,
		erc20s:     erc20s,
		notas:      notas,
		trust:      trust,
		handshakes: handshakes,
		cursors:    cursors,
		logger:     logger.With("component", "projector"),
		sourceName: "ledger",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Apply reduces one event into the store. The handler's reads and writes
// commit atomically with the cursor advance to position. Recorded
// anomalies (duplicate Write, unknown nota, ordering anomaly) are absorbed
// here; only storage failures and strict-mode violations propagate.
func (p *Projector) Apply(ctx context.Context, ev event.Event, position string) error {
	kind := string(ev.Kind())

	ctx, span := tracing.Tracer("projector").Start(ctx, "projector.apply",
		otelTrace.WithAttributes(
			attribute.String("event.kind", kind),
			attribute.String("event.position", position),
		),
	)
	defer span.End()

	start := time.Now()
	touched, err := p.applyTx(ctx, ev, position)
	metrics.ApplyLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.EventErrors.WithLabelValues(kind).Inc()
		return fmt.Errorf("apply %s at %s: %w", kind, position, err)
	}
	metrics.EventsProcessed.WithLabelValues(kind).Inc()

	if p.strict && p.checker != nil && len(touched) > 0 {
		violations, err := p.checker.CheckAccounts(ctx, touched)
		if err != nil {
			return fmt.Errorf("strict check after %s at %s: %w", kind, position, err)
		}
		if len(violations) > 0 {
			return &StrictViolationError{Position: position, Violations: violations}
		}
	}
	return nil
}

func (p *Projector) applyTx(ctx context.Context, ev event.Event, position string) ([]string, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	touched, err := p.dispatch(ctx, tx, ev)
	if err != nil {
		return nil, err
	}

	if err := p.advanceCursorTx(ctx, tx, position); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return touched, nil
}

func (p *Projector) dispatch(ctx context.Context, tx *sql.Tx, ev event.Event) ([]string, error) {
	switch e := ev.(type) {
	case event.Write:
		return p.applyWrite(ctx, tx, e)
	case event.Transfer:
		return p.applyTransfer(ctx, tx, e)
	case event.Cash:
		return p.applyCash(ctx, tx, e)
	case event.Void:
		return p.applyVoid(ctx, tx, e)
	case event.ShakeAuditor:
		return p.applyShakeAuditor(ctx, tx, e)
	case event.ShakeUser:
		return p.applyShakeUser(ctx, tx, e)
	}
	return nil, fmt.Errorf("unhandled event kind %s", ev.Kind())
}

// SkipTo advances the cursor past an undecodable record without touching
// any entity.
func (p *Projector) SkipTo(ctx context.Context, position string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := p.advanceCursorTx(ctx, tx, position); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (p *Projector) advanceCursorTx(ctx context.Context, tx *sql.Tx, position string) error {
	if p.cursors == nil || position == "" {
		return nil
	}
	if err := p.cursors.UpsertTx(ctx, tx, p.sourceName, position, 1); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// sendAlert fires and forgets; alert delivery must never affect the stream.
func (p *Projector) sendAlert(ctx context.Context, a alert.Alert) {
	if p.alerter == nil {
		return
	}
	_ = p.alerter.Send(ctx, a)
}
