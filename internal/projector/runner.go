package projector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cheqlabs/dCheque/internal/alert"
	"github.com/cheqlabs/dCheque/internal/circuitbreaker"
	"github.com/cheqlabs/dCheque/internal/decoder"
	"github.com/cheqlabs/dCheque/internal/metrics"
	"github.com/cheqlabs/dCheque/internal/store"
)

// Record is one raw ledger entry with its stream position.
type Record struct {
	Position string
	Raw      decoder.Raw
}

// Source yields raw ledger records strictly after a position, oldest
// first. An empty after reads from the beginning. Returning an empty
// slice with a nil error means the stream is caught up.
type Source interface {
	Read(ctx context.Context, after string, limit int) ([]Record, error)
}

// Runner drives the projector: it tails the source from the persisted
// cursor, decodes each record, and applies it. Undecodable records are
// skipped with the cursor advanced; storage failures and strict-mode
// violations stop the run.
type Runner struct {
	proj    *Projector
	src     Source
	cursors store.CursorRepository
	alerter alert.Alerter
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger

	sourceName   string
	batchSize    int
	pollInterval time.Duration
	stallAfter   time.Duration
}

type RunnerOption func(*Runner)

// WithBatchSize caps records read per poll. Defaults to 256.
func WithBatchSize(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithPollInterval sets the idle wait between polls. Defaults to 2s.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithStallThreshold alerts when no record has been observed for d. Zero
// disables stall detection.
func WithStallThreshold(d time.Duration) RunnerOption {
	return func(r *Runner) { r.stallAfter = d }
}

// WithRunnerAlerter routes stall notifications to an alert channel.
func WithRunnerAlerter(a alert.Alerter) RunnerOption {
	return func(r *Runner) { r.alerter = a }
}

func NewRunner(proj *Projector, src Source, cursors store.CursorRepository, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		proj:         proj,
		src:          src,
		cursors:      cursors,
		logger:       logger.With("component", "runner"),
		sourceName:   proj.sourceName,
		batchSize:    256,
		pollInterval: 2 * time.Second,
	}
	r.breaker = circuitbreaker.New(circuitbreaker.Config{
		OnStateChange: func(from, to circuitbreaker.State) {
			r.logger.Warn("source breaker state change", "from", from, "to", to)
		},
	})
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run blocks until ctx is canceled or a non-recoverable error occurs.
// Source read errors are retried with backoff to the poll interval;
// everything downstream of a successfully read record fails fast so the
// cursor never moves past unapplied state.
func (r *Runner) Run(ctx context.Context) error {
	position, err := r.loadPosition(ctx)
	if err != nil {
		return err
	}
	r.logger.Info("runner started", "source", r.sourceName, "position", position)

	lastProgress := time.Now()
	stalled := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// A run of read failures opens the breaker; while it is open the
		// runner just idles instead of hammering a down source.
		if err := r.breaker.Allow(); err != nil {
			if err := r.sleep(ctx); err != nil {
				return err
			}
			continue
		}

		records, err := r.src.Read(ctx, position, r.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.breaker.Failure()
			metrics.SourceReadErrors.Inc()
			r.logger.Error("source read failed", "error", err, "position", position)
			if err := r.sleep(ctx); err != nil {
				return err
			}
			continue
		}
		r.breaker.Success()

		if len(records) == 0 {
			if r.stallAfter > 0 && !stalled && time.Since(lastProgress) > r.stallAfter {
				stalled = true
				r.notifyStall(ctx, position, time.Since(lastProgress))
			}
			if err := r.sleep(ctx); err != nil {
				return err
			}
			continue
		}

		for _, rec := range records {
			metrics.SourceRecordsRead.Inc()

			ev, err := decoder.Decode(rec.Raw)
			switch {
			case decoder.IsDecodeError(err):
				metrics.DecodeErrors.Inc()
				r.logger.Warn("undecodable record skipped",
					"position", rec.Position,
					"record_id", rec.Raw.ID,
					"error", err,
				)
				if err := r.proj.SkipTo(ctx, rec.Position); err != nil {
					return fmt.Errorf("skip %s: %w", rec.Position, err)
				}
			case err != nil:
				return fmt.Errorf("decode %s: %w", rec.Position, err)
			default:
				if err := r.proj.Apply(ctx, ev, rec.Position); err != nil {
					return err
				}
			}
			position = rec.Position
		}

		lastProgress = time.Now()
		if stalled {
			stalled = false
			r.notifyRecovery(ctx, position)
		}
	}
}

func (r *Runner) loadPosition(ctx context.Context) (string, error) {
	if r.cursors == nil {
		return "", nil
	}
	cur, err := r.cursors.Get(ctx, r.sourceName)
	if err != nil {
		return "", fmt.Errorf("load cursor %q: %w", r.sourceName, err)
	}
	if cur == nil {
		return "", nil
	}
	return cur.Position, nil
}

func (r *Runner) sleep(ctx context.Context) error {
	t := time.NewTimer(r.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Runner) notifyStall(ctx context.Context, position string, idle time.Duration) {
	r.logger.Warn("stream stalled", "position", position, "idle", idle)
	if r.alerter == nil {
		return
	}
	_ = r.alerter.Send(ctx, alert.Alert{
		Type:    alert.AlertTypeStreamStalled,
		Title:   "Ledger stream stalled",
		Message: fmt.Sprintf("no records for %s", idle.Truncate(time.Second)),
		Fields:  map[string]string{"source": r.sourceName, "position": position},
	})
}

func (r *Runner) notifyRecovery(ctx context.Context, position string) {
	r.logger.Info("stream recovered", "position", position)
	if r.alerter == nil {
		return
	}
	_ = r.alerter.Send(ctx, alert.Alert{
		Type:    alert.AlertTypeRecovery,
		Title:   "Ledger stream recovered",
		Message: "records are flowing again",
		Fields:  map[string]string{"source": r.sourceName, "position": position},
	})
}
