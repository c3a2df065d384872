// Package invariant re-derives cross-entity post-conditions from the
// entity store and reports divergence. The checker never mutates state;
// it is diagnostic only. In strict builds the projector consults it after
// every event, in lenient builds it runs as a periodic offline pass.
package invariant

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/cheqlabs/dCheque/internal/alert"
	"github.com/cheqlabs/dCheque/internal/domain/model"
	"github.com/cheqlabs/dCheque/internal/metrics"
	"github.com/cheqlabs/dCheque/internal/store"
)

// Check names, used as metric labels and snapshot keys.
const (
	CheckOwnedCount       = "owned_count"
	CheckNegativeCounter  = "negative_counter"
	CheckCashedSetSize    = "cashed_set_size"
	CheckVoidedSetSize    = "voided_set_size"
	CheckHandshakePairing = "handshake_pairing"
)

// Violation is one detected divergence between stored and re-derived state.
type Violation struct {
	Check    string `json:"check"`
	Address  string `json:"address,omitempty"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Detail   string `json:"detail,omitempty"`
}

func (v Violation) String() string {
	return fmt.Sprintf("invariant %s: address=%s expected=%s actual=%s %s",
		v.Check, v.Address, v.Expected, v.Actual, v.Detail)
}

// Snapshot is one persisted checker finding.
type Snapshot struct {
	ID    uuid.UUID `json:"id"`
	RunID uuid.UUID `json:"run_id"`
	Violation
	CheckedAt time.Time `json:"checked_at"`
}

// RunResult aggregates a full checker pass.
type RunResult struct {
	ID              uuid.UUID   `json:"id"`
	AccountsChecked int         `json:"accounts_checked"`
	PairsChecked    int         `json:"pairs_checked"`
	Violations      []Violation `json:"violations"`
	StartedAt       time.Time   `json:"started_at"`
	FinishedAt      time.Time   `json:"finished_at"`
}

// SnapshotRepository persists checker findings.
type SnapshotRepository interface {
	SaveSnapshots(ctx context.Context, snapshots []Snapshot) error
}

// Checker re-derives entity invariants from the store.
type Checker struct {
	accounts   store.AccountRepository
	notas      store.NotaRepository
	trust      store.TrustRepository
	handshakes store.HandshakeRepository
	snapshots  SnapshotRepository
	alerter    alert.Alerter
	logger     *slog.Logger
}

// NewChecker creates a checker. alerter may be nil.
func NewChecker(
	accounts store.AccountRepository,
	notas store.NotaRepository,
	trust store.TrustRepository,
	handshakes store.HandshakeRepository,
	alerter alert.Alerter,
	logger *slog.Logger,
) *Checker {
	return &Checker{
		accounts:   accounts,
		notas:      notas,
		trust:      trust,
		handshakes: handshakes,
		alerter:    alerter,
		logger:     logger.With("component", "invariant"),
	}
}

// SetSnapshotRepository sets the optional snapshot persistence layer.
func (c *Checker) SetSnapshotRepository(repo SnapshotRepository) {
	c.snapshots = repo
}

// Run performs a full offline pass over every account and handshake pair.
func (c *Checker) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{
		ID:        uuid.New(),
		StartedAt: time.Now(),
	}

	derived, err := c.notas.IssuedCountsByOwner(ctx)
	if err != nil {
		return nil, fmt.Errorf("derive owned counts: %w", err)
	}

	addrs, err := c.accounts.ListAddresses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	for _, addr := range addrs {
		acct, err := c.accounts.Get(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("get account %s: %w", addr, err)
		}
		if acct == nil {
			continue
		}
		result.AccountsChecked++
		result.Violations = append(result.Violations, checkAccount(acct, derived[addr])...)
	}

	// Owners holding issued notas without an account row at all.
	known := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		known[a] = struct{}{}
	}
	for owner, count := range derived {
		if _, ok := known[owner]; !ok && count > 0 {
			result.Violations = append(result.Violations, Violation{
				Check:    CheckOwnedCount,
				Address:  owner,
				Expected: strconv.FormatInt(count, 10),
				Actual:   "no account",
				Detail:   "issued notas owned by an address with no account entity",
			})
		}
	}

	pairViolations, pairs, err := c.checkHandshakePairs(ctx)
	if err != nil {
		return nil, err
	}
	result.PairsChecked = pairs
	result.Violations = append(result.Violations, pairViolations...)

	result.FinishedAt = time.Now()
	c.report(ctx, result)
	return result, nil
}

// CheckAccounts re-derives the owned-count invariant for the given
// addresses only. The projector calls this in strict mode with the
// accounts an event touched.
func (c *Checker) CheckAccounts(ctx context.Context, addrs []string) ([]Violation, error) {
	var violations []Violation
	for _, addr := range addrs {
		acct, err := c.accounts.Get(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("get account %s: %w", addr, err)
		}
		if acct == nil {
			continue
		}
		derived, err := c.notas.CountIssuedByOwner(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("count issued notas for %s: %w", addr, err)
		}
		violations = append(violations, checkAccount(acct, derived)...)
	}
	return violations, nil
}

func checkAccount(acct *model.Account, derivedOwned int64) []Violation {
	var out []Violation

	if acct.TokensOwned != derivedOwned {
		out = append(out, Violation{
			Check:    CheckOwnedCount,
			Address:  acct.Address,
			Expected: strconv.FormatInt(derivedOwned, 10),
			Actual:   strconv.FormatInt(acct.TokensOwned, 10),
		})
	}

	counters := map[string]int64{
		"tokens_owned":       acct.TokensOwned,
		"tokens_sent":        acct.TokensSent,
		"tokens_received":    acct.TokensReceived,
		"tokens_auditing":    acct.TokensAuditing,
		"tokens_cashed":      acct.TokensCashed,
		"tokens_voided":      acct.TokensVoided,
		"auditors_requested": acct.AuditorsRequested,
		"users_requested":    acct.UsersRequested,
	}
	for name, v := range counters {
		if v < 0 {
			out = append(out, Violation{
				Check:    CheckNegativeCounter,
				Address:  acct.Address,
				Expected: ">= 0",
				Actual:   strconv.FormatInt(v, 10),
				Detail:   name,
			})
		}
	}

	if int64(len(acct.CashedNotaIDs)) != acct.TokensCashed {
		out = append(out, Violation{
			Check:    CheckCashedSetSize,
			Address:  acct.Address,
			Expected: strconv.Itoa(len(acct.CashedNotaIDs)),
			Actual:   strconv.FormatInt(acct.TokensCashed, 10),
		})
	}
	// The voided set also indexes auditor-side voids, which do not bump
	// the bearer counter, so the set may only be larger.
	if int64(len(acct.VoidedNotaIDs)) < acct.TokensVoided {
		out = append(out, Violation{
			Check:    CheckVoidedSetSize,
			Address:  acct.Address,
			Expected: ">= " + strconv.FormatInt(acct.TokensVoided, 10),
			Actual:   strconv.Itoa(len(acct.VoidedNotaIDs)),
		})
	}
	return out
}

// checkHandshakePairs validates the two-sided completion invariant:
// every handshake has both constituent requests, and every accepted
// request pair has a handshake.
func (c *Checker) checkHandshakePairs(ctx context.Context) ([]Violation, int, error) {
	var out []Violation

	completed, err := c.handshakes.ListPairs(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list handshakes: %w", err)
	}
	completedSet := make(map[[2]string]struct{}, len(completed))
	for _, p := range completed {
		completedSet[p] = struct{}{}
	}

	for _, p := range completed {
		for _, side := range []model.RequestSide{model.RequestSideUser, model.RequestSideAuditor} {
			req, err := c.trust.Get(ctx, p[0], p[1], side)
			if err != nil {
				return nil, 0, fmt.Errorf("get %s request (%s,%s): %w", side, p[0], p[1], err)
			}
			if req == nil {
				out = append(out, Violation{
					Check:    CheckHandshakePairing,
					Address:  p[0],
					Expected: string(side) + " request present",
					Actual:   "missing",
					Detail:   "handshake with auditor " + p[1] + " lacks a constituent request",
				})
			}
		}
	}

	both, err := c.trust.ListPairsWithBothSides(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list request pairs: %w", err)
	}
	for _, p := range both {
		if _, done := completedSet[p]; done {
			continue
		}
		auditorReq, err := c.trust.Get(ctx, p[0], p[1], model.RequestSideAuditor)
		if err != nil {
			return nil, 0, fmt.Errorf("get auditor request (%s,%s): %w", p[0], p[1], err)
		}
		// A rejected auditor side legitimately leaves the pair open.
		if auditorReq != nil && auditorReq.IsWaiting {
			out = append(out, Violation{
				Check:    CheckHandshakePairing,
				Address:  p[0],
				Expected: "handshake present",
				Actual:   "missing",
				Detail:   "both requests exist and auditor accepted, auditor " + p[1],
			})
		}
	}

	return out, len(both) + len(completed), nil
}

// report logs, persists, counts, and alerts on a finished run.
func (c *Checker) report(ctx context.Context, result *RunResult) {
	metrics.InvariantRuns.Inc()
	for _, v := range result.Violations {
		metrics.InvariantViolations.WithLabelValues(v.Check).Inc()
	}

	if len(result.Violations) == 0 {
		c.logger.Info("invariant pass clean",
			"run_id", result.ID,
			"accounts", result.AccountsChecked,
			"pairs", result.PairsChecked,
		)
		return
	}

	c.logger.Error("invariant violations detected",
		"run_id", result.ID,
		"accounts", result.AccountsChecked,
		"violations", len(result.Violations),
	)
	for _, v := range result.Violations {
		c.logger.Error("invariant violation",
			"run_id", result.ID,
			"check", v.Check,
			"address", v.Address,
			"expected", v.Expected,
			"actual", v.Actual,
			"detail", v.Detail,
		)
	}

	if c.snapshots != nil {
		snaps := make([]Snapshot, 0, len(result.Violations))
		now := time.Now()
		for _, v := range result.Violations {
			snaps = append(snaps, Snapshot{
				ID:        uuid.New(),
				RunID:     result.ID,
				Violation: v,
				CheckedAt: now,
			})
		}
		if err := c.snapshots.SaveSnapshots(ctx, snaps); err != nil {
			c.logger.Warn("failed to save invariant snapshots", "error", err)
		}
	}

	if c.alerter != nil {
		_ = c.alerter.Send(ctx, alert.Alert{
			Type:    alert.AlertTypeInvariantViolation,
			Title:   "Derived-state invariant violation detected",
			Message: fmt.Sprintf("%d violations across %d accounts", len(result.Violations), result.AccountsChecked),
			Fields: map[string]string{
				"run_id":     result.ID.String(),
				"violations": strconv.Itoa(len(result.Violations)),
			},
		})
	}
}

// RunPeriodic runs the checker at the given interval until the context is
// cancelled.
func (c *Checker) RunPeriodic(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}

	c.logger.Info("periodic invariant checking started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("periodic invariant checking stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.Run(ctx); err != nil {
				c.logger.Warn("invariant pass failed", "error", err)
			}
		}
	}
}
