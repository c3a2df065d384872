package projector

import (
	"errors"
	"fmt"

	"github.com/cheqlabs/dCheque/internal/invariant"
)

// Recorded anomalies. These never abort the stream: the handler logs and
// counts them, the event's cursor still advances. They exist as errors so
// tests and callers can assert on what a given event did.
var (
	// ErrDuplicateNota marks a Write re-delivered for an existing id.
	ErrDuplicateNota = errors.New("nota id already exists")

	// ErrUnknownNota marks a Cash or Void referencing a nota that was
	// never written. No state is created from these events.
	ErrUnknownNota = errors.New("nota does not exist")
)

// OrderingAnomalyError marks a Transfer observed before its Write. The
// handler creates an incomplete placeholder instead of failing; the
// anomaly is surfaced for audit.
type OrderingAnomalyError struct {
	NotaID string
}

func (e *OrderingAnomalyError) Error() string {
	return fmt.Sprintf("transfer preceded write for nota %s", e.NotaID)
}

// StrictViolationError halts the runner when strict-mode invariant
// checking detects divergence immediately after an event commit.
type StrictViolationError struct {
	Position   string
	Violations []invariant.Violation
}

func (e *StrictViolationError) Error() string {
	return fmt.Sprintf("strict invariant check failed at %s: %d violations (first: %s)",
		e.Position, len(e.Violations), e.Violations[0].String())
}
