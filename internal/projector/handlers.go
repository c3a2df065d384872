package projector

import (
	"context"
	"database/sql"

	"github.com/cheqlabs/dCheque/internal/alert"
	"github.com/cheqlabs/dCheque/internal/domain/event"
	"github.com/cheqlabs/dCheque/internal/domain/model"
	"github.com/cheqlabs/dCheque/internal/metrics"
)

// deltaSet accumulates counter adjustments per address so that events
// touching the same account in multiple roles (drawer == recipient, self
// transfer) apply one merged adjustment.
type deltaSet map[string]*model.AccountDelta

func (ds deltaSet) at(addr string) *model.AccountDelta {
	d, ok := ds[addr]
	if !ok {
		d = &model.AccountDelta{}
		ds[addr] = d
	}
	return d
}

func (p *Projector) flushDeltas(ctx context.Context, tx *sql.Tx, ds deltaSet) error {
	for addr, d := range ds {
		if d.IsZero() {
			continue
		}
		if err := p.accounts.AdjustTx(ctx, tx, addr, *d); err != nil {
			return err
		}
	}
	return nil
}

func (p *Projector) applyWrite(ctx context.Context, tx *sql.Tx, ev event.Write) ([]string, error) {
	existing, err := p.notas.GetTx(ctx, tx, ev.NotaID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// Re-delivery guard: the first Write won.
		p.logger.Warn("write ignored",
			"nota_id", ev.NotaID,
			"reason", ErrDuplicateNota,
		)
		metrics.DuplicateWrites.Inc()
		return nil, nil
	}

	if err := p.erc20s.EnsureTx(ctx, tx, ev.ERC20); err != nil {
		return nil, err
	}
	for _, addr := range []string{ev.Drawer, ev.Recipient, ev.Auditor} {
		if _, err := p.accounts.GetOrCreateTx(ctx, tx, addr); err != nil {
			return nil, err
		}
	}

	if err := p.notas.CreateTx(ctx, tx, &model.Nota{
		ID:           ev.NotaID,
		Amount:       ev.Amount,
		Expiry:       ev.Expiry,
		ERC20Address: ev.ERC20,
		Drawer:       ev.Drawer,
		Owner:        ev.Recipient,
		Recipient:    ev.Recipient,
		Auditor:      ev.Auditor,
		Status:       model.NotaStatusIssued,
		TxHash:       ev.BlockHash,
		BlockTime:    ev.BlockTime,
	}); err != nil {
		return nil, err
	}

	ds := deltaSet{}
	ds.at(ev.Drawer).TokensSent++
	ds.at(ev.Recipient).TokensReceived++
	ds.at(ev.Recipient).TokensOwned++
	ds.at(ev.Auditor).TokensAuditing++
	if err := p.flushDeltas(ctx, tx, ds); err != nil {
		return nil, err
	}

	p.logger.Info("nota issued",
		"nota_id", ev.NotaID,
		"drawer", ev.Drawer,
		"recipient", ev.Recipient,
		"auditor", ev.Auditor,
		"amount", ev.Amount,
	)
	return []string{ev.Drawer, ev.Recipient, ev.Auditor}, nil
}

func (p *Projector) applyTransfer(ctx context.Context, tx *sql.Tx, ev event.Transfer) ([]string, error) {
	// Mint-side transfer: ownership was already assigned by Write.
	if ev.From == model.ZeroAddress {
		if _, err := p.accounts.GetOrCreateTx(ctx, tx, ev.To); err != nil {
			return nil, err
		}
		return []string{ev.To}, nil
	}

	fromAcct, err := p.accounts.GetOrCreateTx(ctx, tx, ev.From)
	if err != nil {
		return nil, err
	}
	if _, err := p.accounts.GetOrCreateTx(ctx, tx, ev.To); err != nil {
		return nil, err
	}

	n, err := p.notas.GetTx(ctx, tx, ev.NotaID)
	if err != nil {
		return nil, err
	}
	switch {
	case n == nil:
		// Transfer before Write. Create an incomplete placeholder so the
		// ownership chain is not lost; flag for audit.
		anomaly := &OrderingAnomalyError{NotaID: ev.NotaID}
		p.logger.Warn("ordering anomaly", "nota_id", ev.NotaID, "reason", anomaly)
		metrics.OrderingAnomalies.Inc()
		p.sendAlert(ctx, alert.Alert{
			Type:    alert.AlertTypeOrderingAnomaly,
			Title:   "Transfer preceded Write",
			Message: anomaly.Error(),
			Fields:  map[string]string{"nota_id": ev.NotaID, "from": ev.From, "to": ev.To},
		})
		if err := p.notas.CreateTx(ctx, tx, &model.Nota{
			ID:         ev.NotaID,
			Amount:     "0",
			Owner:      ev.To,
			Status:     model.NotaStatusIssued,
			Incomplete: true,
		}); err != nil {
			return nil, err
		}
	case n.Status.Terminal():
		// Ownership is frozen once cashed or voided.
		p.logger.Warn("transfer ignored for terminal nota",
			"nota_id", ev.NotaID,
			"status", n.Status,
		)
		return nil, nil
	case n.Owner == ev.To:
		// Re-delivery guard: ownership already reflects this transfer, so
		// moving the counters again would drift them off the live count.
		p.logger.Warn("transfer ignored",
			"nota_id", ev.NotaID,
			"to", ev.To,
			"reason", "owner unchanged",
		)
		metrics.DuplicateTransfers.Inc()
		return nil, nil
	default:
		if err := p.notas.SetOwnerTx(ctx, tx, ev.NotaID, ev.To); err != nil {
			return nil, err
		}
	}

	ds := deltaSet{}
	p.decrementOwned(ds, fromAcct)
	ds.at(ev.To).TokensOwned++
	if err := p.flushDeltas(ctx, tx, ds); err != nil {
		return nil, err
	}

	p.logger.Info("nota transferred", "nota_id", ev.NotaID, "from", ev.From, "to", ev.To)
	return []string{ev.From, ev.To}, nil
}

func (p *Projector) applyCash(ctx context.Context, tx *sql.Tx, ev event.Cash) ([]string, error) {
	n, err := p.notas.GetTx(ctx, tx, ev.NotaID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		// Never create state from a Cash event.
		p.logger.Warn("cash ignored", "nota_id", ev.NotaID, "reason", ErrUnknownNota)
		metrics.UnknownNotaEvents.WithLabelValues(string(event.KindCash)).Inc()
		return nil, nil
	}

	bearer, err := p.accounts.GetOrCreateTx(ctx, tx, ev.Bearer)
	if err != nil {
		return nil, err
	}

	ds := deltaSet{}
	if n.Status == model.NotaStatusIssued {
		if err := p.notas.SetStatusTx(ctx, tx, ev.NotaID, model.NotaStatusCashed); err != nil {
			return nil, err
		}
		// The nota leaves the live set, so its owner's owned counter
		// follows the derived count down.
		if err := p.decrementOwnerOf(ctx, tx, ds, n, bearer); err != nil {
			return nil, err
		}
	}

	inserted, err := p.accounts.AddCashedTx(ctx, tx, ev.Bearer, ev.NotaID)
	if err != nil {
		return nil, err
	}
	if inserted {
		ds.at(ev.Bearer).TokensCashed++
	}
	if err := p.flushDeltas(ctx, tx, ds); err != nil {
		return nil, err
	}

	p.logger.Info("nota cashed", "nota_id", ev.NotaID, "bearer", ev.Bearer)
	return []string{ev.Bearer, n.Owner}, nil
}

func (p *Projector) applyVoid(ctx context.Context, tx *sql.Tx, ev event.Void) ([]string, error) {
	n, err := p.notas.GetTx(ctx, tx, ev.NotaID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		p.logger.Warn("void ignored", "nota_id", ev.NotaID, "reason", ErrUnknownNota)
		metrics.UnknownNotaEvents.WithLabelValues(string(event.KindVoid)).Inc()
		return nil, nil
	}

	bearer, err := p.accounts.GetOrCreateTx(ctx, tx, ev.Bearer)
	if err != nil {
		return nil, err
	}

	ds := deltaSet{}
	if n.Status == model.NotaStatusIssued {
		if err := p.notas.SetStatusTx(ctx, tx, ev.NotaID, model.NotaStatusVoided); err != nil {
			return nil, err
		}
		if err := p.decrementOwnerOf(ctx, tx, ds, n, bearer); err != nil {
			return nil, err
		}
	}

	inserted, err := p.accounts.AddVoidedTx(ctx, tx, ev.Bearer, ev.NotaID)
	if err != nil {
		return nil, err
	}
	if inserted {
		ds.at(ev.Bearer).TokensVoided++
	}

	// Auditor-side index of voided instruments. Placeholder notas have no
	// auditor recorded.
	touched := []string{ev.Bearer, n.Owner}
	if n.Auditor != "" {
		if _, err := p.accounts.GetOrCreateTx(ctx, tx, n.Auditor); err != nil {
			return nil, err
		}
		if _, err := p.accounts.AddVoidedTx(ctx, tx, n.Auditor, ev.NotaID); err != nil {
			return nil, err
		}
		touched = append(touched, n.Auditor)
	}

	if err := p.flushDeltas(ctx, tx, ds); err != nil {
		return nil, err
	}

	p.logger.Info("nota voided", "nota_id", ev.NotaID, "bearer", ev.Bearer, "auditor", n.Auditor)
	return touched, nil
}

func (p *Projector) applyShakeAuditor(ctx context.Context, tx *sql.Tx, ev event.ShakeAuditor) ([]string, error) {
	if _, err := p.accounts.GetOrCreateTx(ctx, tx, ev.User); err != nil {
		return nil, err
	}
	if _, err := p.accounts.GetOrCreateTx(ctx, tx, ev.Auditor); err != nil {
		return nil, err
	}

	created, err := p.trust.UpsertTx(ctx, tx, &model.TrustRequest{
		UserAddress:    ev.User,
		AuditorAddress: ev.Auditor,
		Side:           model.RequestSideAuditor,
		IsWaiting:      ev.Accepted,
		BlockTime:      ev.BlockTime,
	})
	if err != nil {
		return nil, err
	}
	if created {
		if err := p.accounts.AdjustTx(ctx, tx, ev.Auditor, model.AccountDelta{UsersRequested: 1}); err != nil {
			return nil, err
		}
	}

	if ev.Accepted {
		if err := p.completeHandshake(ctx, tx, ev.User, ev.Auditor, model.RequestSideUser, ev.BlockTime); err != nil {
			return nil, err
		}
	}

	p.logger.Info("auditor shake", "user", ev.User, "auditor", ev.Auditor, "accepted", ev.Accepted)
	return []string{ev.User, ev.Auditor}, nil
}

func (p *Projector) applyShakeUser(ctx context.Context, tx *sql.Tx, ev event.ShakeUser) ([]string, error) {
	if _, err := p.accounts.GetOrCreateTx(ctx, tx, ev.User); err != nil {
		return nil, err
	}
	if _, err := p.accounts.GetOrCreateTx(ctx, tx, ev.Auditor); err != nil {
		return nil, err
	}

	created, err := p.trust.UpsertTx(ctx, tx, &model.TrustRequest{
		UserAddress:    ev.User,
		AuditorAddress: ev.Auditor,
		Side:           model.RequestSideUser,
		IsWaiting:      true,
		BlockTime:      ev.BlockTime,
	})
	if err != nil {
		return nil, err
	}
	if created {
		if err := p.accounts.AdjustTx(ctx, tx, ev.User, model.AccountDelta{AuditorsRequested: 1}); err != nil {
			return nil, err
		}
	}

	// Whichever side arrives second completes the relation; here the
	// counterpart must exist and be in the accepted state.
	counterpart, err := p.trust.GetTx(ctx, tx, ev.User, ev.Auditor, model.RequestSideAuditor)
	if err != nil {
		return nil, err
	}
	if counterpart != nil && counterpart.IsWaiting {
		if err := p.createHandshake(ctx, tx, ev.User, ev.Auditor, ev.BlockTime); err != nil {
			return nil, err
		}
	}

	p.logger.Info("user shake", "user", ev.User, "auditor", ev.Auditor)
	return []string{ev.User, ev.Auditor}, nil
}

// completeHandshake creates the handshake if the counterpart request on
// side exists.
func (p *Projector) completeHandshake(ctx context.Context, tx *sql.Tx, user, auditor string, side model.RequestSide, blockTime int64) error {
	counterpart, err := p.trust.GetTx(ctx, tx, user, auditor, side)
	if err != nil {
		return err
	}
	if counterpart == nil {
		return nil
	}
	return p.createHandshake(ctx, tx, user, auditor, blockTime)
}

func (p *Projector) createHandshake(ctx context.Context, tx *sql.Tx, user, auditor string, blockTime int64) error {
	created, err := p.handshakes.CreateTx(ctx, tx, &model.Handshake{
		UserAddress:    user,
		AuditorAddress: auditor,
		CompletedAt:    blockTime,
	})
	if err != nil {
		return err
	}
	if created {
		metrics.HandshakesCompleted.Inc()
		p.logger.Info("handshake completed", "user", user, "auditor", auditor)
	}
	return nil
}

// decrementOwned lowers an account's owned counter by one, clamping at
// zero. A clamp means the reduction had already diverged; it is flagged,
// never silently fixed by going negative.
func (p *Projector) decrementOwned(ds deltaSet, acct *model.Account) {
	if acct.TokensOwned+ds.at(acct.Address).TokensOwned <= 0 {
		p.logger.Warn("owned counter clamp", "address", acct.Address)
		metrics.ClampedDecrements.Inc()
		return
	}
	ds.at(acct.Address).TokensOwned--
}

// decrementOwnerOf lowers the owned counter of n's current owner, reusing
// the bearer's row when the bearer is the owner.
func (p *Projector) decrementOwnerOf(ctx context.Context, tx *sql.Tx, ds deltaSet, n *model.Nota, bearer *model.Account) error {
	if n.Owner == "" {
		return nil
	}
	owner := bearer
	if n.Owner != bearer.Address {
		var err error
		owner, err = p.accounts.GetOrCreateTx(ctx, tx, n.Owner)
		if err != nil {
			return err
		}
	}
	p.decrementOwned(ds, owner)
	return nil
}
