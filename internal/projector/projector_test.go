package projector_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cheqlabs/dCheque/internal/domain/event"
	"github.com/cheqlabs/dCheque/internal/domain/model"
	"github.com/cheqlabs/dCheque/internal/invariant"
	"github.com/cheqlabs/dCheque/internal/projector"
	"github.com/cheqlabs/dCheque/internal/store/memory"
)

const (
	drawer    = "0x00000000000000000000000000000000000000a1"
	recipient = "0x00000000000000000000000000000000000000b2"
	auditor   = "0x00000000000000000000000000000000000000c3"
	erc20     = "0x00000000000000000000000000000000000000d4"
	holder    = "0x00000000000000000000000000000000000000e5"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store *memory.Store
	proj  *projector.Projector
	seq   int
}

func newFixture(t *testing.T, opts ...projector.Option) *fixture {
	t.Helper()
	st := memory.New()
	proj := projector.New(
		st,
		st.AccountRepo(),
		st.ERC20Repo(),
		st.NotaRepo(),
		st.TrustRepo(),
		st.HandshakeRepo(),
		st.CursorRepo(),
		testLogger(),
		opts...,
	)
	return &fixture{store: st, proj: proj}
}

// apply feeds one event at the next stream position.
func (f *fixture) apply(t *testing.T, ev event.Event) {
	t.Helper()
	f.seq++
	require.NoError(t, f.proj.Apply(context.Background(), ev, strconv.Itoa(f.seq)+"-0"))
}

func (f *fixture) account(t *testing.T, addr string) *model.Account {
	t.Helper()
	acct, err := f.store.GetAccount(context.Background(), addr)
	require.NoError(t, err)
	require.NotNil(t, acct, "account %s", addr)
	return acct
}

func (f *fixture) nota(t *testing.T, id string) *model.Nota {
	t.Helper()
	n, err := f.store.GetNota(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, n, "nota %s", id)
	return n
}

func writeEvent(id string) event.Write {
	return event.Write{
		NotaID:    id,
		Amount:    "100",
		Expiry:    1700000000,
		ERC20:     erc20,
		Drawer:    drawer,
		Recipient: recipient,
		Auditor:   auditor,
		BlockTime: 1690000000,
		BlockHash: "0xabc123",
	}
}

func TestApplyWrite_CreatesEntities(t *testing.T) {
	f := newFixture(t)
	f.apply(t, writeEvent("1"))

	n := f.nota(t, "1")
	assert.Equal(t, "100", n.Amount)
	assert.Equal(t, model.NotaStatusIssued, n.Status)
	assert.Equal(t, recipient, n.Owner)
	assert.Equal(t, drawer, n.Drawer)
	assert.Equal(t, auditor, n.Auditor)
	assert.False(t, n.Incomplete)

	tok, err := f.store.GetERC20(context.Background(), erc20)
	require.NoError(t, err)
	require.NotNil(t, tok)

	d := f.account(t, drawer)
	assert.Equal(t, int64(1), d.TokensSent)
	assert.Equal(t, int64(0), d.TokensOwned)

	r := f.account(t, recipient)
	assert.Equal(t, int64(1), r.TokensReceived)
	assert.Equal(t, int64(1), r.TokensOwned)

	a := f.account(t, auditor)
	assert.Equal(t, int64(1), a.TokensAuditing)
}

func TestApplyWrite_DuplicateIgnored(t *testing.T) {
	f := newFixture(t)
	f.apply(t, writeEvent("1"))

	// Redelivery with divergent fields: the first commit wins outright.
	dup := writeEvent("1")
	dup.Amount = "999"
	dup.Recipient = holder
	f.apply(t, dup)

	n := f.nota(t, "1")
	assert.Equal(t, "100", n.Amount)
	assert.Equal(t, recipient, n.Owner)

	r := f.account(t, recipient)
	assert.Equal(t, int64(1), r.TokensReceived)
	assert.Equal(t, int64(1), r.TokensOwned)

	// The duplicate still advances the cursor.
	cur, err := f.store.GetCursor(context.Background(), "ledger")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "2-0", cur.Position)
	assert.Equal(t, int64(2), cur.EventsProcessed)
}

func TestApplyWrite_DrawerIsRecipient(t *testing.T) {
	f := newFixture(t)
	ev := writeEvent("1")
	ev.Recipient = drawer
	f.apply(t, ev)

	d := f.account(t, drawer)
	assert.Equal(t, int64(1), d.TokensSent)
	assert.Equal(t, int64(1), d.TokensReceived)
	assert.Equal(t, int64(1), d.TokensOwned)
}

func TestApplyTransfer_MovesOwnership(t *testing.T) {
	f := newFixture(t)
	f.apply(t, writeEvent("1"))
	f.apply(t, event.Transfer{NotaID: "1", From: recipient, To: holder})

	assert.Equal(t, holder, f.nota(t, "1").Owner)
	assert.Equal(t, int64(0), f.account(t, recipient).TokensOwned)
	assert.Equal(t, int64(1), f.account(t, holder).TokensOwned)
}

func TestApplyTransfer_SelfTransfer(t *testing.T) {
	f := newFixture(t)
	f.apply(t, writeEvent("1"))
	f.apply(t, event.Transfer{NotaID: "1", From: recipient, To: recipient})

	assert.Equal(t, recipient, f.nota(t, "1").Owner)
	assert.Equal(t, int64(1), f.account(t, recipient).TokensOwned)
}

func TestApplyTransfer_Redelivery(t *testing.T) {
	f := newFixture(t)
	f.apply(t, writeEvent("1"))
	f.apply(t, event.Transfer{NotaID: "1", From: recipient, To: holder})
	f.apply(t, event.Transfer{NotaID: "1", From: recipient, To: holder})

	assert.Equal(t, holder, f.nota(t, "1").Owner)
	assert.Equal(t, int64(1), f.account(t, holder).TokensOwned,
		"holder owns exactly one issued nota after redelivered transfer")
	assert.Equal(t, int64(0), f.account(t, recipient).TokensOwned)
}

func TestApplyTransfer_MintSide(t *testing.T) {
	f := newFixture(t)
	f.apply(t, writeEvent("1"))

	// The mint-side transfer mirrors the Write; ownership was already
	// assigned and no counter moves.
	f.apply(t, event.Transfer{NotaID: "1", From: model.ZeroAddress, To: recipient})

	assert.Equal(t, recipient, f.nota(t, "1").Owner)
	assert.Equal(t, int64(1), f.account(t, recipient).TokensOwned)
}

func TestApplyTransfer_BeforeWrite(t *testing.T) {
	f := newFixture(t)
	f.apply(t, event.Transfer{NotaID: "42", From: drawer, To: holder})

	n := f.nota(t, "42")
	assert.True(t, n.Incomplete)
	assert.Equal(t, holder, n.Owner)
	assert.Equal(t, "0", n.Amount)
	assert.Equal(t, model.NotaStatusIssued, n.Status)

	// The sender never owned anything, so its decrement clamps at zero.
	assert.Equal(t, int64(0), f.account(t, drawer).TokensOwned)
	assert.Equal(t, int64(1), f.account(t, holder).TokensOwned)
}

func TestApplyTransfer_TerminalNotaIgnored(t *testing.T) {
	f := newFixture(t)
	f.apply(t, writeEvent("1"))
	f.apply(t, event.Cash{NotaID: "1", Bearer: recipient})
	f.apply(t, event.Transfer{NotaID: "1", From: recipient, To: holder})

	n := f.nota(t, "1")
	assert.Equal(t, model.NotaStatusCashed, n.Status)
	assert.Equal(t, recipient, n.Owner, "ownership is frozen after cash")

	assert.Equal(t, int64(0), f.account(t, recipient).TokensOwned)
	acct, err := f.store.GetAccount(context.Background(), holder)
	require.NoError(t, err)
	if acct != nil {
		assert.Equal(t, int64(0), acct.TokensOwned)
	}
}

func TestApplyCash(t *testing.T) {
	f := newFixture(t)
	f.apply(t, writeEvent("1"))
	f.apply(t, event.Cash{NotaID: "1", Bearer: recipient})

	assert.Equal(t, model.NotaStatusCashed, f.nota(t, "1").Status)

	r := f.account(t, recipient)
	assert.Equal(t, int64(1), r.TokensCashed)
	assert.Equal(t, int64(0), r.TokensOwned, "cashed nota leaves the live set")
	assert.Equal(t, []string{"1"}, r.CashedNotaIDs)
}

func TestApplyCash_BearerIsNotOwner(t *testing.T) {
	f := newFixture(t)
	f.apply(t, writeEvent("1"))
	f.apply(t, event.Cash{NotaID: "1", Bearer: holder})

	// The bearer gets the cashed credit; the owner's live count drops.
	assert.Equal(t, int64(1), f.account(t, holder).TokensCashed)
	assert.Equal(t, int64(0), f.account(t, recipient).TokensOwned)
	assert.Equal(t, int64(0), f.account(t, recipient).TokensCashed)
}

func TestApplyCash_Redelivery(t *testing.T) {
	f := newFixture(t)
	f.apply(t, writeEvent("1"))
	f.apply(t, event.Cash{NotaID: "1", Bearer: recipient})
	f.apply(t, event.Cash{NotaID: "1", Bearer: recipient})

	r := f.account(t, recipient)
	assert.Equal(t, int64(1), r.TokensCashed)
	assert.Equal(t, int64(0), r.TokensOwned)
	assert.Equal(t, []string{"1"}, r.CashedNotaIDs)
}

func TestApplyCash_UnknownNota(t *testing.T) {
	f := newFixture(t)
	f.apply(t, event.Cash{NotaID: "404", Bearer: recipient})

	n, err := f.store.GetNota(context.Background(), "404")
	require.NoError(t, err)
	assert.Nil(t, n, "a Cash event never creates state")

	acct, err := f.store.GetAccount(context.Background(), recipient)
	require.NoError(t, err)
	assert.Nil(t, acct)
}

func TestApplyVoid(t *testing.T) {
	f := newFixture(t)
	f.apply(t, writeEvent("1"))
	f.apply(t, event.Void{NotaID: "1", Bearer: recipient})

	assert.Equal(t, model.NotaStatusVoided, f.nota(t, "1").Status)

	r := f.account(t, recipient)
	assert.Equal(t, int64(1), r.TokensVoided)
	assert.Equal(t, int64(0), r.TokensOwned)
	assert.Equal(t, []string{"1"}, r.VoidedNotaIDs)

	// The auditor's voided index records the instrument without touching
	// its counter.
	a := f.account(t, auditor)
	assert.Equal(t, int64(0), a.TokensVoided)
	assert.Equal(t, []string{"1"}, a.VoidedNotaIDs)
}

func TestApplyVoid_AfterCashKeepsStatus(t *testing.T) {
	f := newFixture(t)
	f.apply(t, writeEvent("1"))
	f.apply(t, event.Cash{NotaID: "1", Bearer: recipient})
	f.apply(t, event.Void{NotaID: "1", Bearer: recipient})

	// Terminal states are final; the late Void only updates membership.
	assert.Equal(t, model.NotaStatusCashed, f.nota(t, "1").Status)

	r := f.account(t, recipient)
	assert.Equal(t, int64(1), r.TokensCashed)
	assert.Equal(t, int64(1), r.TokensVoided)
	assert.Equal(t, int64(0), r.TokensOwned)
}

func TestApplyShake_UserThenAuditor(t *testing.T) {
	f := newFixture(t)
	f.apply(t, event.ShakeUser{User: drawer, Auditor: auditor, BlockTime: 100})

	h, err := f.store.GetHandshake(context.Background(), drawer, auditor)
	require.NoError(t, err)
	assert.Nil(t, h, "one-sided request must not complete")

	f.apply(t, event.ShakeAuditor{User: drawer, Auditor: auditor, Accepted: true, BlockTime: 200})

	h, err = f.store.GetHandshake(context.Background(), drawer, auditor)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, int64(200), h.CompletedAt)

	assert.Equal(t, int64(1), f.account(t, drawer).AuditorsRequested)
	assert.Equal(t, int64(1), f.account(t, auditor).UsersRequested)
}

func TestApplyShake_AuditorThenUser(t *testing.T) {
	f := newFixture(t)
	f.apply(t, event.ShakeAuditor{User: drawer, Auditor: auditor, Accepted: true, BlockTime: 100})

	h, err := f.store.GetHandshake(context.Background(), drawer, auditor)
	require.NoError(t, err)
	assert.Nil(t, h)

	f.apply(t, event.ShakeUser{User: drawer, Auditor: auditor, BlockTime: 200})

	h, err = f.store.GetHandshake(context.Background(), drawer, auditor)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, int64(200), h.CompletedAt)
}

func TestApplyShake_RejectionBlocksCompletion(t *testing.T) {
	f := newFixture(t)
	f.apply(t, event.ShakeAuditor{User: drawer, Auditor: auditor, Accepted: false, BlockTime: 100})
	f.apply(t, event.ShakeUser{User: drawer, Auditor: auditor, BlockTime: 200})

	h, err := f.store.GetHandshake(context.Background(), drawer, auditor)
	require.NoError(t, err)
	assert.Nil(t, h, "a rejected auditor side leaves the pair open")

	// A later acceptance completes it.
	f.apply(t, event.ShakeAuditor{User: drawer, Auditor: auditor, Accepted: true, BlockTime: 300})

	h, err = f.store.GetHandshake(context.Background(), drawer, auditor)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, int64(300), h.CompletedAt)

	// The re-shake updates the existing request without double counting.
	assert.Equal(t, int64(1), f.account(t, auditor).UsersRequested)
}

func TestApplyShake_RedeliveryIdempotent(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.apply(t, event.ShakeUser{User: drawer, Auditor: auditor, BlockTime: 100})
	}
	assert.Equal(t, int64(1), f.account(t, drawer).AuditorsRequested)
}

func TestApply_AdvancesCursor(t *testing.T) {
	f := newFixture(t)
	f.apply(t, writeEvent("1"))
	f.apply(t, event.Transfer{NotaID: "1", From: recipient, To: holder})
	f.apply(t, event.Cash{NotaID: "1", Bearer: holder})

	cur, err := f.store.GetCursor(context.Background(), "ledger")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "3-0", cur.Position)
	assert.Equal(t, int64(3), cur.EventsProcessed)
}

func TestSkipTo(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.proj.SkipTo(context.Background(), "5-1"))

	cur, err := f.store.GetCursor(context.Background(), "ledger")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "5-1", cur.Position)
	assert.Equal(t, int64(1), cur.EventsProcessed)
}

func TestApply_StrictMode(t *testing.T) {
	st := memory.New()
	checker := invariant.NewChecker(
		st.AccountRepo(), st.NotaRepo(), st.TrustRepo(), st.HandshakeRepo(),
		nil, testLogger(),
	)
	proj := projector.New(
		st,
		st.AccountRepo(),
		st.ERC20Repo(),
		st.NotaRepo(),
		st.TrustRepo(),
		st.HandshakeRepo(),
		st.CursorRepo(),
		testLogger(),
		projector.WithStrictChecker(checker),
	)
	ctx := context.Background()

	require.NoError(t, proj.Apply(ctx, writeEvent("1"), "1-0"))
	require.NoError(t, proj.Apply(ctx, event.Transfer{NotaID: "1", From: recipient, To: holder}, "2-0"))

	// Corrupt a counter out of band; the next event touching the account
	// must halt the stream.
	require.NoError(t, st.AdjustAccountTx(ctx, nil, holder, model.AccountDelta{TokensOwned: 5}))

	err := proj.Apply(ctx, event.Transfer{NotaID: "1", From: holder, To: recipient}, "3-0")
	require.Error(t, err)

	var sv *projector.StrictViolationError
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, "3-0", sv.Position)
	assert.NotEmpty(t, sv.Violations)
}

func TestApply_DistinctSourceName(t *testing.T) {
	st := memory.New()
	proj := projector.New(
		st,
		st.AccountRepo(),
		st.ERC20Repo(),
		st.NotaRepo(),
		st.TrustRepo(),
		st.HandshakeRepo(),
		st.CursorRepo(),
		testLogger(),
		projector.WithSourceName("mainnet"),
	)
	require.NoError(t, proj.Apply(context.Background(), writeEvent("1"), "1-0"))

	cur, err := st.GetCursor(context.Background(), "mainnet")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "1-0", cur.Position)

	other, err := st.GetCursor(context.Background(), "ledger")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestOrderingAnomalyError(t *testing.T) {
	err := &projector.OrderingAnomalyError{NotaID: "7"}
	assert.Contains(t, err.Error(), "7")
	assert.False(t, errors.Is(err, projector.ErrUnknownNota))
}
