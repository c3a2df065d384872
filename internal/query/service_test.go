package query_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cheqlabs/dCheque/internal/domain/model"
	"github.com/cheqlabs/dCheque/internal/query"
	"github.com/cheqlabs/dCheque/internal/store/memory"
)

const (
	alice = "0x00000000000000000000000000000000000000a1"
	bob   = "0x00000000000000000000000000000000000000b2"
	token = "0x00000000000000000000000000000000000000d4"
)

func newService(st *memory.Store) *query.Service {
	return query.NewService(
		st.AccountRepo(),
		st.ERC20Repo(),
		st.NotaRepo(),
		st.TrustRepo(),
		st.HandshakeRepo(),
		st.CursorRepo(),
	)
}

func TestGetAccount_NormalizesCase(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	_, err := st.GetOrCreateAccountTx(ctx, nil, alice)
	require.NoError(t, err)

	svc := newService(st)
	acct, err := svc.GetAccount(ctx, "0x00000000000000000000000000000000000000A1")
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, alice, acct.Address)
}

func TestGetAccount_BadAddress(t *testing.T) {
	svc := newService(memory.New())

	_, err := svc.GetAccount(context.Background(), "nonsense")
	require.Error(t, err)

	var bad *query.ErrBadAddress
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, "nonsense", bad.Address)
}

func TestGetAccount_Missing(t *testing.T) {
	svc := newService(memory.New())
	acct, err := svc.GetAccount(context.Background(), alice)
	require.NoError(t, err)
	assert.Nil(t, acct)
}

func TestGetNota_LiveNotCached(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	require.NoError(t, st.CreateNotaTx(ctx, nil, &model.Nota{
		ID: "1", Amount: "100", Owner: alice, Status: model.NotaStatusIssued,
	}))

	svc := newService(st)
	n, err := svc.GetNota(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, alice, n.Owner)

	// A live nota keeps changing; every read must see the store.
	require.NoError(t, st.SetOwnerTx(ctx, nil, "1", bob))
	n, err = svc.GetNota(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, bob, n.Owner)
}

func TestGetNota_TerminalCached(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	require.NoError(t, st.CreateNotaTx(ctx, nil, &model.Nota{
		ID: "1", Amount: "100", Owner: alice, Status: model.NotaStatusCashed,
	}))

	svc := newService(st)
	n, err := svc.GetNota(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, n)

	// Terminal notas are frozen, so the cache may answer even if the
	// store row were rewritten underneath.
	require.NoError(t, st.SetOwnerTx(ctx, nil, "1", bob))
	n, err = svc.GetNota(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, alice, n.Owner)
}

func TestGetNota_IncompleteNotCached(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	require.NoError(t, st.CreateNotaTx(ctx, nil, &model.Nota{
		ID: "1", Amount: "0", Owner: alice, Status: model.NotaStatusVoided, Incomplete: true,
	}))

	svc := newService(st)
	_, err := svc.GetNota(ctx, "1")
	require.NoError(t, err)

	require.NoError(t, st.SetOwnerTx(ctx, nil, "1", bob))
	n, err := svc.GetNota(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, bob, n.Owner, "placeholders must never come from the cache")
}

func TestGetERC20_Cached(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	require.NoError(t, st.EnsureERC20Tx(ctx, nil, token))

	svc := newService(st)
	tok, err := svc.GetERC20(ctx, "0x00000000000000000000000000000000000000D4")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, token, tok.Address)

	missing, err := svc.GetERC20(ctx, alice)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListNotasOwnedBy_PageClamping(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, st.CreateNotaTx(ctx, nil, &model.Nota{
			ID: string(rune('a' + i)), Owner: alice, Status: model.NotaStatusIssued,
		}))
	}

	svc := newService(st)

	notas, err := svc.ListNotasOwnedBy(ctx, alice, 0, 0)
	require.NoError(t, err)
	assert.Len(t, notas, 5, "non-positive limit falls back to the default page size")

	notas, err = svc.ListNotasOwnedBy(ctx, alice, 2, -3)
	require.NoError(t, err)
	assert.Len(t, notas, 2, "negative offset is treated as zero")

	notas, err = svc.ListNotasOwnedBy(ctx, alice, 1_000_000, 0)
	require.NoError(t, err)
	assert.Len(t, notas, 5, "oversized limit is clamped, not rejected")

	_, err = svc.ListNotasOwnedBy(ctx, "bogus", 10, 0)
	require.Error(t, err)
}

func TestGetTrustRequestAndHandshake(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	_, err := st.UpsertTrustTx(ctx, nil, &model.TrustRequest{
		UserAddress: alice, AuditorAddress: bob,
		Side: model.RequestSideUser, IsWaiting: true, BlockTime: 100,
	})
	require.NoError(t, err)
	_, err = st.CreateHandshakeTx(ctx, nil, &model.Handshake{
		UserAddress: alice, AuditorAddress: bob, CompletedAt: 200,
	})
	require.NoError(t, err)

	svc := newService(st)

	req, err := svc.GetTrustRequest(ctx, alice, bob, model.RequestSideUser)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.True(t, req.IsWaiting)

	req, err = svc.GetTrustRequest(ctx, alice, bob, model.RequestSideAuditor)
	require.NoError(t, err)
	assert.Nil(t, req)

	h, err := svc.GetHandshake(ctx, alice, bob)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, int64(200), h.CompletedAt)

	_, err = svc.GetHandshake(ctx, "bogus", bob)
	require.Error(t, err)
}

func TestCursor(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	require.NoError(t, st.UpsertCursorTx(ctx, nil, "ledger", "7-0", 7))

	svc := newService(st)
	cur, err := svc.Cursor(ctx, "ledger")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "7-0", cur.Position)

	cur, err = svc.Cursor(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, cur)
}
