package memory

import (
	"context"
	"database/sql"

	"github.com/cheqlabs/dCheque/internal/domain/model"
	"github.com/cheqlabs/dCheque/internal/store"
)

// Repository views. The entities share one Store behind one lock; each
// view adapts it to one of the store package's interfaces.

func (s *Store) AccountRepo() store.AccountRepository     { return accountRepo{s} }
func (s *Store) ERC20Repo() store.ERC20Repository         { return erc20Repo{s} }
func (s *Store) NotaRepo() store.NotaRepository           { return notaRepo{s} }
func (s *Store) TrustRepo() store.TrustRepository         { return trustRepo{s} }
func (s *Store) HandshakeRepo() store.HandshakeRepository { return handshakeRepo{s} }
func (s *Store) CursorRepo() store.CursorRepository       { return cursorRepo{s} }

type accountRepo struct{ s *Store }

func (r accountRepo) GetOrCreateTx(ctx context.Context, tx *sql.Tx, address string) (*model.Account, error) {
	return r.s.GetOrCreateAccountTx(ctx, tx, address)
}

func (r accountRepo) AdjustTx(ctx context.Context, tx *sql.Tx, address string, delta model.AccountDelta) error {
	return r.s.AdjustAccountTx(ctx, tx, address, delta)
}

func (r accountRepo) AddCashedTx(ctx context.Context, tx *sql.Tx, address, notaID string) (bool, error) {
	return r.s.AddCashedTx(ctx, tx, address, notaID)
}

func (r accountRepo) AddVoidedTx(ctx context.Context, tx *sql.Tx, address, notaID string) (bool, error) {
	return r.s.AddVoidedTx(ctx, tx, address, notaID)
}

func (r accountRepo) Get(ctx context.Context, address string) (*model.Account, error) {
	return r.s.GetAccount(ctx, address)
}

func (r accountRepo) ListAddresses(ctx context.Context) ([]string, error) {
	return r.s.ListAddresses(ctx)
}

type erc20Repo struct{ s *Store }

func (r erc20Repo) EnsureTx(ctx context.Context, tx *sql.Tx, address string) error {
	return r.s.EnsureERC20Tx(ctx, tx, address)
}

func (r erc20Repo) Get(ctx context.Context, address string) (*model.ERC20Token, error) {
	return r.s.GetERC20(ctx, address)
}

type notaRepo struct{ s *Store }

func (r notaRepo) GetTx(ctx context.Context, tx *sql.Tx, id string) (*model.Nota, error) {
	return r.s.GetNotaTx(ctx, tx, id)
}

func (r notaRepo) CreateTx(ctx context.Context, tx *sql.Tx, n *model.Nota) error {
	return r.s.CreateNotaTx(ctx, tx, n)
}

func (r notaRepo) SetOwnerTx(ctx context.Context, tx *sql.Tx, id, owner string) error {
	return r.s.SetOwnerTx(ctx, tx, id, owner)
}

func (r notaRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, id string, status model.NotaStatus) error {
	return r.s.SetStatusTx(ctx, tx, id, status)
}

func (r notaRepo) Get(ctx context.Context, id string) (*model.Nota, error) {
	return r.s.GetNota(ctx, id)
}

func (r notaRepo) ListByOwner(ctx context.Context, owner string, limit, offset int) ([]model.Nota, error) {
	return r.s.ListByOwner(ctx, owner, limit, offset)
}

func (r notaRepo) CountIssuedByOwner(ctx context.Context, owner string) (int64, error) {
	return r.s.CountIssuedByOwner(ctx, owner)
}

func (r notaRepo) IssuedCountsByOwner(ctx context.Context) (map[string]int64, error) {
	return r.s.IssuedCountsByOwner(ctx)
}

type trustRepo struct{ s *Store }

func (r trustRepo) UpsertTx(ctx context.Context, tx *sql.Tx, req *model.TrustRequest) (bool, error) {
	return r.s.UpsertTrustTx(ctx, tx, req)
}

func (r trustRepo) GetTx(ctx context.Context, tx *sql.Tx, user, auditor string, side model.RequestSide) (*model.TrustRequest, error) {
	return r.s.GetTrustTx(ctx, tx, user, auditor, side)
}

func (r trustRepo) Get(ctx context.Context, user, auditor string, side model.RequestSide) (*model.TrustRequest, error) {
	return r.s.GetTrust(ctx, user, auditor, side)
}

func (r trustRepo) ListPairsWithBothSides(ctx context.Context) ([][2]string, error) {
	return r.s.ListPairsWithBothSides(ctx)
}

type handshakeRepo struct{ s *Store }

func (r handshakeRepo) CreateTx(ctx context.Context, tx *sql.Tx, h *model.Handshake) (bool, error) {
	return r.s.CreateHandshakeTx(ctx, tx, h)
}

func (r handshakeRepo) GetTx(ctx context.Context, tx *sql.Tx, user, auditor string) (*model.Handshake, error) {
	return r.s.GetHandshakeTx(ctx, tx, user, auditor)
}

func (r handshakeRepo) Get(ctx context.Context, user, auditor string) (*model.Handshake, error) {
	return r.s.GetHandshake(ctx, user, auditor)
}

func (r handshakeRepo) ListPairs(ctx context.Context) ([][2]string, error) {
	return r.s.ListPairs(ctx)
}

type cursorRepo struct{ s *Store }

func (r cursorRepo) Get(ctx context.Context, source string) (*model.Cursor, error) {
	return r.s.GetCursor(ctx, source)
}

func (r cursorRepo) UpsertTx(ctx context.Context, tx *sql.Tx, source, position string, eventsDelta int64) error {
	return r.s.UpsertCursorTx(ctx, tx, source, position, eventsDelta)
}
