// Package query is the read side: point lookups and scans over the
// derived entities, with address normalization at the boundary so callers
// can pass mixed-case hex.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/cheqlabs/dCheque/internal/cache"
	"github.com/cheqlabs/dCheque/internal/domain/model"
	"github.com/cheqlabs/dCheque/internal/store"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000

	// Terminal notas and ERC20 entries are immutable, so they can be
	// cached without staleness. The TTL only bounds memory of the key
	// space, not correctness.
	cacheCapacity = 4096
	cacheTTL      = 10 * time.Minute
)

// ErrBadAddress is wrapped around lookups given a malformed hex address.
type ErrBadAddress struct {
	Address string
}

func (e *ErrBadAddress) Error() string {
	return fmt.Sprintf("not a hex address: %q", e.Address)
}

// Service exposes read-only access over the projected state.
type Service struct {
	accounts   store.AccountRepository
	erc20s     store.ERC20Repository
	notas      store.NotaRepository
	trust      store.TrustRepository
	handshakes store.HandshakeRepository
	cursors    store.CursorRepository

	notaCache  *cache.FrozenLRU[string, model.Nota]
	erc20Cache *cache.FrozenLRU[string, model.ERC20Token]
}

func NewService(
	accounts store.AccountRepository,
	erc20s store.ERC20Repository,
	notas store.NotaRepository,
	trust store.TrustRepository,
	handshakes store.HandshakeRepository,
	cursors store.CursorRepository,
) *Service {
	return &Service{
		accounts:   accounts,
		erc20s:     erc20s,
		notas:      notas,
		trust:      trust,
		handshakes: handshakes,
		cursors:    cursors,
		notaCache:  cache.New[string, model.Nota]("nota", cacheCapacity, cacheTTL),
		erc20Cache: cache.New[string, model.ERC20Token]("erc20", cacheCapacity, cacheTTL),
	}
}

// GetAccount returns the account for address with its membership sets
// loaded, or nil if the address has never appeared in any event.
func (s *Service) GetAccount(ctx context.Context, address string) (*model.Account, error) {
	addr, err := normalize(address)
	if err != nil {
		return nil, err
	}
	return s.accounts.Get(ctx, addr)
}

// GetNota returns the instrument by id, or nil.
func (s *Service) GetNota(ctx context.Context, id string) (*model.Nota, error) {
	if cached, ok := s.notaCache.Get(id); ok {
		return &cached, nil
	}
	n, err := s.notas.Get(ctx, id)
	if err != nil || n == nil {
		return n, err
	}
	// Only terminal, fully issued notas are frozen; live or placeholder
	// ones keep changing, so they always come from the store.
	if n.Status.Terminal() && !n.Incomplete {
		s.notaCache.Add(id, *n)
	}
	return n, nil
}

// GetERC20 returns the token dictionary entry, or nil.
func (s *Service) GetERC20(ctx context.Context, address string) (*model.ERC20Token, error) {
	addr, err := normalize(address)
	if err != nil {
		return nil, err
	}
	if cached, ok := s.erc20Cache.Get(addr); ok {
		return &cached, nil
	}
	tok, err := s.erc20s.Get(ctx, addr)
	if err != nil || tok == nil {
		return tok, err
	}
	s.erc20Cache.Add(addr, *tok)
	return tok, nil
}

// ListNotasOwnedBy pages through the notas currently owned by address in
// stable id order. A non-positive limit gets the default page size.
func (s *Service) ListNotasOwnedBy(ctx context.Context, address string, limit, offset int) ([]model.Nota, error) {
	addr, err := normalize(address)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.notas.ListByOwner(ctx, addr, limit, offset)
}

// GetTrustRequest returns one directional request for the pair, or nil.
func (s *Service) GetTrustRequest(ctx context.Context, user, auditor string, side model.RequestSide) (*model.TrustRequest, error) {
	u, err := normalize(user)
	if err != nil {
		return nil, err
	}
	a, err := normalize(auditor)
	if err != nil {
		return nil, err
	}
	return s.trust.Get(ctx, u, a, side)
}

// GetHandshake returns the completed handshake for the pair, or nil while
// either side is missing or the auditor has not accepted.
func (s *Service) GetHandshake(ctx context.Context, user, auditor string) (*model.Handshake, error) {
	u, err := normalize(user)
	if err != nil {
		return nil, err
	}
	a, err := normalize(auditor)
	if err != nil {
		return nil, err
	}
	return s.handshakes.Get(ctx, u, a)
}

// Cursor returns the resume position for source, or nil before the first
// event commits.
func (s *Service) Cursor(ctx context.Context, source string) (*model.Cursor, error) {
	return s.cursors.Get(ctx, source)
}

func normalize(address string) (string, error) {
	addr := model.NormalizeAddress(address)
	if !model.IsHexAddress(addr) {
		return "", &ErrBadAddress{Address: address}
	}
	return addr, nil
}
