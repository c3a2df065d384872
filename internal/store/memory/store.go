// Package memory is a mutex-guarded in-memory implementation of the store
// interfaces, used by unit tests and the dev-mode driver. Semantics match
// the Postgres implementation, including the created/inserted result
// flags the handlers rely on for idempotency.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cheqlabs/dCheque/internal/domain/model"
	"github.com/cheqlabs/dCheque/internal/invariant"
)

type trustKey struct {
	user    string
	auditor string
	side    model.RequestSide
}

type pairKey struct {
	user    string
	auditor string
}

// Store holds every entity behind one lock. All repository interfaces are
// implemented on the same value; the *sql.Tx arguments are ignored.
type Store struct {
	mu sync.RWMutex

	db *sql.DB

	accounts   map[string]*model.Account
	cashedSets map[string]map[string]struct{}
	voidedSets map[string]map[string]struct{}
	erc20s     map[string]*model.ERC20Token
	notas      map[string]*model.Nota
	trust      map[trustKey]*model.TrustRequest
	handshakes map[pairKey]*model.Handshake
	cursors    map[string]*model.Cursor
	snapshots  []invariant.Snapshot

	nowFn func() time.Time
}

func New() *Store {
	return &Store{
		db:         newNoopDB(),
		accounts:   make(map[string]*model.Account),
		cashedSets: make(map[string]map[string]struct{}),
		voidedSets: make(map[string]map[string]struct{}),
		erc20s:     make(map[string]*model.ERC20Token),
		notas:      make(map[string]*model.Nota),
		trust:      make(map[trustKey]*model.TrustRequest),
		handshakes: make(map[pairKey]*model.Handshake),
		cursors:    make(map[string]*model.Cursor),
		nowFn:      time.Now,
	}
}

// BeginTx satisfies store.TxBeginner with a no-op transaction.
func (s *Store) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, opts)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- AccountRepository ---

func (s *Store) GetOrCreateAccountTx(ctx context.Context, _ *sql.Tx, address string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(address), nil
}

func (s *Store) getOrCreateLocked(address string) *model.Account {
	if acct, ok := s.accounts[address]; ok {
		out := *acct
		return &out
	}
	now := s.nowFn()
	acct := &model.Account{Address: address, CreatedAt: now, UpdatedAt: now}
	s.accounts[address] = acct
	out := *acct
	return &out
}

func (s *Store) AdjustAccountTx(ctx context.Context, _ *sql.Tx, address string, delta model.AccountDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[address]
	if !ok {
		return fmt.Errorf("adjust account %s: not found", address)
	}
	acct.TokensOwned += delta.TokensOwned
	acct.TokensSent += delta.TokensSent
	acct.TokensReceived += delta.TokensReceived
	acct.TokensAuditing += delta.TokensAuditing
	acct.TokensCashed += delta.TokensCashed
	acct.TokensVoided += delta.TokensVoided
	acct.AuditorsRequested += delta.AuditorsRequested
	acct.UsersRequested += delta.UsersRequested
	acct.UpdatedAt = s.nowFn()
	return nil
}

func (s *Store) AddCashedTx(ctx context.Context, _ *sql.Tx, address, notaID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addToSet(s.cashedSets, address, notaID), nil
}

func (s *Store) AddVoidedTx(ctx context.Context, _ *sql.Tx, address, notaID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addToSet(s.voidedSets, address, notaID), nil
}

func addToSet(sets map[string]map[string]struct{}, address, notaID string) bool {
	set, ok := sets[address]
	if !ok {
		set = make(map[string]struct{})
		sets[address] = set
	}
	if _, exists := set[notaID]; exists {
		return false
	}
	set[notaID] = struct{}{}
	return true
}

func (s *Store) GetAccount(ctx context.Context, address string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[address]
	if !ok {
		return nil, nil
	}
	out := *acct
	out.CashedNotaIDs = sortedSet(s.cashedSets[address])
	out.VoidedNotaIDs = sortedSet(s.voidedSets[address])
	return &out, nil
}

func sortedSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) ListAddresses(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addrs := make([]string, 0, len(s.accounts))
	for addr := range s.accounts {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs, nil
}

// --- ERC20Repository ---

func (s *Store) EnsureERC20Tx(ctx context.Context, _ *sql.Tx, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.erc20s[address]; !ok {
		s.erc20s[address] = &model.ERC20Token{Address: address, CreatedAt: s.nowFn()}
	}
	return nil
}

func (s *Store) GetERC20(ctx context.Context, address string) (*model.ERC20Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.erc20s[address]
	if !ok {
		return nil, nil
	}
	out := *tok
	return &out, nil
}

// --- NotaRepository ---

func (s *Store) GetNotaTx(ctx context.Context, _ *sql.Tx, id string) (*model.Nota, error) {
	return s.GetNota(ctx, id)
}

func (s *Store) GetNota(ctx context.Context, id string) (*model.Nota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notas[id]
	if !ok {
		return nil, nil
	}
	out := *n
	return &out, nil
}

func (s *Store) CreateNotaTx(ctx context.Context, _ *sql.Tx, n *model.Nota) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notas[n.ID]; ok {
		return fmt.Errorf("create nota %s: already exists", n.ID)
	}
	cp := *n
	now := s.nowFn()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.notas[n.ID] = &cp
	return nil
}

func (s *Store) SetOwnerTx(ctx context.Context, _ *sql.Tx, id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notas[id]
	if !ok {
		return fmt.Errorf("set owner of nota %s: not found", id)
	}
	n.Owner = owner
	n.UpdatedAt = s.nowFn()
	return nil
}

func (s *Store) SetStatusTx(ctx context.Context, _ *sql.Tx, id string, status model.NotaStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notas[id]
	if !ok {
		return fmt.Errorf("set status of nota %s: not found", id)
	}
	n.Status = status
	n.UpdatedAt = s.nowFn()
	return nil
}

func (s *Store) ListByOwner(ctx context.Context, owner string, limit, offset int) ([]model.Nota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Nota
	for _, n := range s.notas {
		if n.Owner == owner {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountIssuedByOwner(ctx context.Context, owner string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, nota := range s.notas {
		if nota.Owner == owner && nota.Status == model.NotaStatusIssued {
			n++
		}
	}
	return n, nil
}

func (s *Store) IssuedCountsByOwner(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int64)
	for _, nota := range s.notas {
		if nota.Status == model.NotaStatusIssued {
			counts[nota.Owner]++
		}
	}
	return counts, nil
}

// --- TrustRepository ---

func (s *Store) UpsertTrustTx(ctx context.Context, _ *sql.Tx, req *model.TrustRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := trustKey{user: req.UserAddress, auditor: req.AuditorAddress, side: req.Side}
	now := s.nowFn()
	if existing, ok := s.trust[key]; ok {
		existing.IsWaiting = req.IsWaiting
		existing.BlockTime = req.BlockTime
		existing.UpdatedAt = now
		return false, nil
	}
	cp := *req
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.trust[key] = &cp
	return true, nil
}

func (s *Store) GetTrustTx(ctx context.Context, _ *sql.Tx, user, auditor string, side model.RequestSide) (*model.TrustRequest, error) {
	return s.GetTrust(ctx, user, auditor, side)
}

func (s *Store) GetTrust(ctx context.Context, user, auditor string, side model.RequestSide) (*model.TrustRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.trust[trustKey{user: user, auditor: auditor, side: side}]
	if !ok {
		return nil, nil
	}
	out := *req
	return &out, nil
}

func (s *Store) ListPairsWithBothSides(ctx context.Context) ([][2]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pairs [][2]string
	for key := range s.trust {
		if key.side != model.RequestSideUser {
			continue
		}
		other := trustKey{user: key.user, auditor: key.auditor, side: model.RequestSideAuditor}
		if _, ok := s.trust[other]; ok {
			pairs = append(pairs, [2]string{key.user, key.auditor})
		}
	}
	sortPairs(pairs)
	return pairs, nil
}

// --- HandshakeRepository ---

func (s *Store) CreateHandshakeTx(ctx context.Context, _ *sql.Tx, h *model.Handshake) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{user: h.UserAddress, auditor: h.AuditorAddress}
	if _, ok := s.handshakes[key]; ok {
		return false, nil
	}
	cp := *h
	cp.CreatedAt = s.nowFn()
	s.handshakes[key] = &cp
	return true, nil
}

func (s *Store) GetHandshakeTx(ctx context.Context, _ *sql.Tx, user, auditor string) (*model.Handshake, error) {
	return s.GetHandshake(ctx, user, auditor)
}

func (s *Store) GetHandshake(ctx context.Context, user, auditor string) (*model.Handshake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handshakes[pairKey{user: user, auditor: auditor}]
	if !ok {
		return nil, nil
	}
	out := *h
	return &out, nil
}

func (s *Store) ListPairs(ctx context.Context) ([][2]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pairs := make([][2]string, 0, len(s.handshakes))
	for key := range s.handshakes {
		pairs = append(pairs, [2]string{key.user, key.auditor})
	}
	sortPairs(pairs)
	return pairs, nil
}

func sortPairs(pairs [][2]string) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
}

// --- CursorRepository ---

func (s *Store) GetCursor(ctx context.Context, source string) (*model.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.cursors[source]
	if !ok {
		return nil, nil
	}
	out := *cur
	return &out, nil
}

func (s *Store) UpsertCursorTx(ctx context.Context, _ *sql.Tx, source, position string, eventsDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.cursors[source]
	if !ok {
		cur = &model.Cursor{Source: source}
		s.cursors[source] = cur
	}
	cur.Position = position
	cur.EventsProcessed += eventsDelta
	cur.UpdatedAt = s.nowFn()
	return nil
}

// --- invariant.SnapshotRepository ---

func (s *Store) SaveSnapshots(ctx context.Context, snapshots []invariant.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshots...)
	return nil
}

// Snapshots returns saved checker findings, oldest first.
func (s *Store) Snapshots() []invariant.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]invariant.Snapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}
