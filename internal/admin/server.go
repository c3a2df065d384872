// Package admin exposes the operational HTTP API: entity lookups over the
// projected state, stream status, and an on-demand invariant check.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cheqlabs/dCheque/internal/domain/model"
	"github.com/cheqlabs/dCheque/internal/invariant"
	"github.com/cheqlabs/dCheque/internal/query"
)

// InvariantRunner triggers a full checker pass. Satisfied by
// *invariant.Checker.
type InvariantRunner interface {
	Run(ctx context.Context) (*invariant.RunResult, error)
}

// HealthProvider reports whether the stream is healthy and why not.
type HealthProvider interface {
	Healthy(ctx context.Context) (bool, string)
}

// Server provides the HTTP admin API over the query service.
type Server struct {
	queries    *query.Service
	invariants InvariantRunner
	health     HealthProvider
	sourceName string
	logger     *slog.Logger
}

type ServerOption func(*Server)

// WithInvariantRunner enables POST /admin/v1/invariants/run.
func WithInvariantRunner(r InvariantRunner) ServerOption {
	return func(s *Server) { s.invariants = r }
}

// WithHealthProvider enables GET /admin/v1/health.
func WithHealthProvider(hp HealthProvider) ServerOption {
	return func(s *Server) { s.health = hp }
}

// WithSource sets the cursor source reported by /status. Defaults to
// "ledger".
func WithSource(name string) ServerOption {
	return func(s *Server) { s.sourceName = name }
}

func NewServer(queries *query.Service, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		queries:    queries,
		sourceName: "ledger",
		logger:     logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v1/accounts/{address}", s.handleGetAccount)
	mux.HandleFunc("GET /admin/v1/accounts/{address}/notas", s.handleListNotas)
	mux.HandleFunc("GET /admin/v1/notas/{id}", s.handleGetNota)
	mux.HandleFunc("GET /admin/v1/erc20s/{address}", s.handleGetERC20)
	mux.HandleFunc("GET /admin/v1/handshakes", s.handleGetHandshake)
	mux.HandleFunc("GET /admin/v1/trust-requests", s.handleGetTrustRequest)
	mux.HandleFunc("GET /admin/v1/status", s.handleGetStatus)
	mux.HandleFunc("GET /admin/v1/health", s.handleHealth)
	mux.HandleFunc("POST /admin/v1/invariants/run", s.handleRunInvariants)
	return mux
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleLookupErr maps query-layer errors onto HTTP statuses. Returns
// true when a response was written.
func (s *Server) handleLookupErr(w http.ResponseWriter, err error, what string) bool {
	if err == nil {
		return false
	}
	var bad *query.ErrBadAddress
	if errors.As(err, &bad) {
		writeError(w, http.StatusBadRequest, bad.Error())
		return true
	}
	s.logger.Error(what+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
	return true
}

type accountResponse struct {
	Address           string   `json:"address"`
	TokensOwned       int64    `json:"tokens_owned"`
	TokensSent        int64    `json:"tokens_sent"`
	TokensReceived    int64    `json:"tokens_received"`
	TokensAuditing    int64    `json:"tokens_auditing"`
	TokensCashed      int64    `json:"tokens_cashed"`
	TokensVoided      int64    `json:"tokens_voided"`
	AuditorsRequested int64    `json:"auditors_requested"`
	UsersRequested    int64    `json:"users_requested"`
	CashedNotaIDs     []string `json:"cashed_nota_ids"`
	VoidedNotaIDs     []string `json:"voided_nota_ids"`
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.queries.GetAccount(r.Context(), r.PathValue("address"))
	if s.handleLookupErr(w, err, "get account") {
		return
	}
	if acct == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		Address:           acct.Address,
		TokensOwned:       acct.TokensOwned,
		TokensSent:        acct.TokensSent,
		TokensReceived:    acct.TokensReceived,
		TokensAuditing:    acct.TokensAuditing,
		TokensCashed:      acct.TokensCashed,
		TokensVoided:      acct.TokensVoided,
		AuditorsRequested: acct.AuditorsRequested,
		UsersRequested:    acct.UsersRequested,
		CashedNotaIDs:     acct.CashedNotaIDs,
		VoidedNotaIDs:     acct.VoidedNotaIDs,
	})
}

type notaResponse struct {
	ID         string `json:"id"`
	Amount     string `json:"amount"`
	Expiry     int64  `json:"expiry"`
	ERC20      string `json:"erc20"`
	Drawer     string `json:"drawer"`
	Owner      string `json:"owner"`
	Recipient  string `json:"recipient"`
	Auditor    string `json:"auditor"`
	Status     string `json:"status"`
	TxHash     string `json:"tx_hash"`
	BlockTime  int64  `json:"block_time"`
	Incomplete bool   `json:"incomplete,omitempty"`
}

func notaToResponse(n *model.Nota) notaResponse {
	return notaResponse{
		ID:         n.ID,
		Amount:     n.Amount,
		Expiry:     n.Expiry,
		ERC20:      n.ERC20Address,
		Drawer:     n.Drawer,
		Owner:      n.Owner,
		Recipient:  n.Recipient,
		Auditor:    n.Auditor,
		Status:     string(n.Status),
		TxHash:     n.TxHash,
		BlockTime:  n.BlockTime,
		Incomplete: n.Incomplete,
	}
}

func (s *Server) handleGetNota(w http.ResponseWriter, r *http.Request) {
	n, err := s.queries.GetNota(r.Context(), r.PathValue("id"))
	if s.handleLookupErr(w, err, "get nota") {
		return
	}
	if n == nil {
		writeError(w, http.StatusNotFound, "nota not found")
		return
	}
	writeJSON(w, http.StatusOK, notaToResponse(n))
}

func (s *Server) handleListNotas(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	notas, err := s.queries.ListNotasOwnedBy(r.Context(), r.PathValue("address"), limit, offset)
	if s.handleLookupErr(w, err, "list notas") {
		return
	}
	resp := make([]notaResponse, len(notas))
	for i := range notas {
		resp[i] = notaToResponse(&notas[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetERC20(w http.ResponseWriter, r *http.Request) {
	tok, err := s.queries.GetERC20(r.Context(), r.PathValue("address"))
	if s.handleLookupErr(w, err, "get erc20") {
		return
	}
	if tok == nil {
		writeError(w, http.StatusNotFound, "erc20 not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": tok.Address})
}

func requirePairQuery(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	user := r.URL.Query().Get("user")
	auditor := r.URL.Query().Get("auditor")
	if user == "" || auditor == "" {
		writeError(w, http.StatusBadRequest, "user and auditor query params required")
		return "", "", false
	}
	return user, auditor, true
}

func (s *Server) handleGetHandshake(w http.ResponseWriter, r *http.Request) {
	user, auditor, ok := requirePairQuery(w, r)
	if !ok {
		return
	}
	h, err := s.queries.GetHandshake(r.Context(), user, auditor)
	if s.handleLookupErr(w, err, "get handshake") {
		return
	}
	if h == nil {
		writeError(w, http.StatusNotFound, "handshake not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":         h.UserAddress,
		"auditor":      h.AuditorAddress,
		"completed_at": h.CompletedAt,
	})
}

func (s *Server) handleGetTrustRequest(w http.ResponseWriter, r *http.Request) {
	user, auditor, ok := requirePairQuery(w, r)
	if !ok {
		return
	}
	side := model.RequestSide(r.URL.Query().Get("side"))
	if side != model.RequestSideUser && side != model.RequestSideAuditor {
		writeError(w, http.StatusBadRequest, "side must be USER or AUDITOR")
		return
	}
	req, err := s.queries.GetTrustRequest(r.Context(), user, auditor, side)
	if s.handleLookupErr(w, err, "get trust request") {
		return
	}
	if req == nil {
		writeError(w, http.StatusNotFound, "trust request not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":       req.UserAddress,
		"auditor":    req.AuditorAddress,
		"side":       string(req.Side),
		"is_waiting": req.IsWaiting,
		"block_time": req.BlockTime,
	})
}

type statusResponse struct {
	Source          string `json:"source"`
	Position        string `json:"position"`
	EventsProcessed int64  `json:"events_processed"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	cur, err := s.queries.Cursor(r.Context(), s.sourceName)
	if s.handleLookupErr(w, err, "get status") {
		return
	}
	resp := statusResponse{Source: s.sourceName}
	if cur != nil {
		resp.Position = cur.Position
		resp.EventsProcessed = cur.EventsProcessed
		resp.UpdatedAt = cur.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeError(w, http.StatusServiceUnavailable, "health provider not available")
		return
	}
	healthy, reason := s.health.Healthy(r.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"healthy": healthy, "reason": reason})
}

func (s *Server) handleRunInvariants(w http.ResponseWriter, r *http.Request) {
	if s.invariants == nil {
		writeError(w, http.StatusServiceUnavailable, "invariant checker not available")
		return
	}
	result, err := s.invariants.Run(r.Context())
	if err != nil {
		s.logger.Error("invariant run failed", "error", err)
		writeError(w, http.StatusInternalServerError, "invariant run failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
