package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/radieske/dice-settlement/internal/dice"
	"github.com/radieske/dice-settlement/internal/dice-service/dto"
	"github.com/radieske/dice-settlement/internal/dice/auth"
	"github.com/radieske/dice-settlement/internal/dice/settlement"
)

// Settler define as operações do orquestrador usadas pelos handlers
type Settler interface {
	Place(ctx context.Context, req settlement.PlaceRequest) (dice.Bet, error)
	Resolve(ctx context.Context, req settlement.ResolveRequest) (dice.Result, error)
	Bet(ctx context.Context, id uint64) (dice.Bet, error)
	BetsByPlayer(ctx context.Context, player string) ([]dice.Bet, error)
	Pool(ctx context.Context, sym dice.Symbol) (settlement.PoolState, error)
	Issue(ctx context.Context, to, quantity string) (dice.Asset, error)
	Balance(ctx context.Context, account string, sym dice.Symbol) (dice.Asset, error)
}

// Results lê resultados já publicados (cache do dice-logs-worker)
type Results interface {
	GetResult(ctx context.Context, betID uint64, dst any) (bool, error)
	RecentResults(ctx context.Context, player string) ([]uint64, error)
}

// Server expõe a API HTTP do jogo de dados
type Server struct {
	log     *zap.Logger
	svc     Settler
	keys    *auth.KeyStore
	results Results
}

// NewServer instancia o servidor; results pode ser nil
func NewServer(log *zap.Logger, svc Settler, keys *auth.KeyStore, results Results) *Server {
	return &Server{log: log, svc: svc, keys: keys, results: results}
}

// Router retorna o mux HTTP com as rotas da API
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /bets", s.authed(s.placeBet))
	mux.HandleFunc("POST /bets/{id}/resolve", s.authed(s.resolveBet))
	mux.HandleFunc("GET /bets/{id}", s.getBet)
	mux.HandleFunc("GET /bets", s.listBets) // ?player=...
	mux.HandleFunc("GET /results/{id}", s.getResult)
	mux.HandleFunc("GET /results", s.recentResults) // ?player=...
	mux.HandleFunc("GET /pool/{code}", s.getPool)   // ?precision=2
	mux.HandleFunc("POST /accounts/issue", s.authed(s.issue))
	mux.HandleFunc("GET /accounts/{account}/balance", s.getBalance) // ?code=USD&precision=2
	mux.HandleFunc("POST /seeds/hash", s.hashSeed)
	return mux
}

// authed resolve X-Account/X-Api-Key na identidade do chamador
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.keys.Authenticate(r.Header.Get("X-Account"), r.Header.Get("X-Api-Key"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		next(w, r.WithContext(auth.WithCaller(r.Context(), caller)))
	}
}

// placeBet registra uma nova aposta
func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	var req dto.PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Player == "" || req.Quantity == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	bet, err := s.svc.Place(r.Context(), settlement.PlaceRequest{
		Player:       req.Player,
		Quantity:     req.Quantity,
		RollUnder:    req.RollUnder,
		SeedHash:     req.SeedHash,
		UserSeedHash: req.UserSeedHash,
		PaySysCms:    req.PaySysCms,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, dto.NewBetResponse(bet))
}

// resolveBet revela a semente e liquida a aposta
func (s *Server) resolveBet(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	var req dto.ResolveBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	res, err := s.svc.Resolve(r.Context(), settlement.ResolveRequest{Account: req.Account, BetID: id, Seed: req.Seed})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, dto.NewResultResponse(res))
}

func (s *Server) getBet(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	bet, err := s.svc.Bet(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, dto.NewBetResponse(bet))
}

func (s *Server) listBets(w http.ResponseWriter, r *http.Request) {
	player := r.URL.Query().Get("player")
	if player == "" {
		http.Error(w, "player required", http.StatusBadRequest)
		return
	}
	list, err := s.svc.BetsByPlayer(r.Context(), player)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]dto.BetResponse, 0, len(list))
	for _, b := range list {
		out = append(out, dto.NewBetResponse(b))
	}
	writeJSON(w, out)
}

// getResult busca o resultado de uma aposta já removida do ledger
func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	if s.results == nil {
		http.Error(w, "results unavailable", http.StatusNotFound)
		return
	}
	var out json.RawMessage
	found, err := s.results.GetResult(r.Context(), id, &out)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

func (s *Server) recentResults(w http.ResponseWriter, r *http.Request) {
	player := r.URL.Query().Get("player")
	if player == "" {
		http.Error(w, "player required", http.StatusBadRequest)
		return
	}
	if s.results == nil {
		http.Error(w, "results unavailable", http.StatusNotFound)
		return
	}
	ids, err := s.results.RecentResults(r.Context(), player)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, dto.RecentResultsResponse{Player: player, BetIDs: ids})
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	sym, ok := symbol(w, r, r.PathValue("code"))
	if !ok {
		return
	}
	st, err := s.svc.Pool(r.Context(), sym)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, dto.PoolResponse{
		Symbol:    sym.String(),
		Balance:   st.Balance.String(),
		Locked:    st.Locked.String(),
		Available: st.Available.String(),
	})
}

// issue credita tokens numa conta (chamador precisa ser o emissor)
func (s *Server) issue(w http.ResponseWriter, r *http.Request) {
	var req dto.IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.To == "" || req.Quantity == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	bal, err := s.svc.Issue(r.Context(), req.To, req.Quantity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, dto.BalanceResponse{Account: req.To, Balance: bal.String()})
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	sym, ok := symbol(w, r, r.URL.Query().Get("code"))
	if !ok {
		return
	}
	bal, err := s.svc.Balance(r.Context(), account, sym)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, dto.BalanceResponse{Account: account, Balance: bal.String()})
}

// hashSeed retorna sha256(seed); para uma semente hex é o compromisso da aposta
func (s *Server) hashSeed(w http.ResponseWriter, r *http.Request) {
	var req dto.HashSeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	writeJSON(w, dto.HashSeedResponse{Hash: dice.Sha256(req.Seed).Hex()})
}

// writeError mapeia a taxonomia de erros do jogo em status HTTP
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case dice.IsInternal(err):
		s.log.Error("internal invariant failure", zap.Error(err))
	case errors.Is(err, dice.ErrInvalidAsset), errors.Is(err, dice.ErrRange):
		status = http.StatusBadRequest
	case errors.Is(err, dice.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, dice.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dice.ErrInsufficientPool), errors.Is(err, dice.ErrInsufficientFunds),
		errors.Is(err, dice.ErrDuplicateID), errors.Is(err, dice.ErrSeedMismatch):
		status = http.StatusConflict
	default:
		s.log.Error("request failed", zap.Error(err))
	}
	writeJSONStatus(w, status, dto.ErrorResponse{Error: err.Error()})
}

func betID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid bet id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func symbol(w http.ResponseWriter, r *http.Request, code string) (dice.Symbol, bool) {
	precision, err := strconv.ParseUint(r.URL.Query().Get("precision"), 10, 8)
	if err != nil {
		http.Error(w, "precision required", http.StatusBadRequest)
		return dice.Symbol{}, false
	}
	sym, err := dice.NewSymbol(code, uint8(precision))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return dice.Symbol{}, false
	}
	return sym, true
}

// writeJSON serializa e envia resposta JSON
func writeJSON(w http.ResponseWriter, v any) { writeJSONStatus(w, http.StatusOK, v) }

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
