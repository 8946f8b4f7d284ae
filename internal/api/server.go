// Package api exposes the ledger and the token sale over HTTP.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"solana-token-sale/internal/ledger"
	"solana-token-sale/internal/observability"
	"solana-token-sale/internal/solana"
	"solana-token-sale/internal/storage"
	"solana-token-sale/internal/tokensale"
)

const maxBodyBytes = 1 << 20

// Config wires the server's dependencies.
type Config struct {
	Runtime *ledger.Runtime
	Program *tokensale.Program
	Events  storage.SaleEventStore
	Hub     *Hub
	Logger  *zap.Logger
	Metrics bool
}

// Server serves the HTTP API.
type Server struct {
	runtime *ledger.Runtime
	program *tokensale.Program
	reader  *tokensale.Reader
	events  storage.SaleEventStore
	hub     *Hub
	logger  *zap.Logger
	metrics bool
	started time.Time
}

// NewServer creates a Server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub(logger)
	}
	return &Server{
		runtime: cfg.Runtime,
		program: cfg.Program,
		reader:  tokensale.NewReader(cfg.Runtime.Store(), cfg.Program),
		events:  cfg.Events,
		hub:     hub,
		logger:  logger,
		metrics: cfg.Metrics,
		started: time.Now(),
	}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", s.handleStatus)
	if s.metrics {
		r.Handle("/metrics", observability.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/transactions", s.handleSubmit)
		r.Post("/airdrop", s.handleAirdrop)
		r.Get("/accounts/{address}", s.handleAccount)
		r.Get("/events", s.handleEventsByTime)
		r.Get("/sales", s.handleSales)
		r.Get("/sales/{seller}", s.handleSale)
		r.Get("/sales/{seller}/whitelist/{buyer}", s.handleWhitelist)
		r.Get("/sales/{seller}/events", s.handleSaleEvents)
		r.Get("/ws", s.hub.ServeHTTP)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// StatusResponse is the JSON response of /status.
type StatusResponse struct {
	Status      string         `json:"status"`
	Uptime      string         `json:"uptime"`
	Slot        uint64         `json:"slot"`
	ProgramID   solana.Address `json:"program_id"`
	Subscribers int            `json:"subscribers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:      "running",
		Uptime:      time.Since(s.started).Truncate(time.Second).String(),
		Slot:        s.runtime.Slot(),
		ProgramID:   s.program.ID(),
		Subscribers: s.hub.Subscribers(),
	})
}

// SubmitRequest carries a signed transaction in its binary encoding.
type SubmitRequest struct {
	Transaction []byte `json:"transaction"`
}

// ErrorBody describes a failure in API responses.
type ErrorBody struct {
	Message     string               `json:"message"`
	Class       tokensale.ErrorClass `json:"class,omitempty"`
	Program     string               `json:"program,omitempty"`
	Code        *uint32              `json:"code,omitempty"`
	Name        string               `json:"name,omitempty"`
	Account     string               `json:"account,omitempty"`
	Instruction *int                 `json:"instruction,omitempty"`
}

// ReceiptResponse is the outcome of a submitted transaction.
type ReceiptResponse struct {
	*ledger.Receipt
	Error *ErrorBody `json:"error,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	tx, err := decodeTransaction(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	receipt, err := s.runtime.Execute(r.Context(), tx)
	resp := ReceiptResponse{Receipt: receipt}
	if err != nil {
		resp.Error = describe(err)
	}
	writeJSON(w, submitStatus(err), resp)
}

// decodeTransaction accepts either a raw binary body or a JSON SubmitRequest.
func decodeTransaction(r *http.Request) (*ledger.Transaction, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	raw := body
	if r.Header.Get("Content-Type") != "application/octet-stream" {
		var req SubmitRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, errors.Wrap(err, "decode request")
		}
		raw = req.Transaction
	}
	if len(raw) == 0 {
		return nil, errors.New("transaction is empty")
	}
	var tx ledger.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, errors.Wrap(err, "decode transaction")
	}
	return &tx, nil
}

func submitStatus(err error) int {
	var ixErr *ledger.InstructionError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ixErr), errors.Is(err, ledger.ErrInsufficientFundsForRent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrSignatureVerification),
		errors.Is(err, ledger.ErrMissingSignatures),
		errors.Is(err, ledger.ErrEmptyTransaction),
		errors.Is(err, ledger.ErrTooManyAccounts):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrAlreadyProcessed), errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrLockTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func describe(err error) *ErrorBody {
	body := &ErrorBody{Message: err.Error(), Class: tokensale.Classify(err)}
	var ixErr *ledger.InstructionError
	if errors.As(err, &ixErr) {
		index := ixErr.Index
		body.Instruction = &index
	}
	if pe, ok := ledger.AsProgramError(err); ok {
		code := pe.Code
		body.Program = pe.Program
		body.Code = &code
		body.Name = pe.Name
	}
	var ae *tokensale.AccountError
	if errors.As(err, &ae) {
		body.Account = ae.Account
	}
	return body
}

// AirdropRequest asks the faucet for lamports.
type AirdropRequest struct {
	Address  solana.Address `json:"address"`
	Lamports uint64         `json:"lamports"`
}

func (s *Server) handleAirdrop(w http.ResponseWriter, r *http.Request) {
	var req AirdropRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode request"))
		return
	}

	receipt, err := s.runtime.Airdrop(r.Context(), req.Address, req.Lamports)
	switch {
	case errors.Is(err, ledger.ErrFaucetDisabled):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, ledger.ErrFaucetLimit):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		s.logger.Error("airdrop failed", zap.Stringer("address", req.Address), zap.Error(err))
		writeError(w, submitStatus(err), err)
	default:
		writeJSON(w, http.StatusOK, ReceiptResponse{Receipt: receipt})
	}
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	acc, err := s.runtime.Store().Get(r.Context(), addr)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleSales(w http.ResponseWriter, r *http.Request) {
	sales, err := s.reader.Sales(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	if sales == nil {
		sales = []*tokensale.SaleView{}
	}
	writeJSON(w, http.StatusOK, sales)
}

func (s *Server) handleSale(w http.ResponseWriter, r *http.Request) {
	seller, ok := pathAddress(w, r, "seller")
	if !ok {
		return
	}
	view, err := s.reader.Sale(r.Context(), seller)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// WhitelistResponse reports whether a buyer may purchase from a sale.
type WhitelistResponse struct {
	Seller      solana.Address `json:"seller"`
	Buyer       solana.Address `json:"buyer"`
	Whitelisted bool           `json:"whitelisted"`
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	seller, ok := pathAddress(w, r, "seller")
	if !ok {
		return
	}
	buyer, ok := pathAddress(w, r, "buyer")
	if !ok {
		return
	}
	listed, err := s.reader.IsWhitelisted(r.Context(), seller, buyer)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WhitelistResponse{Seller: seller, Buyer: buyer, Whitelisted: listed})
}

func (s *Server) handleSaleEvents(w http.ResponseWriter, r *http.Request) {
	seller, ok := pathAddress(w, r, "seller")
	if !ok {
		return
	}
	sale, _, err := s.program.SaleAddress(seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	events, err := s.events.GetBySale(r.Context(), sale)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleEventsByTime lists events with timestamps in [from, to], both Unix
// milliseconds. to defaults to now.
func (s *Server) handleEventsByTime(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := strconv.ParseInt(q.Get("from"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "from"))
		return
	}
	to := time.Now().UnixMilli()
	if raw := q.Get("to"); raw != "" {
		if to, err = strconv.ParseInt(raw, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrap(err, "to"))
			return
		}
	}
	if to < from {
		writeError(w, http.StatusBadRequest, errors.New("to is before from"))
		return
	}
	events, err := s.events.GetByTimeRange(r.Context(), from, to)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	s.logger.Error("store query failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err)
}

func pathAddress(w http.ResponseWriter, r *http.Request, param string) (solana.Address, bool) {
	addr, err := solana.ParseAddress(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, param))
		return solana.Address{}, false
	}
	return addr, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, struct {
		Error *ErrorBody `json:"error"`
	}{Error: &ErrorBody{Message: err.Error()}})
}
