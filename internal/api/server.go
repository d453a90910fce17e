// Package api serves the ledger and its collections over HTTP.
package api

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/chain"
	"NFTForge/internal/collection"
	"NFTForge/internal/indexdb"
	"NFTForge/internal/logger"
	"NFTForge/internal/stateinit"
)

const (
	// maxBodySize is the maximum request body size in bytes.
	maxBodySize = 1 << 20

	defaultTxLimit = 50
)

// Ledger is the chain surface the API reads and writes.
type Ledger interface {
	AccountData(ctx context.Context, addr *address.Address) (*cell.Cell, error)
	Account(ctx context.Context, addr *address.Address) (*chain.Account, error)
	SendExternal(ctx context.Context, to *address.Address, body *cell.Cell) ([]*chain.Transaction, error)
	Transaction(hash [32]byte) (*chain.Transaction, error)
	LT() uint64
}

// TxIndex answers per-account transaction history.
type TxIndex interface {
	Transactions(ctx context.Context, account string, limit int) ([]indexdb.Row, error)
}

// Server is the HTTP API server.
type Server struct {
	addr   string       // addr is the HTTP listen address
	ledger Ledger       // ledger serves state and accepts messages
	index  TxIndex      // index is optional; history routes answer 503 without it
	feed   *Feed        // feed streams committed transactions to websocket clients
	server *http.Server // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, ledger Ledger, index TxIndex, feed *Feed) *Server {
	if feed == nil {
		feed = NewFeed()
	}

	return &Server{
		addr:   addr,
		ledger: ledger,
		index:  index,
		feed:   feed,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /collections/{addr}", s.handleCollection)
	mux.HandleFunc("GET /collections/{addr}/royalty", s.handleRoyalty)
	mux.HandleFunc("GET /collections/{addr}/items/{index}/address", s.handleItemAddress)
	mux.HandleFunc("POST /collections/{addr}/items/{index}/content", s.handleItemContent)
	mux.HandleFunc("GET /accounts/{addr}", s.handleAccount)
	mux.HandleFunc("GET /accounts/{addr}/transactions", s.handleAccountTransactions)
	mux.HandleFunc("GET /transactions/{hash}", s.handleTransaction)
	mux.HandleFunc("POST /messages", s.handleSubmitMessage)
	mux.HandleFunc("GET /ws", s.feed.ServeHTTP)

	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server and the feed.
func (s *Server) Stop() error {
	s.feed.Close()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"lt":     s.ledger.LT(),
	})
}

// collectionClient resolves the {addr} path value.
func (s *Server) collectionClient(w http.ResponseWriter, r *http.Request) (*collection.Client, bool) {
	addr, ok := pathAddr(w, r)
	if !ok {
		return nil, false
	}

	return collection.NewClient(addr, s.ledger), true
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collectionClient(w, r)
	if !ok {
		return
	}

	data, err := c.GetCollectionData(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, collectionView{
		Address:       stateinit.Raw(c.Address()),
		NextItemIndex: data.NextItemIndex,
		Content:       data.Content,
		Owner:         stateinit.Raw(data.Owner),
	})
}

func (s *Server) handleRoyalty(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collectionClient(w, r)
	if !ok {
		return
	}

	params, err := c.GetRoyaltyParams(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, royaltyView{
		Factor:  params.Factor,
		Base:    params.Base,
		Address: stateinit.Raw(params.Address),
	})
}

func (s *Server) handleItemAddress(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collectionClient(w, r)
	if !ok {
		return
	}

	index, ok := pathIndex(w, r)
	if !ok {
		return
	}

	addr, err := c.GetNftAddressByIndex(r.Context(), index)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"index":   index,
		"address": stateinit.Raw(addr),
	})
}

// handleItemContent joins the collection common content with the individual
// content posted as the raw request body. The result is base64 in the reply.
func (s *Server) handleItemContent(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collectionClient(w, r)
	if !ok {
		return
	}

	index, ok := pathIndex(w, r)
	if !ok {
		return
	}

	individual, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	content, err := c.GetNftContent(r.Context(), index, individual)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"index":   index,
		"content": content,
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddr(w, r)
	if !ok {
		return
	}

	acc, err := s.ledger.Account(r.Context(), addr)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, accountView{
		Address:  stateinit.Raw(acc.Address),
		Balance:  acc.Balance,
		LastLT:   acc.LastLT,
		CodeHash: hex.EncodeToString(acc.Code.Hash()),
		DataHash: hex.EncodeToString(acc.Data.Hash()),
		Data:     base64.StdEncoding.EncodeToString(acc.Data.ToBOC()),
	})
}

func (s *Server) handleAccountTransactions(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, "transaction index not available")
		return
	}

	addr, ok := pathAddr(w, r)
	if !ok {
		return
	}

	limit := defaultTxLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > indexdb.MaxRows {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	rows, err := s.index.Transactions(r.Context(), stateinit.Raw(addr), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if rows == nil {
		rows = []indexdb.Row{}
	}

	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	raw, err := hex.DecodeString(r.PathValue("hash"))
	if err != nil || len(raw) != 32 {
		writeError(w, http.StatusBadRequest, "invalid transaction hash")
		return
	}

	tx, err := s.ledger.Transaction([32]byte(raw))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newTxView(tx))
}

// handleSubmitMessage delivers a signed external message and returns the
// transactions it caused, in processing order.
func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	to, body, err := parseMessageRequest(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	txs, err := s.ledger.SendExternal(r.Context(), to, body)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	views := make([]txView, len(txs))
	for i, tx := range txs {
		views[i] = newTxView(tx)
	}

	logger.Debug("external delivered", "to", stateinit.Raw(to), "txs", len(txs))

	writeJSON(w, http.StatusOK, views)
}

func pathAddr(w http.ResponseWriter, r *http.Request) (*address.Address, bool) {
	addr, err := stateinit.Parse(r.PathValue("addr"))
	if err != nil || !stateinit.IsStd(addr) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return nil, false
	}

	return addr, true
}

func pathIndex(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	index, err := strconv.ParseUint(r.PathValue("index"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item index")
		return 0, false
	}

	return index, true
}

// writeLedgerError maps ledger errors to status codes.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chain.ErrAccountNotFound), errors.Is(err, chain.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chain.ErrInvalidDestination), errors.Is(err, chain.ErrCascadeLimit):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
