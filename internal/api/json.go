package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"NFTForge/internal/chain"
	"NFTForge/internal/stateinit"
)

type collectionView struct {
	Address       string `json:"address"`
	NextItemIndex uint64 `json:"next_item_index"`
	Content       []byte `json:"content"` // Content is base64 so binary layouts survive
	Owner         string `json:"owner"`
}

type royaltyView struct {
	Factor  uint16 `json:"factor"`
	Base    uint16 `json:"base"`
	Address string `json:"address"`
}

type accountView struct {
	Address  string `json:"address"`
	Balance  uint64 `json:"balance"`
	LastLT   uint64 `json:"last_lt"`
	CodeHash string `json:"code_hash"`
	DataHash string `json:"data_hash"`
	Data     string `json:"data"` // Data is the base64 BOC of the account data
}

type outView struct {
	To     string `json:"to"`
	Value  uint64 `json:"value"`
	Deploy bool   `json:"deploy"`
}

// txView is the JSON form of a transaction, shared by the REST routes and the feed.
type txView struct {
	Hash        string    `json:"hash"`
	LT          uint64    `json:"lt"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Value       uint64    `json:"value"`
	Op          *uint32   `json:"op,omitempty"`
	External    bool      `json:"external"`
	Deploy      bool      `json:"deploy"`
	Success     bool      `json:"success"`
	Aborted     bool      `json:"aborted"`
	ExitCode    int32     `json:"exit_code"`
	Out         []outView `json:"out"`
	Attestation string    `json:"attestation,omitempty"`
}

func newTxView(tx *chain.Transaction) txView {
	v := txView{
		Hash:        hex.EncodeToString(tx.Hash[:]),
		LT:          tx.LT,
		From:        stateinit.Raw(tx.From),
		To:          stateinit.Raw(tx.To),
		Value:       tx.Value,
		External:    tx.External,
		Deploy:      tx.Deploy,
		Success:     tx.Success,
		Aborted:     tx.Aborted,
		ExitCode:    tx.ExitCode,
		Out:         make([]outView, len(tx.Out)),
		Attestation: hex.EncodeToString(tx.Attestation),
	}

	if op, ok := tx.Op(); ok {
		v.Op = &op
	}

	for i, m := range tx.Out {
		v.Out[i] = outView{To: stateinit.Raw(m.To), Value: m.Value, Deploy: m.Init != nil}
	}

	return v
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
