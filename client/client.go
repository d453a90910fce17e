// Package client talks to an NFTForge node over its HTTP API and QUIC relay.
package client

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/chain"
	"NFTForge/internal/collection"
	"NFTForge/internal/network"
	"NFTForge/internal/stateinit"
)

// Client connects to a node. Reads go over HTTP; external messages use the
// relay when one is attached.
type Client struct {
	baseURL string        // baseURL is the HTTP API root (e.g. "http://127.0.0.1:8080")
	http    *http.Client  // http carries API requests
	relay   *network.Conn // relay is optional
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithRelay submits external messages over an established relay connection.
func WithRelay(conn *network.Conn) Option {
	return func(c *Client) {
		c.relay = conn
	}
}

// New creates a client for the node at nodeAddr, given as host:port or URL.
func New(nodeAddr string, opts ...Option) *Client {
	base := strings.TrimRight(nodeAddr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	c := &Client{
		baseURL: base,
		http:    &http.Client{Timeout: 30 * time.Second},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CollectionInfo is the collection summary served by the node.
type CollectionInfo struct {
	Address       string `json:"address"`
	NextItemIndex uint64 `json:"next_item_index"`
	Content       []byte `json:"content"`
	Owner         string `json:"owner"`
}

// RoyaltyInfo is the royalty split of a collection.
type RoyaltyInfo struct {
	Factor  uint16 `json:"factor"`
	Base    uint16 `json:"base"`
	Address string `json:"address"`
}

// AccountInfo is the account summary served by the node.
type AccountInfo struct {
	Address  string `json:"address"`
	Balance  uint64 `json:"balance"`
	LastLT   uint64 `json:"last_lt"`
	CodeHash string `json:"code_hash"`
	DataHash string `json:"data_hash"`
	Data     string `json:"data"`
}

// OutInfo is one outbound message of a transaction.
type OutInfo struct {
	To     string `json:"to"`
	Value  uint64 `json:"value"`
	Deploy bool   `json:"deploy"`
}

// TxInfo is a transaction as reported by the node.
type TxInfo struct {
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
	Out         []OutInfo `json:"out"`
	Attestation string    `json:"attestation,omitempty"`
}

// txInfo converts a relay transaction into the API shape.
func txInfo(tx *chain.Transaction) TxInfo {
	info := TxInfo{
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
		Out:         make([]OutInfo, len(tx.Out)),
		Attestation: hex.EncodeToString(tx.Attestation),
	}

	if op, ok := tx.Op(); ok {
		info.Op = &op
	}

	for i, m := range tx.Out {
		info.Out[i] = OutInfo{To: stateinit.Raw(m.To), Value: m.Value, Deploy: m.Init != nil}
	}

	return info
}

func pathAddr(a *address.Address) string {
	return url.PathEscape(stateinit.Raw(a))
}

// Health returns the node's current logical time.
func (c *Client) Health(ctx context.Context) (uint64, error) {
	var resp struct {
		Status string `json:"status"`
		LT     uint64 `json:"lt"`
	}

	if err := c.httpGet(ctx, "/health", &resp); err != nil {
		return 0, err
	}

	if resp.Status != "ok" {
		return 0, fmt.Errorf("node status %q", resp.Status)
	}

	return resp.LT, nil
}

// CollectionData returns the next index, content and owner of a collection.
func (c *Client) CollectionData(ctx context.Context, coll *address.Address) (CollectionInfo, error) {
	var info CollectionInfo
	err := c.httpGet(ctx, "/collections/"+pathAddr(coll), &info)

	return info, err
}

// RoyaltyParams returns the royalty split of a collection.
func (c *Client) RoyaltyParams(ctx context.Context, coll *address.Address) (RoyaltyInfo, error) {
	var info RoyaltyInfo
	err := c.httpGet(ctx, "/collections/"+pathAddr(coll)+"/royalty", &info)

	return info, err
}

// ItemAddress returns the address of item index in a collection.
func (c *Client) ItemAddress(ctx context.Context, coll *address.Address, index uint64) (*address.Address, error) {
	var resp struct {
		Address string `json:"address"`
	}

	path := "/collections/" + pathAddr(coll) + "/items/" + strconv.FormatUint(index, 10) + "/address"
	if err := c.httpGet(ctx, path, &resp); err != nil {
		return nil, err
	}

	return stateinit.Parse(resp.Address)
}

// ItemContent returns the full content of an item given its individual content.
func (c *Client) ItemContent(ctx context.Context, coll *address.Address, index uint64, individual []byte) ([]byte, error) {
	var resp struct {
		Content []byte `json:"content"`
	}

	path := "/collections/" + pathAddr(coll) + "/items/" + strconv.FormatUint(index, 10) + "/content"
	if err := c.httpPost(ctx, path, "application/octet-stream", individual, &resp); err != nil {
		return nil, err
	}

	return resp.Content, nil
}

// Account returns the account summary at addr.
func (c *Client) Account(ctx context.Context, addr *address.Address) (AccountInfo, error) {
	var info AccountInfo
	err := c.httpGet(ctx, "/accounts/"+pathAddr(addr), &info)

	return info, err
}

// AccountData returns the persistent data of an account, so a Client can back
// a collection.Client.
func (c *Client) AccountData(ctx context.Context, addr *address.Address) (*cell.Cell, error) {
	if c.relay != nil {
		return c.relay.AccountData(ctx, addr)
	}

	info, err := c.Account(ctx, addr)
	if err != nil {
		return nil, err
	}

	boc, err := base64.StdEncoding.DecodeString(info.Data)
	if err != nil {
		return nil, fmt.Errorf("decode account data: %w", err)
	}

	return cell.FromBOC(boc)
}

// Collection returns a getter client for coll backed by this node.
func (c *Client) Collection(coll *address.Address) *collection.Client {
	return collection.NewClient(coll, c)
}

// Transactions returns the latest transactions of an account, newest first.
func (c *Client) Transactions(ctx context.Context, account *address.Address, limit int) ([]TxInfo, error) {
	var rows []TxInfo
	err := c.httpGet(ctx, fmt.Sprintf("/accounts/%s/transactions?limit=%d", pathAddr(account), limit), &rows)

	return rows, err
}

// Transaction looks up a committed transaction by hex hash.
func (c *Client) Transaction(ctx context.Context, hash string) (TxInfo, error) {
	var tx TxInfo
	err := c.httpGet(ctx, "/transactions/"+url.PathEscape(hash), &tx)

	return tx, err
}

// SendExternal delivers a signed external message and returns the
// transactions it caused, in processing order.
func (c *Client) SendExternal(ctx context.Context, to *address.Address, body *cell.Cell) ([]TxInfo, error) {
	if c.relay != nil {
		txs, err := c.relay.SendExternal(ctx, to, body)
		if err != nil {
			return nil, fmt.Errorf("relay external:\n%w", err)
		}

		out := make([]TxInfo, len(txs))
		for i, tx := range txs {
			out[i] = txInfo(tx)
		}

		return out, nil
	}

	req := map[string]string{
		"to":   stateinit.Raw(to),
		"body": base64.StdEncoding.EncodeToString(body.ToBOC()),
	}

	var txs []TxInfo
	if err := c.httpPostJSON(ctx, "/messages", req, &txs); err != nil {
		return nil, fmt.Errorf("post external:\n%w", err)
	}

	return txs, nil
}
