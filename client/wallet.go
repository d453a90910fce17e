package client

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/collection"
	"NFTForge/internal/stateinit"
	"NFTForge/internal/wallet"
)

// Wallet signs transfers for a wallet account held by a remote node.
type Wallet struct {
	client *Client
	key    ed25519.PrivateKey
	addr   *address.Address
	mu     sync.Mutex // mu serializes seqno use
}

// NewWallet controls the wallet of key.
func NewWallet(c *Client, key ed25519.PrivateKey) (*Wallet, error) {
	addr, err := wallet.Address(key.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}

	return &Wallet{client: c, key: key, addr: addr}, nil
}

// Treasury controls the named treasury of the node. The node must have created it.
func Treasury(c *Client, name string) (*Wallet, error) {
	return NewWallet(c, wallet.KeyFromName(name))
}

// Address returns the wallet address.
func (w *Wallet) Address() *address.Address {
	return w.addr
}

// Seqno reads the next expected sequence number.
func (w *Wallet) Seqno(ctx context.Context) (uint32, error) {
	data, err := w.client.AccountData(ctx, w.addr)
	if err != nil {
		return 0, fmt.Errorf("read wallet:\n%w", err)
	}

	d, err := wallet.LoadData(data)
	if err != nil {
		return 0, err
	}

	return d.Seqno, nil
}

// Send relays one internal message through the wallet.
func (w *Wallet) Send(ctx context.Context, to *address.Address, value uint64, body *cell.Cell, init *stateinit.StateInit) ([]TxInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	seqno, err := w.Seqno(ctx)
	if err != nil {
		return nil, err
	}

	ext, err := wallet.SignTransfer(w.key, seqno, wallet.Transfer{To: to, Value: value, Body: body, Init: init})
	if err != nil {
		return nil, fmt.Errorf("sign transfer:\n%w", err)
	}

	return w.client.SendExternal(ctx, w.addr, ext)
}

// DeployCollection deploys a collection owned by cfg.Owner with value as its balance.
func (w *Wallet) DeployCollection(ctx context.Context, cfg collection.Config, value uint64) (*address.Address, []TxInfo, error) {
	init, addr, err := collection.NewFromConfig(cfg, collection.Code())
	if err != nil {
		return nil, nil, err
	}

	txs, err := w.Send(ctx, addr, value, nil, &init)
	if err != nil {
		return nil, nil, err
	}

	return addr, txs, nil
}

// Mint asks coll to deploy one item. fee must cover item.Amount.
func (w *Wallet) Mint(ctx context.Context, coll *address.Address, queryID uint64, item collection.ItemSpec, fee uint64) ([]TxInfo, error) {
	return w.Send(ctx, coll, fee, collection.MintBody(queryID, item), nil)
}

// BatchMint asks coll to deploy items in order.
func (w *Wallet) BatchMint(ctx context.Context, coll *address.Address, queryID uint64, items []collection.ItemSpec, fee uint64) ([]TxInfo, error) {
	body, err := collection.BatchMintBody(queryID, items)
	if err != nil {
		return nil, err
	}

	return w.Send(ctx, coll, fee, body, nil)
}

// ChangeOwner transfers collection ownership.
func (w *Wallet) ChangeOwner(ctx context.Context, coll *address.Address, queryID uint64, owner *address.Address, fee uint64) ([]TxInfo, error) {
	return w.Send(ctx, coll, fee, collection.ChangeOwnerBody(queryID, owner), nil)
}

// EditContent replaces collection content and royalty params.
func (w *Wallet) EditContent(ctx context.Context, coll *address.Address, queryID uint64, collectionContent, commonContent []byte, royalty collection.RoyaltyParams, fee uint64) ([]TxInfo, error) {
	return w.Send(ctx, coll, fee, collection.EditContentBody(queryID, collectionContent, commonContent, royalty), nil)
}
