package chain

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/stateinit"
	"NFTForge/internal/wallet"
)

// TreasuryBalance is the starting balance of a treasury: one million coins.
const TreasuryBalance uint64 = 1_000_000 * 1_000_000_000

// Treasury is a funded wallet identified by name.
type Treasury struct {
	chain *Chain
	name  string
	key   ed25519.PrivateKey
	addr  *address.Address
	mu    sync.Mutex // mu serializes seqno use
}

// Treasury returns the wallet named name, creating it funded on first use.
// Every call with the same name returns the same handle.
func (c *Chain) Treasury(name string) (*Treasury, error) {
	c.treasuryMu.Lock()
	defer c.treasuryMu.Unlock()

	if t, ok := c.treasuries[name]; ok {
		return t, nil
	}

	key := wallet.KeyFromName(name)

	addr, err := c.Deploy(wallet.StateInit(key.Public().(ed25519.PublicKey)), TreasuryBalance)
	if err != nil {
		return nil, fmt.Errorf("deploy treasury %q:\n%w", name, err)
	}

	t := &Treasury{chain: c, name: name, key: key, addr: addr}
	c.treasuries[name] = t

	return t, nil
}

// Address returns the treasury wallet address.
func (t *Treasury) Address() *address.Address {
	return t.addr
}

// Name returns the treasury name.
func (t *Treasury) Name() string {
	return t.name
}

// Balance returns the current wallet balance.
func (t *Treasury) Balance(ctx context.Context) (uint64, error) {
	acc, err := t.chain.Account(ctx, t.addr)
	if err != nil {
		return 0, err
	}

	return acc.Balance, nil
}

// Send signs a transfer and delivers it through the wallet. The returned
// transactions start with the wallet's own external transaction.
func (t *Treasury) Send(ctx context.Context, to *address.Address, value uint64, body *cell.Cell, init *stateinit.StateInit) ([]*Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := t.chain.AccountData(ctx, t.addr)
	if err != nil {
		return nil, err
	}

	d, err := wallet.LoadData(data)
	if err != nil {
		return nil, err
	}

	ext, err := wallet.SignTransfer(t.key, d.Seqno, wallet.Transfer{To: to, Value: value, Body: body, Init: init})
	if err != nil {
		return nil, err
	}

	return t.chain.SendExternal(ctx, t.addr, ext)
}
