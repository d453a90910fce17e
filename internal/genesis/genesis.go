// Package genesis publishes the collections of a manifest on a fresh ledger.
package genesis

import (
	"context"
	"errors"
	"fmt"

	"github.com/xssnick/tonutils-go/address"

	"NFTForge/internal/chain"
	"NFTForge/internal/collection"
	"NFTForge/internal/item"
	"NFTForge/internal/logger"
	"NFTForge/internal/stateinit"
)

const (
	// DeployerTreasury is the treasury that pays for genesis deployments.
	DeployerTreasury = "deployer"

	coin = 1_000_000_000

	defaultBalance    = coin
	defaultItemAmount = coin / 20
	mintFeePerItem    = coin / 100
)

// Deployed reports one published collection.
type Deployed struct {
	Name    string
	Address *address.Address
	Items   int  // Items is the number of items minted at genesis
	Existed bool // Existed is set when the collection was already deployed
}

// Deploy publishes every collection of m through the deployer treasury.
// It is idempotent: collections already on the ledger are left untouched.
func Deploy(ctx context.Context, c *chain.Chain, m Manifest) ([]Deployed, error) {
	deployer, err := c.Treasury(DeployerTreasury)
	if err != nil {
		return nil, fmt.Errorf("deployer treasury:\n%w", err)
	}

	out := make([]Deployed, 0, len(m.Collections))

	for _, spec := range m.Collections {
		d, err := deployCollection(ctx, c, deployer, spec)
		if err != nil {
			return out, fmt.Errorf("collection %q:\n%w", spec.Name, err)
		}

		logger.Info("genesis collection",
			"name", d.Name,
			"address", stateinit.Raw(d.Address),
			"items", d.Items,
			"existed", d.Existed,
		)

		out = append(out, d)
	}

	return out, nil
}

// deployCollection deploys spec owned by the deployer, mints its items, then
// hands ownership to the final owner.
func deployCollection(ctx context.Context, c *chain.Chain, deployer *chain.Treasury, spec CollectionSpec) (Deployed, error) {
	owner, err := resolve(spec.Owner, deployer.Address())
	if err != nil {
		return Deployed{}, err
	}

	royaltyAddr, err := resolve(spec.Royalty.Address, owner)
	if err != nil {
		return Deployed{}, err
	}

	cfg := collection.Config{
		Owner:             deployer.Address(),
		NextItemIndex:     spec.NextItemIndex,
		CollectionContent: []byte(spec.CollectionContent),
		CommonContent:     []byte(spec.CommonContent),
		ItemCode:          item.Code(),
		Royalty:           collection.RoyaltyParams{Factor: spec.Royalty.Factor, Base: spec.Royalty.Base, Address: royaltyAddr},
	}

	init, addr, err := collection.NewFromConfig(cfg, collection.Code())
	if err != nil {
		return Deployed{}, err
	}

	d := Deployed{Name: spec.Name, Address: addr}

	if _, err := c.Account(ctx, addr); err == nil {
		d.Existed = true
		return d, nil
	} else if !errors.Is(err, chain.ErrAccountNotFound) {
		return d, err
	}

	balance := uint64(spec.Balance)
	if balance == 0 {
		balance = defaultBalance
	}

	txs, err := deployer.Send(ctx, addr, balance, nil, &init)
	if err != nil {
		return d, err
	}

	if !chain.HasTransaction(txs, chain.Match{To: addr, Deploy: chain.Bool(true), Success: chain.Bool(true)}) {
		return d, fmt.Errorf("deployment of %s failed", stateinit.Raw(addr))
	}

	if len(spec.Items) > 0 {
		if err := mintItems(ctx, deployer, addr, spec, owner); err != nil {
			return d, err
		}
		d.Items = len(spec.Items)
	}

	if !stateinit.Equal(owner, deployer.Address()) {
		txs, err := deployer.Send(ctx, addr, coin/100, collection.ChangeOwnerBody(0, owner), nil)
		if err != nil {
			return d, err
		}

		if !chain.HasTransaction(txs, chain.Match{To: addr, Op: chain.Op(collection.OpChangeOwner), Success: chain.Bool(true)}) {
			return d, fmt.Errorf("ownership transfer to %s failed", stateinit.Raw(owner))
		}
	}

	return d, nil
}

func mintItems(ctx context.Context, deployer *chain.Treasury, coll *address.Address, spec CollectionSpec, owner *address.Address) error {
	items := make([]collection.ItemSpec, len(spec.Items))

	var fee uint64

	for i, it := range spec.Items {
		itemOwner, err := resolve(it.Owner, owner)
		if err != nil {
			return err
		}

		amount := uint64(it.Amount)
		if amount == 0 {
			amount = defaultItemAmount
		}

		items[i] = collection.ItemSpec{
			Index:   spec.NextItemIndex + uint64(i),
			Amount:  amount,
			Owner:   itemOwner,
			Content: []byte(it.Content),
		}
		fee += amount + mintFeePerItem
	}

	body, err := collection.BatchMintBody(0, items)
	if err != nil {
		return err
	}

	txs, err := deployer.Send(ctx, coll, fee, body, nil)
	if err != nil {
		return err
	}

	if !chain.HasTransaction(txs, chain.Match{To: coll, Op: chain.Op(collection.OpBatchMint), Success: chain.Bool(true)}) {
		return fmt.Errorf("batch mint of %d items failed", len(items))
	}

	return nil
}
