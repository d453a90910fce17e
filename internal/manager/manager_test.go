package manager_test

import (
	"context"
	"testing"

	"github.com/xssnick/tonutils-go/address"

	"NFTForge/internal/chain"
	"NFTForge/internal/chain/chaintest"
	"NFTForge/internal/collection"
	"NFTForge/internal/item"
	"NFTForge/internal/manager"
	"NFTForge/internal/stateinit"
	"NFTForge/internal/vm"
)

const (
	coin      = 1_000_000_000
	mintPrice = coin / 2
	itemFund  = coin / 20
)

// edition is a ledger with a manager owning a collection.
type edition struct {
	chain      *chain.Chain
	owner      *chain.Treasury
	buyer      *chain.Treasury
	manager    *address.Address
	collection *address.Address
}

func newEdition(t *testing.T, maxSupply uint64, link bool) *edition {
	t.Helper()

	c := chaintest.New(t)
	owner := chaintest.Treasury(t, c, "owner")
	buyer := chaintest.Treasury(t, c, "buyer")

	minit, maddr, err := manager.NewFromConfig(manager.Data{
		Owner:       owner.Address(),
		MintPrice:   mintPrice,
		MaxSupply:   maxSupply,
		ItemAmount:  itemFund,
		ItemContent: []byte("edition.json"),
	})
	if err != nil {
		t.Fatalf("manager config: %v", err)
	}

	if _, err := owner.Send(context.Background(), maddr, coin, nil, &minit); err != nil {
		t.Fatalf("deploy manager: %v", err)
	}

	cinit, caddr, err := collection.NewFromConfig(collection.Config{
		Owner:         maddr,
		CommonContent: []byte("https://edition.example/"),
		ItemCode:      item.Code(),
		Royalty:       collection.RoyaltyParams{Factor: 1, Base: 10, Address: owner.Address()},
	}, collection.Code())
	if err != nil {
		t.Fatalf("collection config: %v", err)
	}

	if _, err := owner.Send(context.Background(), caddr, coin, nil, &cinit); err != nil {
		t.Fatalf("deploy collection: %v", err)
	}

	e := &edition{chain: c, owner: owner, buyer: buyer, manager: maddr, collection: caddr}

	if link {
		txs, err := owner.Send(context.Background(), maddr, coin/100, manager.SetNftCollectionAddressBody(1, caddr), nil)
		if err != nil {
			t.Fatalf("set collection: %v", err)
		}

		if !chain.HasTransaction(txs, chain.Match{To: maddr, Success: chain.Bool(true)}) {
			t.Fatal("set collection was refused")
		}
	}

	return e
}

func (e *edition) data(t *testing.T) manager.Data {
	t.Helper()

	raw, err := e.chain.AccountData(context.Background(), e.manager)
	if err != nil {
		t.Fatalf("manager data: %v", err)
	}

	d, err := manager.LoadData(raw)
	if err != nil {
		t.Fatalf("decode manager: %v", err)
	}

	return d
}

func (e *edition) mintSafe(t *testing.T, index, value uint64) []*chain.Transaction {
	t.Helper()

	txs, err := e.buyer.Send(context.Background(), e.manager, value, manager.MintSafeBody(index, index, e.buyer.Address()), nil)
	if err != nil {
		t.Fatalf("send mint: %v", err)
	}

	return txs
}

func TestMintSafeDeploysItem(t *testing.T) {
	e := newEdition(t, 0, true)

	txs := e.mintSafe(t, 0, mintPrice+itemFund)

	itemInit, err := collection.BuildItem(item.Code(), e.collection, 0)
	if err != nil {
		t.Fatalf("build item: %v", err)
	}

	if !chain.HasTransaction(txs, chain.Match{From: e.collection, To: itemInit.Address, Deploy: chain.Bool(true), Success: chain.Bool(true)}) {
		t.Fatal("item was not deployed")
	}

	raw, err := e.chain.AccountData(context.Background(), itemInit.Address)
	if err != nil {
		t.Fatalf("item data: %v", err)
	}

	d, err := item.NftData(raw)
	if err != nil {
		t.Fatalf("decode item: %v", err)
	}

	if !stateinit.Equal(d.Owner, e.buyer.Address()) || string(d.Content) != "edition.json" {
		t.Errorf("item = %+v", d)
	}

	coll, err := collection.NewClient(e.collection, e.chain).GetCollectionData(context.Background())
	if err != nil {
		t.Fatalf("collection data: %v", err)
	}

	if coll.NextItemIndex != 1 {
		t.Errorf("collection next index = %d, want 1", coll.NextItemIndex)
	}

	if got := e.data(t).NextItemIndex; got != 1 {
		t.Errorf("manager next index = %d, want 1", got)
	}

	acc, err := e.chain.Account(context.Background(), e.manager)
	if err != nil {
		t.Fatalf("manager account: %v", err)
	}

	// deployment funds, the link message and the kept price
	if want := uint64(coin + coin/100 + mintPrice); acc.Balance != want {
		t.Errorf("manager balance = %d, want %d", acc.Balance, want)
	}
}

func TestMintSafeRefusals(t *testing.T) {
	tests := []struct {
		name      string
		maxSupply uint64
		link      bool
		index     uint64
		value     uint64
		code      int32
	}{
		{"no collection", 0, false, 0, mintPrice + itemFund, manager.ExitNoCollection},
		{"underpaid", 0, true, 0, mintPrice + itemFund - 1, manager.ExitUnderpaid},
		{"skipped index", 0, true, 1, mintPrice + itemFund, manager.ExitIndexMismatch},
		{"sold out", 1, true, 1, mintPrice + itemFund, manager.ExitSoldOut},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEdition(t, tc.maxSupply, tc.link)

			txs := e.mintSafe(t, tc.index, tc.value)

			if !chain.HasTransaction(txs, chain.Match{To: e.manager, ExitCode: chain.Code(tc.code)}) {
				t.Fatalf("manager did not exit with %d", tc.code)
			}

			if chain.HasTransaction(txs, chain.Match{To: e.collection}) {
				t.Error("refused mint reached the collection")
			}
		})
	}
}

func TestEditionStopsAtMaxSupply(t *testing.T) {
	e := newEdition(t, 2, true)

	for i := uint64(0); i < 2; i++ {
		txs := e.mintSafe(t, i, mintPrice+itemFund)
		if !chain.HasTransaction(txs, chain.Match{From: e.collection, Deploy: chain.Bool(true), Success: chain.Bool(true)}) {
			t.Fatalf("mint %d failed", i)
		}
	}

	txs := e.mintSafe(t, 2, mintPrice+itemFund)
	if !chain.HasTransaction(txs, chain.Match{To: e.manager, ExitCode: chain.Code(manager.ExitSoldOut)}) {
		t.Error("third mint was not refused")
	}
}

func TestOwnerOnlyOperations(t *testing.T) {
	e := newEdition(t, 0, false)

	txs, err := e.buyer.Send(context.Background(), e.manager, coin/100, manager.SetNftCollectionAddressBody(0, e.buyer.Address()), nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if !chain.HasTransaction(txs, chain.Match{To: e.manager, ExitCode: chain.Code(manager.ExitAccessDenied)}) {
		t.Error("stranger set the collection")
	}

	if e.data(t).Collection != nil {
		t.Error("collection changed after a refused message")
	}

	txs, err = e.buyer.Send(context.Background(), e.manager, coin/100, manager.WithdrawBody(0, coin/2), nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if !chain.HasTransaction(txs, chain.Match{To: e.manager, ExitCode: chain.Code(manager.ExitAccessDenied)}) {
		t.Error("stranger withdrew")
	}
}

func TestWithdrawPaysOwner(t *testing.T) {
	e := newEdition(t, 0, true)
	e.mintSafe(t, 0, mintPrice+itemFund)

	txs, err := e.owner.Send(context.Background(), e.manager, 0, manager.WithdrawBody(3, mintPrice), nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if !chain.HasTransaction(txs, chain.Match{From: e.manager, To: e.owner.Address(), Success: chain.Bool(true)}) {
		t.Fatal("withdraw did not reach the owner")
	}

	txs, err = e.owner.Send(context.Background(), e.manager, 0, manager.WithdrawBody(4, 100*coin), nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if !chain.HasTransaction(txs, chain.Match{To: e.manager, ExitCode: chain.Code(vm.ExitNotEnoughBalance)}) {
		t.Error("overdraw was not refused")
	}
}
