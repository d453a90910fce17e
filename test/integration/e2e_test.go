package integration

import (
	"bytes"
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/xssnick/tonutils-go/address"

	"NFTForge/client"
	"NFTForge/internal/collection"
	"NFTForge/internal/stateinit"
)

const coin = 1_000_000_000

const manifest = `
collections:
  - name: demo
    common_content: "https://demo.example/"
    royalty: {factor: 5, base: 100}
    items:
      - content: "0.json"
`

// TestMintAndBootstrap runs a node with a genesis collection, mints through the
// relay, then starts a second node bootstrapped from the first one.
func TestMintAndBootstrap(t *testing.T) {
	h := NewHarness(t)
	genesisPath := h.WriteFile("genesis.yaml", manifest)

	a := h.StartNode("a", "-genesis", genesisPath)
	a.WaitReady(30 * time.Second)

	coll := a.Collection("demo")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cli := a.Client(client.WithRelay(a.Relay(ctx)))

	deployer, err := client.Treasury(cli, "deployer")
	if err != nil {
		t.Fatalf("deployer wallet: %v", err)
	}

	bob, err := client.Treasury(cli, "bob")
	if err != nil {
		t.Fatalf("bob wallet: %v", err)
	}

	spec := collection.ItemSpec{Index: 1, Amount: coin / 20, Owner: bob.Address(), Content: []byte("1.json")}
	txs, err := deployer.Mint(ctx, coll, 1, spec, coin/10)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	for _, tx := range txs {
		if !tx.Success {
			t.Fatalf("mint transaction failed: %+v", tx)
		}
	}

	info, err := cli.CollectionData(ctx, coll)
	if err != nil {
		t.Fatalf("collection data: %v", err)
	}

	if info.NextItemIndex != 2 || info.Owner != stateinit.Raw(deployer.Address()) {
		t.Errorf("collection = %+v", info)
	}

	itemAddr, err := cli.ItemAddress(ctx, coll, 1)
	if err != nil {
		t.Fatalf("item address: %v", err)
	}

	if acc, err := cli.Account(ctx, itemAddr); err != nil || acc.Balance == 0 {
		t.Errorf("item account = %+v, err = %v", acc, err)
	}

	waitForHistory(t, cli, coll)

	lt, err := cli.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}

	b := h.StartNode("b", "-bootstrap", a.quicAddr, "-bootstrap-key", hex.EncodeToString(a.PublicKey()))
	b.WaitReady(30 * time.Second)

	bcli := b.Client()

	if got, err := bcli.Health(ctx); err != nil || got != lt {
		t.Errorf("bootstrapped lt = %d, err = %v, want %d", got, err, lt)
	}

	binfo, err := bcli.CollectionData(ctx, coll)
	if err != nil {
		t.Fatalf("bootstrapped collection: %v", err)
	}

	if binfo.NextItemIndex != info.NextItemIndex || binfo.Owner != info.Owner || !bytes.Equal(binfo.Content, info.Content) {
		t.Errorf("bootstrapped collection = %+v, want %+v", binfo, info)
	}

	content, err := bcli.ItemContent(ctx, coll, 1, []byte("1.json"))
	if err != nil || string(content) != "https://demo.example/1.json" {
		t.Errorf("content = %q, err = %v", content, err)
	}
}

// waitForHistory polls the transaction index until the collection shows up.
func waitForHistory(t *testing.T, cli *client.Client, coll *address.Address) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		txs, err := cli.Transactions(ctx, coll, 10)
		cancel()

		if err == nil && len(txs) > 0 {
			return
		}

		time.Sleep(100 * time.Millisecond)
	}

	t.Fatal("collection transactions never reached the index")
}
