package client

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"NFTForge/internal/api"
	"NFTForge/internal/chain"
	"NFTForge/internal/chain/chaintest"
	"NFTForge/internal/collection"
	"NFTForge/internal/item"
	"NFTForge/internal/network"
	"NFTForge/internal/stateinit"
)

const coin = 1_000_000_000

// newNode serves a fresh ledger over HTTP and returns it with a client.
func newNode(t *testing.T, opts ...Option) (*chain.Chain, *Client) {
	t.Helper()

	c := chaintest.New(t)

	srv := httptest.NewServer(api.New("", c, nil, nil).Handler())
	t.Cleanup(srv.Close)

	return c, New(srv.URL, opts...)
}

func ctxTimeout(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	return ctx
}

func TestNewNormalizesAddress(t *testing.T) {
	if c := New("127.0.0.1:8080/"); c.baseURL != "http://127.0.0.1:8080" {
		t.Errorf("baseURL = %q", c.baseURL)
	}

	if c := New("https://node.example"); c.baseURL != "https://node.example" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
}

func TestCollectionLifecycleOverHTTP(t *testing.T) {
	c, cl := newNode(t)
	ctx := ctxTimeout(t)

	chaintest.Treasury(t, c, "owner")
	owner, err := Treasury(cl, "owner")
	if err != nil {
		t.Fatalf("treasury: %v", err)
	}

	coll, txs, err := owner.DeployCollection(ctx, collection.Config{
		Owner:         owner.Address(),
		CommonContent: []byte("ipfs://base/"),
		ItemCode:      item.Code(),
		Royalty:       collection.RoyaltyParams{Factor: 1, Base: 10, Address: owner.Address()},
	}, coin)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}

	if len(txs) != 2 || !txs[1].Deploy || !txs[1].Success {
		t.Fatalf("deploy txs = %+v", txs)
	}

	spec := collection.ItemSpec{Index: 0, Amount: coin / 20, Owner: owner.Address(), Content: []byte("0.json")}
	if _, err := owner.Mint(ctx, coll, 1, spec, coin/10); err != nil {
		t.Fatalf("mint: %v", err)
	}

	info, err := cl.CollectionData(ctx, coll)
	if err != nil {
		t.Fatalf("collection data: %v", err)
	}

	if info.NextItemIndex != 1 || info.Owner != stateinit.Raw(owner.Address()) {
		t.Errorf("collection = %+v", info)
	}

	royalty, err := cl.Collection(coll).GetRoyaltyParams(ctx)
	if err != nil {
		t.Fatalf("remote getter: %v", err)
	}

	if royalty.Factor != 1 || royalty.Base != 10 {
		t.Errorf("royalty = %+v", royalty)
	}

	itemAddr, err := cl.ItemAddress(ctx, coll, 0)
	if err != nil {
		t.Fatalf("item address: %v", err)
	}

	acc, err := cl.Account(ctx, itemAddr)
	if err != nil {
		t.Fatalf("item account: %v", err)
	}

	if acc.Balance == 0 {
		t.Error("minted item holds no balance")
	}

	content, err := cl.ItemContent(ctx, coll, 0, []byte("0.json"))
	if err != nil || string(content) != "ipfs://base/0.json" {
		t.Errorf("content = %q, err = %v", content, err)
	}
}

func TestStatusErrors(t *testing.T) {
	_, cl := newNode(t)
	ctx := ctxTimeout(t)

	stranger, err := Treasury(cl, "never-created")
	if err != nil {
		t.Fatalf("treasury: %v", err)
	}

	_, err = cl.Account(ctx, stranger.Address())

	var status *StatusError
	if !errors.As(err, &status) || status.Status != http.StatusNotFound {
		t.Errorf("err = %v, want 404", err)
	}

	if _, err := stranger.Seqno(ctx); err == nil {
		t.Error("expected seqno of a missing wallet to fail")
	}
}

func TestSendThroughRelay(t *testing.T) {
	c := chaintest.New(t)

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	relay, err := network.NewServer(network.Config{PrivateKey: key, ListenAddr: "127.0.0.1:0"}, c)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}

	if err := relay.Start(); err != nil {
		t.Fatalf("start relay: %v", err)
	}
	t.Cleanup(func() { relay.Close() })

	ctx := ctxTimeout(t)

	conn, err := network.Dial(ctx, relay.Addr(), network.WithServerKey(relay.PublicKey()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	srv := httptest.NewServer(api.New("", c, nil, nil).Handler())
	t.Cleanup(srv.Close)

	cl := New(srv.URL, WithRelay(conn))

	chaintest.Treasury(t, c, "alice")
	bob := chaintest.Treasury(t, c, "bob")

	alice, err := Treasury(cl, "alice")
	if err != nil {
		t.Fatalf("treasury: %v", err)
	}

	for i := 0; i < 2; i++ {
		txs, err := alice.Send(ctx, bob.Address(), 9, nil, nil)
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}

		if len(txs) != 2 || txs[1].To != stateinit.Raw(bob.Address()) || !txs[1].Success {
			t.Fatalf("send %d txs = %+v", i, txs)
		}
	}

	seqno, err := alice.Seqno(ctx)
	if err != nil || seqno != 2 {
		t.Errorf("seqno = %d, err = %v, want 2", seqno, err)
	}
}
