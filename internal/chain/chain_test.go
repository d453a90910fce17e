package chain_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/attest"
	"NFTForge/internal/chain"
	"NFTForge/internal/chain/chaintest"
	"NFTForge/internal/contracts"
	"NFTForge/internal/stateinit"
	"NFTForge/internal/storage"
	"NFTForge/internal/vm"
	"NFTForge/internal/wallet"
)

const coin = 1_000_000_000

// counterCode tags a test contract storing a uint64 incremented per message.
var counterCode = cell.BeginCell().MustStoreUInt(0xC0C0, 16).EndCell()

// counter increments its storage and forwards its body with twice the inbound
// value to the address the body names, if any.
var counter = vm.HandlerFunc(func(env vm.Env, data *cell.Cell, in vm.Inbound) (*vm.Outcome, error) {
	n, err := data.BeginParse().LoadUInt(64)
	if err != nil {
		return nil, err
	}

	next := cell.BeginCell().MustStoreUInt(n+1, 64).EndCell()

	if vm.IsEmpty(in.Body) {
		return &vm.Outcome{Data: next}, nil
	}

	to, err := in.Body.BeginParse().LoadAddr()
	if err != nil {
		return nil, vm.Exit(vm.ExitCellUnderflow, "%v", err)
	}

	return &vm.Outcome{Data: next, Out: []vm.Outbound{{To: to, Value: in.Value * 2, Body: in.Body}}}, nil
})

func counterInit(seed uint64) stateinit.StateInit {
	return stateinit.StateInit{
		Code: counterCode,
		Data: cell.BeginCell().MustStoreUInt(0, 64).MustStoreUInt(seed, 32).EndCell(),
	}
}

func newChain(t *testing.T, opts ...chain.Option) *chain.Chain {
	t.Helper()

	return chaintest.New(t, opts...)
}

func newCounterChain(t *testing.T, db *storage.Storage) *chain.Chain {
	t.Helper()

	pool := contracts.NewPool()
	pool.Register(counterCode, counter)

	c, err := chain.New(db, pool)
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}

	return c
}

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()

	dir, err := os.MkdirTemp("", "chain-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	t.Cleanup(func() {
		os.RemoveAll(dir)
	})

	db, err := storage.New(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func counterValue(t *testing.T, c *chain.Chain, addr *address.Address) uint64 {
	t.Helper()

	data, err := c.AccountData(context.Background(), addr)
	if err != nil {
		t.Fatalf("account data: %v", err)
	}

	n, err := data.BeginParse().LoadUInt(64)
	if err != nil {
		t.Fatalf("decode counter: %v", err)
	}

	return n
}

func TestTreasuryCreatedOnce(t *testing.T) {
	c := newChain(t)
	ctx := context.Background()

	a := chaintest.Treasury(t, c, "deployer")
	b := chaintest.Treasury(t, c, "deployer")
	other := chaintest.Treasury(t, c, "user")

	if !stateinit.Equal(a.Address(), b.Address()) {
		t.Error("same name produced different treasuries")
	}

	if a != b {
		t.Error("same name produced separate handles")
	}

	if stateinit.Equal(a.Address(), other.Address()) {
		t.Error("different names share a treasury")
	}

	bal, err := a.Balance(ctx)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}

	if bal != chain.TreasuryBalance {
		t.Errorf("balance = %d, want %d", bal, chain.TreasuryBalance)
	}
}

func TestDeployWithInit(t *testing.T) {
	c := newCounterChain(t, newTestStorage(t))
	ctx := context.Background()
	tr := chaintest.Treasury(t, c, "deployer")

	init := counterInit(1)
	addr, _ := init.Address(stateinit.BaseWorkchain)

	txs, err := tr.Send(ctx, addr, coin, nil, &init)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want 2", len(txs))
	}

	if !chain.HasTransaction(txs, chain.Match{From: tr.Address(), To: addr, Deploy: chain.Bool(true), Success: chain.Bool(true)}) {
		t.Error("missing deploy transaction")
	}

	acc, err := c.Account(ctx, addr)
	if err != nil {
		t.Fatalf("account: %v", err)
	}

	if acc.Balance != coin {
		t.Errorf("balance = %d, want %d", acc.Balance, coin)
	}

	if counterValue(t, c, addr) != 1 {
		t.Error("counter did not run on deploy")
	}
}

func TestMissingAccountAborts(t *testing.T) {
	c := newChain(t)
	tr := chaintest.Treasury(t, c, "deployer")

	missing := address.NewAddress(0, 0, bytes.Repeat([]byte{0x42}, 32))

	txs, err := tr.Send(context.Background(), missing, coin, nil, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	tx, ok := chain.FindTransaction(txs, chain.Match{To: missing})
	if !ok {
		t.Fatal("no transaction on missing account")
	}

	if !tx.Aborted || tx.Success {
		t.Errorf("aborted=%v success=%v, want aborted", tx.Aborted, tx.Success)
	}

	if _, err := c.Account(context.Background(), missing); !errors.Is(err, chain.ErrAccountNotFound) {
		t.Errorf("account err = %v, want ErrAccountNotFound", err)
	}
}

func TestInitMismatchAborts(t *testing.T) {
	c := newCounterChain(t, newTestStorage(t))
	tr := chaintest.Treasury(t, c, "deployer")

	init := counterInit(1)
	wrong, _ := counterInit(2).Address(stateinit.BaseWorkchain)

	txs, err := tr.Send(context.Background(), wrong, coin, nil, &init)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if !chain.HasTransaction(txs, chain.Match{To: wrong, Aborted: chain.Bool(true), Deploy: chain.Bool(false)}) {
		t.Error("mismatched init should abort")
	}
}

func TestNotEnoughBalance(t *testing.T) {
	c := newCounterChain(t, newTestStorage(t))
	ctx := context.Background()

	addr, err := c.Deploy(counterInit(1), 0)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}

	sink, _ := counterInit(2).Address(stateinit.BaseWorkchain)
	body := cell.BeginCell().MustStoreAddr(sink).EndCell()

	txs, err := c.Send(ctx, chain.Message{From: addr, To: addr, Value: 5, Body: body})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(txs) != 1 {
		t.Fatalf("got %d transactions, want 1", len(txs))
	}

	tx := txs[0]
	if tx.Success || tx.ExitCode != vm.ExitNotEnoughBalance || len(tx.Out) != 0 {
		t.Errorf("success=%v exit=%d out=%d, want exit %d and no out", tx.Success, tx.ExitCode, len(tx.Out), vm.ExitNotEnoughBalance)
	}

	if counterValue(t, c, addr) != 0 {
		t.Error("state changed on failed transaction")
	}

	acc, _ := c.Account(ctx, addr)
	if acc.Balance != 5 {
		t.Errorf("balance = %d, want inbound value 5 credited", acc.Balance)
	}
}

func TestTransactionPersisted(t *testing.T) {
	c := newCounterChain(t, newTestStorage(t))
	tr := chaintest.Treasury(t, c, "deployer")

	init := counterInit(1)
	addr, _ := init.Address(stateinit.BaseWorkchain)

	txs, err := tr.Send(context.Background(), addr, coin, nil, &init)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	for _, tx := range txs {
		got, err := c.Transaction(tx.Hash)
		if err != nil {
			t.Fatalf("load %x: %v", tx.Hash, err)
		}

		if got.LT != tx.LT || got.Deploy != tx.Deploy || got.Success != tx.Success || len(got.Out) != len(tx.Out) {
			t.Errorf("stored transaction differs: %+v vs %+v", got, tx)
		}

		if !stateinit.Equal(got.To, tx.To) || !stateinit.Equal(got.From, tx.From) {
			t.Error("stored addresses differ")
		}
	}

	if _, err := c.Transaction([32]byte{1}); !errors.Is(err, chain.ErrTransactionNotFound) {
		t.Errorf("err = %v, want ErrTransactionNotFound", err)
	}
}

func TestLogicalTimeSurvivesReopen(t *testing.T) {
	db := newTestStorage(t)
	c := newCounterChain(t, db)

	addr, _ := c.Deploy(counterInit(1), 0)
	for i := 0; i < 3; i++ {
		if _, err := c.Send(context.Background(), chain.Message{From: addr, To: addr}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	reopened := newCounterChain(t, db)
	if reopened.LT() != c.LT() {
		t.Errorf("lt after reopen = %d, want %d", reopened.LT(), c.LT())
	}
}

func TestObservers(t *testing.T) {
	c := newCounterChain(t, newTestStorage(t))
	addr, _ := c.Deploy(counterInit(1), 0)

	var seen []*chain.Transaction
	cancel := c.Subscribe(func(tx *chain.Transaction) {
		seen = append(seen, tx)
	})

	c.Send(context.Background(), chain.Message{From: addr, To: addr})
	cancel()
	c.Send(context.Background(), chain.Message{From: addr, To: addr})

	if len(seen) != 1 {
		t.Errorf("observer saw %d transactions, want 1", len(seen))
	}
}

func TestWalletRejectsReplay(t *testing.T) {
	c := newChain(t)
	ctx := context.Background()
	tr := chaintest.Treasury(t, c, "deployer")

	key := wallet.KeyFromName("deployer")
	target := address.NewAddress(0, 0, bytes.Repeat([]byte{0x07}, 32))

	ext, err := wallet.SignTransfer(key, 0, wallet.Transfer{To: target, Value: 1})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	first, err := c.SendExternal(ctx, tr.Address(), ext)
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	if !first[0].Success {
		t.Fatalf("first external failed with exit %d", first[0].ExitCode)
	}

	replay, err := c.SendExternal(ctx, tr.Address(), ext)
	if err != nil {
		t.Fatalf("replay send: %v", err)
	}

	if replay[0].ExitCode != wallet.ExitBadSeqno || len(replay) != 1 {
		t.Errorf("replay exit = %d with %d txs, want %d and no cascade", replay[0].ExitCode, len(replay), wallet.ExitBadSeqno)
	}
}

func TestWalletRejectsForeignKey(t *testing.T) {
	c := newChain(t)
	tr := chaintest.Treasury(t, c, "deployer")

	_, foreign, _ := ed25519.GenerateKey(nil)
	ext, _ := wallet.SignTransfer(foreign, 0, wallet.Transfer{To: tr.Address(), Value: 1})

	txs, err := c.SendExternal(context.Background(), tr.Address(), ext)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if txs[0].ExitCode != wallet.ExitBadSignature {
		t.Errorf("exit = %d, want %d", txs[0].ExitCode, wallet.ExitBadSignature)
	}
}

func TestConcurrentSendersSerializePerAccount(t *testing.T) {
	c := newCounterChain(t, newTestStorage(t))
	target, _ := c.Deploy(counterInit(1), 0)

	const senders = 8
	const perSender = 10

	var wg sync.WaitGroup
	errs := make(chan error, senders)

	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			tr, err := c.Treasury(fmt.Sprintf("sender-%d", i))
			if err != nil {
				errs <- err
				return
			}

			for j := 0; j < perSender; j++ {
				if _, err := tr.Send(context.Background(), target, 1, nil, nil); err != nil {
					errs <- err
					return
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("send: %v", err)
	}

	if got := counterValue(t, c, target); got != senders*perSender {
		t.Errorf("counter = %d, want %d", got, senders*perSender)
	}
}

func TestCascadeLimit(t *testing.T) {
	pool := contracts.NewPool()
	pool.Register(counterCode, counter)

	c, err := chain.New(newTestStorage(t), pool, chain.WithMaxCascade(3))
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}

	// a counter forwarding to itself loops until the limit
	addr, _ := c.Deploy(counterInit(1), 0)
	body := cell.BeginCell().MustStoreAddr(addr).EndCell()

	txs, err := c.Send(context.Background(), chain.Message{From: addr, To: addr, Body: body})
	if !errors.Is(err, chain.ErrCascadeLimit) {
		t.Fatalf("err = %v, want ErrCascadeLimit", err)
	}

	if len(txs) != 3 {
		t.Errorf("got %d transactions, want 3", len(txs))
	}
}

func TestAttestedTransactions(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	key, err := attest.FromED25519(priv)
	if err != nil {
		t.Fatalf("attest key: %v", err)
	}

	c := newChain(t, chain.WithAttester(key))
	tr := chaintest.Treasury(t, c, "deployer")
	other := chaintest.Treasury(t, c, "user")

	txs, err := tr.Send(context.Background(), other.Address(), coin, nil, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	for _, tx := range txs {
		stored, err := c.Transaction(tx.Hash)
		if err != nil {
			t.Fatalf("load: %v", err)
		}

		if !attest.Verify(stored.Attestation, stored.Hash[:], key.PublicKey()) {
			t.Errorf("attestation for %x does not verify", tx.Hash)
		}
	}
}

func TestFrozenSeesLatestLT(t *testing.T) {
	c := newCounterChain(t, newTestStorage(t))
	addr, _ := c.Deploy(counterInit(1), 0)

	if _, err := c.Send(context.Background(), chain.Message{From: addr, To: addr}); err != nil {
		t.Fatalf("send: %v", err)
	}

	var seen uint64
	err := c.Frozen(func(lt uint64) error {
		seen = lt
		return nil
	})

	if err != nil || seen != c.LT() {
		t.Errorf("frozen lt = %d err = %v, want %d", seen, err, c.LT())
	}

	boom := errors.New("boom")
	if err := c.Frozen(func(uint64) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("err = %v, want passthrough", err)
	}
}

func TestSharedTreasuryConcurrentSends(t *testing.T) {
	c := newCounterChain(t, newTestStorage(t))
	target, _ := c.Deploy(counterInit(2), 0)

	const workers = 8

	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// each worker looks the treasury up on its own
			tr, err := c.Treasury("shared")
			if err != nil {
				errs <- err
				return
			}

			txs, err := tr.Send(context.Background(), target, 1, nil, nil)
			if err != nil {
				errs <- err
				return
			}

			if !txs[0].Success {
				errs <- fmt.Errorf("wallet exit %d", txs[0].ExitCode)
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("send: %v", err)
	}

	if got := counterValue(t, c, target); got != workers {
		t.Errorf("counter = %d, want %d", got, workers)
	}
}

func TestFrozenUnderLoadHasNoPendingLT(t *testing.T) {
	c := newCounterChain(t, newTestStorage(t))
	target, _ := c.Deploy(counterInit(3), 0)

	const senders = 4
	const perSender = 20

	done := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			tr, err := c.Treasury(fmt.Sprintf("load-%d", i))
			if err != nil {
				t.Errorf("treasury: %v", err)
				return
			}

			for j := 0; j < perSender; j++ {
				if _, err := tr.Send(context.Background(), target, 1, nil, nil); err != nil {
					t.Errorf("send: %v", err)
					return
				}
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		err := c.Frozen(func(lt uint64) error {
			// no logical time may be handed out without being stored
			if got := c.LT(); got != lt {
				return fmt.Errorf("allocated lt %d while frozen at %d", got, lt)
			}
			return nil
		})
		if err != nil {
			t.Error(err)
			<-done
			return
		}

		select {
		case <-done:
			return
		default:
		}
	}
}
