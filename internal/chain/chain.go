// Package chain is the ledger hosting native contracts.
//
// Every message is processed by exactly one account in one transaction. An
// account processes one message at a time; distinct accounts run independently.
// Outbound messages are queued and processed in order until the cascade ends.
package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/logger"
	"NFTForge/internal/stateinit"
	"NFTForge/internal/storage"
	"NFTForge/internal/vm"
)

const (
	// defaultMaxCascade bounds the transactions one Send may produce.
	defaultMaxCascade = 10_000
)

var (
	// ErrAccountNotFound is returned when an address holds no account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrTransactionNotFound is returned for unknown transaction hashes.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrCascadeLimit is returned when a message triggers too many transactions.
	ErrCascadeLimit = errors.New("message cascade limit reached")

	// ErrInvalidDestination is returned for messages to non-standard addresses.
	ErrInvalidDestination = errors.New("invalid destination address")
)

// Attester signs transaction hashes.
type Attester interface {
	Sign(msg []byte) []byte
}

// Observer is notified of every committed transaction.
// It runs on the processing goroutine and must not block.
type Observer func(tx *Transaction)

// Chain is the ledger.
type Chain struct {
	db   *storage.Storage
	pool *vm.Pool
	log  *slog.Logger

	attester   Attester
	maxCascade int

	lt          atomic.Uint64 // lt is the last allocated logical time
	commitMu    sync.Mutex    // commitMu orders storage writes
	persistedLT uint64        // persistedLT is the highest LT written, guarded by commitMu

	locksMu sync.Mutex
	locks   map[[stateinit.KeySize]byte]*accountLock

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int

	treasuryMu sync.Mutex
	treasuries map[string]*Treasury // treasuries shares one seqno lock per name
}

// accountLock serializes message processing on one account.
type accountLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Chain.
type Option func(*Chain)

// WithAttester signs every transaction hash with a.
func WithAttester(a Attester) Option {
	return func(c *Chain) {
		c.attester = a
	}
}

// WithMaxCascade overrides the per-Send transaction limit.
func WithMaxCascade(n int) Option {
	return func(c *Chain) {
		c.maxCascade = n
	}
}

// New opens a ledger on db. Accounts run the handlers registered in pool.
func New(db *storage.Storage, pool *vm.Pool, opts ...Option) (*Chain, error) {
	c := &Chain{
		db:         db,
		pool:       pool,
		log:        logger.With("component", "chain"),
		maxCascade: defaultMaxCascade,
		locks:      make(map[[stateinit.KeySize]byte]*accountLock),
		observers:  make(map[int]Observer),
		treasuries: make(map[string]*Treasury),
	}

	for _, opt := range opts {
		opt(c)
	}

	raw, err := db.Get(keyLT)
	if err != nil {
		return nil, fmt.Errorf("load logical time:\n%w", err)
	}

	if len(raw) == 8 {
		lt := binary.BigEndian.Uint64(raw)
		c.lt.Store(lt)
		c.persistedLT = lt
	}

	return c, nil
}

// LT returns the last allocated logical time.
func (c *Chain) LT() uint64 {
	return c.lt.Load()
}

// Subscribe registers fn for every future transaction and returns its cancel function.
func (c *Chain) Subscribe(fn Observer) func() {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

// Send processes m and the cascade it triggers, returning every transaction
// in processing order.
func (c *Chain) Send(ctx context.Context, m Message) ([]*Transaction, error) {
	if !stateinit.IsStd(m.To) {
		return nil, ErrInvalidDestination
	}

	queue := []Message{m}
	var txs []*Transaction

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return txs, err
		}

		if len(txs) >= c.maxCascade {
			return txs, ErrCascadeLimit
		}

		next := queue[0]
		queue = queue[1:]

		tx, err := c.process(next)
		if err != nil {
			return txs, fmt.Errorf("process message to %s:\n%w", stateinit.Raw(next.To), err)
		}
		txs = append(txs, tx)

		for _, out := range tx.Out {
			queue = append(queue, Message{
				From:  next.To,
				To:    out.To,
				Value: out.Value,
				Body:  out.Body,
				Init:  out.Init,
			})
		}
	}

	return txs, nil
}

// SendExternal delivers an external message to to.
func (c *Chain) SendExternal(ctx context.Context, to *address.Address, body *cell.Cell) ([]*Transaction, error) {
	return c.Send(ctx, Message{To: to, Body: body, External: true})
}

// Deploy creates the account described by init with the given balance, without
// a transaction. It is a no-op when the account already exists.
func (c *Chain) Deploy(init stateinit.StateInit, balance uint64) (*address.Address, error) {
	addr, err := init.Address(stateinit.BaseWorkchain)
	if err != nil {
		return nil, err
	}

	key, _ := accountKey(addr)
	k, _ := stateinit.Key(addr)

	unlock := c.lock(k)
	defer unlock()

	existing, err := c.loadAccount(key)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return addr, nil
	}

	acc := &Account{Address: addr, Code: init.Code, Data: init.Data, Balance: balance}

	c.commitMu.Lock()
	err = c.db.Set(key, encodeAccount(acc))
	c.commitMu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("store account:\n%w", err)
	}

	c.log.Info("account created", "address", stateinit.Raw(addr), "balance", balance)

	return addr, nil
}

// Account returns the account at addr.
func (c *Chain) Account(_ context.Context, addr *address.Address) (*Account, error) {
	key, err := accountKey(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}

	acc, err := c.loadAccount(key)
	if err != nil {
		return nil, err
	}

	if acc == nil {
		return nil, ErrAccountNotFound
	}

	return acc, nil
}

// AccountData returns the persistent data of the account at addr.
func (c *Chain) AccountData(ctx context.Context, addr *address.Address) (*cell.Cell, error) {
	acc, err := c.Account(ctx, addr)
	if err != nil {
		return nil, err
	}

	return acc.Data, nil
}

// Transaction returns a committed transaction by hash.
func (c *Chain) Transaction(hash [32]byte) (*Transaction, error) {
	raw, err := c.db.Get(txKey(hash))
	if err != nil {
		return nil, err
	}

	if raw == nil {
		return nil, ErrTransactionNotFound
	}

	return DecodeTransaction(raw)
}

// process runs one message on its destination account.
func (c *Chain) process(m Message) (*Transaction, error) {
	key, err := accountKey(m.To)
	if err != nil {
		return nil, ErrInvalidDestination
	}

	k, _ := stateinit.Key(m.To)
	unlock := c.lock(k)
	defer unlock()

	acc, err := c.loadAccount(key)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		From:     m.From,
		To:       m.To,
		External: m.External,
		Body:     m.Body,
	}

	if !m.External {
		tx.Value = m.Value
	}

	if m.Init != nil {
		tx.InitCode = m.Init.Code
		tx.InitData = m.Init.Data
	}

	if acc == nil {
		acc = c.deployable(m)
		if acc == nil {
			// nothing to run: the value is not credited anywhere
			tx.Aborted = true
			return tx, c.commit(tx, nil, nil)
		}
		tx.Deploy = true
	}

	if acc.Balance > math.MaxUint64-tx.Value {
		return nil, fmt.Errorf("balance overflow on %s", stateinit.Raw(acc.Address))
	}

	acc.Balance += tx.Value

	h, err := c.pool.Lookup(acc.Code)
	if err != nil {
		c.log.Warn("no handler for account code", "address", stateinit.Raw(acc.Address))
		tx.Aborted = true
		return tx, c.commit(tx, acc, key)
	}

	env := vm.Env{Self: acc.Address, Balance: acc.Balance}
	in := vm.Inbound{Sender: m.From, Value: tx.Value, Body: m.Body, External: m.External}

	outcome, err := h.Receive(env, acc.Data, in)
	if err == nil {
		err = c.applyOutcome(acc, outcome, tx)
	}

	if err != nil {
		code, ok := vm.ExitCode(err)
		if !ok {
			// storage that does not parse fails like a TVM cell underflow
			code = vm.ExitCellUnderflow
		}

		tx.ExitCode = code
		tx.Out = nil

		c.log.Debug("transaction failed",
			"to", stateinit.Raw(m.To),
			"from", stateinit.Raw(m.From),
			"exit", code,
			"error", err,
		)
	}

	return tx, c.commit(tx, acc, key)
}

// applyOutcome checks the action phase and applies it to acc.
func (c *Chain) applyOutcome(acc *Account, outcome *vm.Outcome, tx *Transaction) error {
	var total uint64

	out := make([]OutMessage, 0, len(outcome.Out))
	for _, o := range outcome.Out {
		if !stateinit.IsStd(o.To) {
			return vm.Exit(vm.ExitInvalidAction, "outbound message to non-standard address")
		}

		if total > math.MaxUint64-o.Value {
			return vm.Exit(vm.ExitNotEnoughBalance, "outbound value overflow")
		}
		total += o.Value

		out = append(out, OutMessage{To: o.To, Value: o.Value, Body: o.Body, Init: o.Init})
	}

	if total > acc.Balance {
		return vm.Exit(vm.ExitNotEnoughBalance, "outbound %d exceeds balance %d", total, acc.Balance)
	}

	acc.Balance -= total
	if outcome.Data != nil {
		acc.Data = outcome.Data
	}

	tx.Success = true
	tx.Out = out

	return nil
}

// deployable returns the account m's init creates, or nil when m cannot deploy.
func (c *Chain) deployable(m Message) *Account {
	if m.Init == nil {
		return nil
	}

	addr, err := m.Init.Address(int8(m.To.Workchain()))
	if err != nil || !stateinit.Equal(addr, m.To) {
		c.log.Warn("state init does not match destination", "to", stateinit.Raw(m.To))
		return nil
	}

	return &Account{Address: m.To, Code: m.Init.Code, Data: m.Init.Data}
}

// Frozen runs fn while no transaction can commit. lt is the highest committed
// logical time, so fn sees the store exactly as of lt.
func (c *Chain) Frozen(fn func(lt uint64) error) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	return fn(c.persistedLT)
}

// commit assigns tx its logical time, then hashes, attests and stores it
// together with acc and notifies observers. LTs are allocated under commitMu
// so they reach the store in increasing order.
func (c *Chain) commit(tx *Transaction, acc *Account, key []byte) error {
	c.commitMu.Lock()

	tx.LT = c.lt.Add(1)
	tx.Hash = computeHash(tx)

	if c.attester != nil {
		tx.Attestation = c.attester.Sign(tx.Hash[:])
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], tx.LT)

	ops := []storage.Op{
		storage.Put(txKey(tx.Hash), EncodeTransaction(tx)),
		storage.Put(keyLT, buf[:]),
	}
	if acc != nil {
		acc.LastLT = tx.LT
		ops = append(ops, storage.Put(key, encodeAccount(acc)))
	}

	err := c.db.Write(ops)
	if err == nil {
		c.persistedLT = tx.LT
	} else {
		c.lt.Store(tx.LT - 1)
	}
	c.commitMu.Unlock()

	if err != nil {
		return fmt.Errorf("commit transaction:\n%w", err)
	}

	c.notify(tx)

	return nil
}

func (c *Chain) notify(tx *Transaction) {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()

	for _, fn := range c.observers {
		fn(tx)
	}
}

// loadAccount returns the account stored under key, or nil.
func (c *Chain) loadAccount(key []byte) (*Account, error) {
	raw, err := c.db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("read account:\n%w", err)
	}

	if raw == nil {
		return nil, nil
	}

	return decodeAccount(raw)
}

// lock acquires the processing lock of account k and returns its release function.
func (c *Chain) lock(k [stateinit.KeySize]byte) func() {
	c.locksMu.Lock()
	l, ok := c.locks[k]
	if !ok {
		l = &accountLock{}
		c.locks[k] = l
	}
	l.refs++
	c.locksMu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		c.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, k)
		}
		c.locksMu.Unlock()
	}
}
