// Package indexdb keeps a queryable SQLite index of ledger transactions.
//
// The ledger itself stays the source of truth: records are handed to a single
// writer goroutine and dropped when it falls behind.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"NFTForge/internal/chain"
	"NFTForge/internal/logger"
	"NFTForge/internal/stateinit"
)

const (
	// queueSize bounds pending writes before records are dropped.
	queueSize = 65536

	// MaxRows caps a single Transactions query.
	MaxRows = 1000

	defaultRows = 100
)

// Row is one indexed transaction.
type Row struct {
	Hash     string `json:"hash"`
	LT       uint64 `json:"lt"`
	From     string `json:"from"`
	To       string `json:"to"`
	Value    uint64 `json:"value"`
	Op       *int64 `json:"op,omitempty"`
	Deploy   bool   `json:"deploy"`
	Success  bool   `json:"success"`
	Aborted  bool   `json:"aborted"`
	ExitCode int32  `json:"exit_code"`
	OutCount int    `json:"out_count"`
}

// Index is the SQLite transaction index.
type Index struct {
	db *sql.DB

	ch   chan req
	mu   sync.RWMutex // mu orders sends against close(ch)
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type req struct {
	row  Row
	done chan struct{} // done marks a flush barrier instead of a row
}

// Open opens or creates the index at path.
func Open(path string) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init pragmas:\n%w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema:\n%w", err)
	}

	idx := &Index{
		db: db,
		ch: make(chan req, queueSize),
	}

	idx.wg.Add(1)
	go func() {
		defer idx.wg.Done()
		idx.loop()
	}()

	return idx, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}

	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			hash TEXT PRIMARY KEY,
			lt INTEGER NOT NULL,
			sender TEXT NOT NULL,
			receiver TEXT NOT NULL,
			value INTEGER NOT NULL,
			op INTEGER,
			deploy INTEGER NOT NULL,
			success INTEGER NOT NULL,
			aborted INTEGER NOT NULL,
			exit_code INTEGER NOT NULL,
			out_count INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tx_receiver_lt ON transactions(receiver, lt);`,
		`CREATE INDEX IF NOT EXISTS idx_tx_sender_lt ON transactions(sender, lt);`,
	}

	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}

	return nil
}

// Close drains pending writes and closes the database.
func (i *Index) Close() error {
	var err error

	i.once.Do(func() {
		i.mu.Lock()
		i.closed.Store(true)
		close(i.ch)
		i.mu.Unlock()

		i.wg.Wait()
		err = i.db.Close()
	})

	return err
}

// Record queues tx for indexing. It never blocks; it has the chain.Observer signature.
func (i *Index) Record(tx *chain.Transaction) {
	if i == nil {
		return
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed.Load() {
		return
	}

	select {
	case i.ch <- req{row: rowOf(tx)}:
	default:
		i.dropped.Add(1)
	}
}

// Dropped returns how many records were discarded because the writer fell behind.
func (i *Index) Dropped() uint64 {
	return i.dropped.Load()
}

// Flush blocks until every record queued before the call is written.
func (i *Index) Flush(ctx context.Context) error {
	done := make(chan struct{})

	i.mu.RLock()
	if i.closed.Load() {
		i.mu.RUnlock()
		return nil
	}

	select {
	case i.ch <- req{done: done}:
		i.mu.RUnlock()
	case <-ctx.Done():
		i.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func rowOf(tx *chain.Transaction) Row {
	r := Row{
		Hash:     hex.EncodeToString(tx.Hash[:]),
		LT:       tx.LT,
		From:     stateinit.Raw(tx.From),
		To:       stateinit.Raw(tx.To),
		Value:    tx.Value,
		Deploy:   tx.Deploy,
		Success:  tx.Success,
		Aborted:  tx.Aborted,
		ExitCode: tx.ExitCode,
		OutCount: len(tx.Out),
	}

	if op, ok := tx.Op(); ok {
		v := int64(op)
		r.Op = &v
	}

	return r
}

// loop is the single writer. It groups whatever is queued into one SQL transaction.
func (i *Index) loop() {
	log := logger.With("component", "indexdb")

	for first := range i.ch {
		batch := []req{first}

	drain:
		for len(batch) < 1024 {
			select {
			case r, ok := <-i.ch:
				if !ok {
					break drain
				}
				batch = append(batch, r)
			default:
				break drain
			}
		}

		if err := i.write(batch); err != nil {
			log.Warn("index write failed", "rows", len(batch), "error", err)
		}

		for _, r := range batch {
			if r.done != nil {
				close(r.done)
			}
		}
	}
}

func (i *Index) write(batch []req) error {
	tx, err := i.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO transactions
		(hash,lt,sender,receiver,value,op,deploy,success,aborted,exit_code,out_count)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range batch {
		if r.done != nil {
			continue
		}

		row := r.row
		if _, err := stmt.Exec(row.Hash, int64(row.LT), row.From, row.To, int64(row.Value), row.Op,
			row.Deploy, row.Success, row.Aborted, row.ExitCode, row.OutCount); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Transactions returns the latest transactions sent or received by account, newest first.
func (i *Index) Transactions(ctx context.Context, account string, limit int) ([]Row, error) {
	switch {
	case limit <= 0:
		limit = defaultRows
	case limit > MaxRows:
		limit = MaxRows
	}

	rows, err := i.db.QueryContext(ctx, `SELECT hash,lt,sender,receiver,value,op,deploy,success,aborted,exit_code,out_count
		FROM transactions WHERE receiver = ? OR sender = ? ORDER BY lt DESC LIMIT ?`, account, account, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions:\n%w", err)
	}
	defer rows.Close()

	var out []Row

	for rows.Next() {
		var (
			r     Row
			lt    int64
			value int64
			op    sql.NullInt64
		)

		if err := rows.Scan(&r.Hash, &lt, &r.From, &r.To, &value, &op,
			&r.Deploy, &r.Success, &r.Aborted, &r.ExitCode, &r.OutCount); err != nil {
			return nil, fmt.Errorf("scan transaction:\n%w", err)
		}

		r.LT = uint64(lt)
		r.Value = uint64(value)
		if op.Valid {
			v := op.Int64
			r.Op = &v
		}

		out = append(out, r)
	}

	return out, rows.Err()
}
