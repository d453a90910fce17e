package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"NFTForge/internal/chain"
	"NFTForge/internal/logger"
	"NFTForge/internal/stateinit"
)

const (
	// feedBuffer is the per-client backlog before transactions are dropped.
	feedBuffer = 1024

	writeWait = 5 * time.Second
	pongWait  = 60 * time.Second
)

// Feed streams committed transactions to websocket clients as JSON text frames.
// A client may pass ?account=<addr> to receive only that account's transactions.
type Feed struct {
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	subs   map[uint64]*feedSub
	nextID uint64
	closed bool

	dropped atomic.Uint64
}

type feedSub struct {
	account string // account filters by sender or receiver when set
	out     chan []byte
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subs: make(map[uint64]*feedSub),
	}
}

// Publish fans tx out to every subscriber. It never blocks; it has the chain.Observer signature.
func (f *Feed) Publish(tx *chain.Transaction) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed || len(f.subs) == 0 {
		return
	}

	msg, err := json.Marshal(newTxView(tx))
	if err != nil {
		return
	}

	from, to := stateinit.Raw(tx.From), stateinit.Raw(tx.To)

	for _, s := range f.subs {
		if s.account != "" && s.account != from && s.account != to {
			continue
		}

		select {
		case s.out <- msg:
		default:
			f.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of connected clients.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return len(f.subs)
}

// Close disconnects every client.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	f.closed = true

	for id, s := range f.subs {
		close(s.out)
		delete(f.subs, id)
	}
}

func (f *Feed) subscribe(account string) (uint64, *feedSub, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, nil, false
	}

	f.nextID++
	s := &feedSub{account: account, out: make(chan []byte, feedBuffer)}
	f.subs[f.nextID] = s

	return f.nextID, s, true
}

func (f *Feed) unsubscribe(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.subs[id]; ok {
		close(s.out)
		delete(f.subs, id)
	}
}

// ServeHTTP upgrades the request and streams transactions until either side closes.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var account string
	if v := r.URL.Query().Get("account"); v != "" {
		addr, err := stateinit.Parse(v)
		if err != nil || !stateinit.IsStd(addr) {
			writeError(w, http.StatusBadRequest, "invalid account")
			return
		}
		account = stateinit.Raw(addr)
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id, sub, ok := f.subscribe(account)
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		return
	}
	defer f.unsubscribe(id)

	log := logger.With("component", "feed", "remote", r.RemoteAddr)
	log.Debug("feed client connected", "account", account)

	// Reader: only control frames are expected; any error ends the session.
	done := make(chan struct{})
	go func() {
		defer close(done)

		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pongWait / 2)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return

		case msg, ok := <-sub.out:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
				return
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("feed write failed", "error", err)
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
