// Package network is the QUIC relay that carries external messages to the ledger.
//
// Each request travels on its own bidirectional stream as one length-prefixed
// frame and gets one frame back.
package network

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/chain"
	"NFTForge/internal/logger"
	"NFTForge/internal/stateinit"
)

const defaultRequestTimeout = 30 * time.Second

var (
	// ErrDuplicate is reported for a submission already relayed within the replay window.
	ErrDuplicate = errors.New("duplicate message")

	// ErrNoSnapshots is reported when the server does not share its state.
	ErrNoSnapshots = errors.New("snapshots not served")
)

// Backend is the ledger surface the relay serves.
type Backend interface {
	SendExternal(ctx context.Context, to *address.Address, body *cell.Cell) ([]*chain.Transaction, error)
	AccountData(ctx context.Context, addr *address.Address) (*cell.Cell, error)
}

// Config holds the configuration for a Server.
type Config struct {
	PrivateKey     ed25519.PrivateKey // PrivateKey is the relay identity
	ListenAddr     string             // ListenAddr is the UDP address to listen on (e.g., ":9000")
	RequestTimeout time.Duration      // RequestTimeout bounds the handling of one request
	ReplayWindow   time.Duration      // ReplayWindow is how long identical submissions are refused

	// Snapshot builds a compressed state snapshot for bootstrapping peers.
	// Nil disables snapshot requests.
	Snapshot func() ([]byte, error)
}

// Server accepts relay connections.
type Server struct {
	backend    Backend
	publicKey  ed25519.PublicKey
	listenAddr string
	timeout    time.Duration
	tlsConfig  *tls.Config
	quicConfig *quic.Config
	replay     *replayFilter
	snapshots  *snapshotCache
	log        *slog.Logger

	listener *quic.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a relay server for backend.
func NewServer(cfg Config, backend Backend) (*Server, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}

	tlsConf, err := tlsConfig(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("tls config:\n%w", err)
	}

	var snapshots *snapshotCache
	if cfg.Snapshot != nil {
		snapshots = newSnapshotCache(cfg.Snapshot, defaultSnapshotTTL)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		backend:    backend,
		publicKey:  cfg.PrivateKey.Public().(ed25519.PublicKey),
		listenAddr: cfg.ListenAddr,
		timeout:    timeout,
		tlsConfig:  tlsConf,
		quicConfig: &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 10 * time.Second,
		},
		replay:    newReplayFilter(cfg.ReplayWindow),
		snapshots: snapshots,
		log:       logger.With("component", "relay"),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// PublicKey returns the relay identity clients can pin.
func (s *Server) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

// Addr returns the listener's address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Start begins accepting connections.
func (s *Server) Start() error {
	listener, err := quic.ListenAddr(s.listenAddr, s.tlsConfig, s.quicConfig)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info("relay listening", "addr", s.Addr())

	return nil
}

// Close stops the server and waits for in-flight requests.
func (s *Server) Close() error {
	s.cancel()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.wg.Wait()

	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept(s.ctx)
		if err != nil {
			return // listener closed
		}

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn *quic.Conn) {
	defer s.wg.Done()

	pub, err := remoteKey(conn.ConnectionState().TLS)
	if err != nil {
		conn.CloseWithError(1, "bad identity")
		return
	}

	log := s.log.With("peer", conn.RemoteAddr().String(), "key", fmt.Sprintf("%x", pub[:8]))
	log.Debug("client connected")

	go func() {
		select {
		case <-s.ctx.Done():
			conn.CloseWithError(0, "shutdown")
		case <-conn.Context().Done():
		}
	}()

	for {
		stream, err := conn.AcceptStream(s.ctx)
		if err != nil {
			log.Debug("client gone", "error", err)
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleStream(log, stream)
		}()
	}
}

func (s *Server) handleStream(log *slog.Logger, stream *quic.Stream) {
	defer stream.Close()

	stream.SetDeadline(time.Now().Add(s.timeout))

	req, err := readFrame(stream)
	if err != nil {
		log.Debug("read request", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	payload, err := s.handle(ctx, req)
	resp := okResponse(payload)
	if err != nil {
		resp = errorResponse(err)
	}

	if err := writeFrame(stream, resp); err != nil {
		log.Debug("write response", "error", err)
	}
}

// handle dispatches one request and returns the response payload.
func (s *Server) handle(ctx context.Context, req []byte) ([]byte, error) {
	if len(req) == 0 {
		return nil, errShortFrame
	}

	if req[0] == kindSnapshot {
		if s.snapshots == nil {
			return nil, ErrNoSnapshots
		}

		return s.snapshots.get()
	}

	to, rest, err := decodeTarget(req[1:])
	if err != nil {
		return nil, err
	}

	switch req[0] {
	case kindSubmit:
		if !s.replay.fresh(req) {
			return nil, ErrDuplicate
		}

		body, err := cell.FromBOC(rest)
		if err != nil {
			s.replay.forget(req)
			return nil, fmt.Errorf("parse body: %w", err)
		}

		// only relayed messages count as seen
		txs, err := s.backend.SendExternal(ctx, to, body)
		if err != nil {
			s.replay.forget(req)
			return nil, err
		}

		s.log.Debug("external relayed", "to", stateinit.Raw(to), "txs", len(txs))

		return encodeTransactions(txs), nil

	case kindAccountData:
		data, err := s.backend.AccountData(ctx, to)
		if err != nil {
			return nil, err
		}

		return data.ToBOC(), nil

	default:
		return nil, fmt.Errorf("unknown request kind %d", req[0])
	}
}
