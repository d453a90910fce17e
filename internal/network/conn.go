package network

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/chain"
)

// Conn is a client connection to a relay server.
type Conn struct {
	conn   *quic.Conn
	remote ed25519.PublicKey
}

// DialOption configures Dial.
type DialOption func(*dialConfig)

type dialConfig struct {
	key      ed25519.PrivateKey
	expected ed25519.PublicKey
}

// WithIdentity presents key instead of a fresh throwaway identity.
func WithIdentity(key ed25519.PrivateKey) DialOption {
	return func(c *dialConfig) {
		c.key = key
	}
}

// WithServerKey refuses servers not presenting pub.
func WithServerKey(pub ed25519.PublicKey) DialOption {
	return func(c *dialConfig) {
		c.expected = pub
	}
}

// Dial connects to the relay at addr.
func Dial(ctx context.Context, addr string, opts ...DialOption) (*Conn, error) {
	var cfg dialConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.key == nil {
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate identity: %w", err)
		}
		cfg.key = key
	}

	tlsConf, err := tlsConfig(cfg.key)
	if err != nil {
		return nil, fmt.Errorf("tls config:\n%w", err)
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	remote, err := remoteKey(conn.ConnectionState().TLS)
	if err != nil {
		conn.CloseWithError(1, "bad identity")
		return nil, err
	}

	if cfg.expected != nil && !bytes.Equal(remote, cfg.expected) {
		conn.CloseWithError(1, "unexpected identity")
		return nil, fmt.Errorf("server key %x does not match expected %x", remote[:8], cfg.expected[:8])
	}

	return &Conn{conn: conn, remote: remote}, nil
}

// ServerKey returns the identity presented by the server.
func (c *Conn) ServerKey() ed25519.PublicKey {
	return c.remote
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.conn.CloseWithError(0, "closed")
}

// Request sends one frame and waits for the answer on a fresh stream.
func (c *Conn) Request(ctx context.Context, data []byte) ([]byte, error) {
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream:\n%w", err)
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	stream.SetDeadline(deadline)

	if err := writeFrame(stream, data); err != nil {
		return nil, fmt.Errorf("write request:\n%w", err)
	}

	resp, err := readFrame(stream)
	if err != nil {
		return nil, fmt.Errorf("read response:\n%w", err)
	}

	return resp, nil
}

// SendExternal submits an external message and returns the transactions it caused.
func (c *Conn) SendExternal(ctx context.Context, to *address.Address, body *cell.Cell) ([]*chain.Transaction, error) {
	req, err := encodeSubmit(to, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}

	payload, err := parseResponse(resp)
	if err != nil {
		return nil, err
	}

	return decodeTransactions(payload)
}

// AccountData fetches the persistent data of an account.
func (c *Conn) AccountData(ctx context.Context, addr *address.Address) (*cell.Cell, error) {
	req, err := encodeAccountData(addr)
	if err != nil {
		return nil, err
	}

	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}

	payload, err := parseResponse(resp)
	if err != nil {
		return nil, err
	}

	return cell.FromBOC(payload)
}

// Snapshot downloads the server's compressed state snapshot.
func (c *Conn) Snapshot(ctx context.Context) ([]byte, error) {
	resp, err := c.Request(ctx, []byte{kindSnapshot})
	if err != nil {
		return nil, err
	}

	return parseResponse(resp)
}
