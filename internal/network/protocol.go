package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/chain"
	"NFTForge/internal/stateinit"
)

const (
	// maxFrameSize bounds one request or response; snapshots are the largest.
	maxFrameSize = 64 << 20

	// lengthPrefixSize is the size of the frame length prefix.
	lengthPrefixSize = 4

	alpnProtocol = "nftforge/1"
)

// Request kinds.
const (
	kindSubmit      byte = 1 // external message: key ++ body BOC
	kindAccountData byte = 2 // account data: key
	kindSnapshot    byte = 3 // compressed state snapshot: no payload
)

// Response status.
const (
	statusOK    byte = 0
	statusError byte = 1
)

// RemoteError is an error reported by the relay server.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "relay: " + e.Message
}

var errShortFrame = errors.New("short frame")

// writeFrame writes [4 bytes big-endian length] [payload].
func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame too large: %d > %d", len(data), maxFrameSize)
	}

	buf := make([]byte, lengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[lengthPrefixSize:], data)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var prefix [lengthPrefixSize]byte

	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame too large: %d > %d", n, maxFrameSize)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	return data, nil
}

func encodeSubmit(to *address.Address, body *cell.Cell) ([]byte, error) {
	key, err := stateinit.Key(to)
	if err != nil {
		return nil, err
	}

	out := append([]byte{kindSubmit}, key[:]...)

	return append(out, body.ToBOC()...), nil
}

func encodeAccountData(addr *address.Address) ([]byte, error) {
	key, err := stateinit.Key(addr)
	if err != nil {
		return nil, err
	}

	return append([]byte{kindAccountData}, key[:]...), nil
}

// decodeTarget splits a request payload into the target address and the rest.
func decodeTarget(payload []byte) (*address.Address, []byte, error) {
	if len(payload) < stateinit.KeySize {
		return nil, nil, errShortFrame
	}

	var key [stateinit.KeySize]byte
	copy(key[:], payload)

	return stateinit.FromKey(key), payload[stateinit.KeySize:], nil
}

func okResponse(payload []byte) []byte {
	return append([]byte{statusOK}, payload...)
}

func errorResponse(err error) []byte {
	return append([]byte{statusError}, err.Error()...)
}

// parseResponse strips the status byte, turning error responses into *RemoteError.
func parseResponse(resp []byte) ([]byte, error) {
	if len(resp) == 0 {
		return nil, errShortFrame
	}

	if resp[0] != statusOK {
		return nil, &RemoteError{Message: string(resp[1:])}
	}

	return resp[1:], nil
}

// encodeTransactions packs records as [count:4] then [len:4][record] each.
func encodeTransactions(txs []*chain.Transaction) []byte {
	out := binary.BigEndian.AppendUint32(nil, uint32(len(txs)))

	for _, tx := range txs {
		rec := chain.EncodeTransaction(tx)
		out = binary.BigEndian.AppendUint32(out, uint32(len(rec)))
		out = append(out, rec...)
	}

	return out
}

func decodeTransactions(buf []byte) ([]*chain.Transaction, error) {
	if len(buf) < 4 {
		return nil, errShortFrame
	}

	count := binary.BigEndian.Uint32(buf)
	buf = buf[4:]

	txs := make([]*chain.Transaction, 0, min(count, 1024))

	for i := uint32(0); i < count; i++ {
		if len(buf) < 4 {
			return nil, errShortFrame
		}

		n := binary.BigEndian.Uint32(buf)
		buf = buf[4:]

		if uint32(len(buf)) < n {
			return nil, errShortFrame
		}

		tx, err := chain.DecodeTransaction(buf[:n])
		if err != nil {
			return nil, fmt.Errorf("decode transaction %d:\n%w", i, err)
		}

		txs = append(txs, tx)
		buf = buf[n:]
	}

	return txs, nil
}
