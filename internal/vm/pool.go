package vm

import (
	"errors"
	"sync"

	"github.com/xssnick/tonutils-go/tvm/cell"
)

// ErrHandlerNotFound is returned when no handler is registered for a code hash.
var ErrHandlerNotFound = errors.New("handler not found")

// CodeID is the representation hash of a code cell.
type CodeID [32]byte

// ID returns the CodeID of a code cell.
func ID(code *cell.Cell) CodeID {
	var id CodeID
	copy(id[:], code.Hash())

	return id
}

// Pool maps code cells to the native handlers that execute them.
// Every account whose code hashes to the same CodeID runs the same handler.
type Pool struct {
	handlers map[CodeID]Handler
	mu       sync.RWMutex
}

// New creates an empty Pool.
func New() *Pool {
	return &Pool{
		handlers: make(map[CodeID]Handler),
	}
}

// Register binds code to h and returns its CodeID.
// Registering the same code again replaces the handler.
func (p *Pool) Register(code *cell.Cell, h Handler) CodeID {
	id := ID(code)

	p.mu.Lock()
	p.handlers[id] = h
	p.mu.Unlock()

	return id
}

// Lookup returns the handler for code.
func (p *Pool) Lookup(code *cell.Cell) (Handler, error) {
	if code == nil {
		return nil, ErrHandlerNotFound
	}

	p.mu.RLock()
	h, ok := p.handlers[ID(code)]
	p.mu.RUnlock()

	if !ok {
		return nil, ErrHandlerNotFound
	}

	return h, nil
}

// Unregister removes the handler bound to code.
func (p *Pool) Unregister(code *cell.Cell) {
	p.mu.Lock()
	delete(p.handlers, ID(code))
	p.mu.Unlock()
}

// Len returns the number of registered handlers.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.handlers)
}
