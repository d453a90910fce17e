// Package contracts binds every native contract program to its code cell.
package contracts

import (
	"NFTForge/internal/collection"
	"NFTForge/internal/item"
	"NFTForge/internal/manager"
	"NFTForge/internal/vm"
	"NFTForge/internal/wallet"
)

// Register adds every native handler to pool.
func Register(pool *vm.Pool) {
	pool.Register(collection.Code(), collection.NewContract())
	pool.Register(item.Code(), item.Contract{})
	pool.Register(manager.Code(), manager.NewContract())
	pool.Register(wallet.Code(), wallet.Contract{})
}

// NewPool returns a pool with every native contract registered.
func NewPool() *vm.Pool {
	pool := vm.New()
	Register(pool)

	return pool
}
