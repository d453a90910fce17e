package collection

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/logger"
	"NFTForge/internal/stateinit"
	"NFTForge/internal/vm"
)

// codeTag identifies the native collection program.
const codeTag = "nftforge:collection:v1"

// Code returns the code cell every collection account is deployed with.
func Code() *cell.Cell {
	return cell.BeginCell().MustStoreSlice([]byte(codeTag), uint(len(codeTag)*8)).EndCell()
}

// Config holds the initial state of a collection, mirroring State.
type Config struct {
	Owner             *address.Address
	NextItemIndex     uint64
	CollectionContent []byte
	CommonContent     []byte
	ItemCode          *cell.Cell
	Royalty           RoyaltyParams
}

// State returns the initial State described by cfg.
func (c Config) State() State {
	return State{
		Owner:             c.Owner,
		NextItemIndex:     c.NextItemIndex,
		CollectionContent: clone(c.CollectionContent),
		CommonContent:     clone(c.CommonContent),
		ItemCode:          c.ItemCode,
		Royalty:           c.Royalty,
	}
}

// NewFromConfig builds the StateInit of a collection and derives its address.
// The royalty invariant is checked here, before the collection is ever published.
func NewFromConfig(cfg Config, code *cell.Cell) (stateinit.StateInit, *address.Address, error) {
	if err := cfg.Royalty.Validate(); err != nil {
		return stateinit.StateInit{}, nil, err
	}

	if !stateinit.IsStd(cfg.Owner) {
		return stateinit.StateInit{}, nil, fmt.Errorf("collection owner must be a standard address")
	}

	data, err := cfg.State().Cell()
	if err != nil {
		return stateinit.StateInit{}, nil, err
	}

	init := stateinit.StateInit{Code: code, Data: data}

	addr, err := init.Address(stateinit.BaseWorkchain)
	if err != nil {
		return stateinit.StateInit{}, nil, err
	}

	return init, addr, nil
}

// Contract runs Apply for every account deployed with Code().
type Contract struct {
	log *slog.Logger
}

// NewContract creates the collection handler.
func NewContract() *Contract {
	return &Contract{log: logger.With("contract", "collection")}
}

// Receive implements vm.Handler.
func (c *Contract) Receive(env vm.Env, data *cell.Cell, in vm.Inbound) (*vm.Outcome, error) {
	st, err := LoadState(data)
	if err != nil {
		return nil, fmt.Errorf("load collection state:\n%w", err)
	}

	next, out, err := Apply(st, env.Self, in)
	if err != nil {
		c.log.Debug("message rejected", "collection", stateinit.Raw(env.Self), "error", err)
		return nil, err
	}

	newData, err := next.Cell()
	if err != nil {
		return nil, fmt.Errorf("store collection state:\n%w", err)
	}

	if next.NextItemIndex != st.NextItemIndex {
		c.log.Info("items minted",
			"collection", stateinit.Raw(env.Self),
			"from", st.NextItemIndex,
			"next", next.NextItemIndex,
		)
	}

	return &vm.Outcome{Data: newData, Out: out}, nil
}

// Provider reads the persistent data of an account.
type Provider interface {
	AccountData(ctx context.Context, addr *address.Address) (*cell.Cell, error)
}

// Client exposes a deployed collection's getters.
type Client struct {
	addr     *address.Address
	provider Provider
}

// NewClient creates a getter client for the collection at addr.
func NewClient(addr *address.Address, provider Provider) *Client {
	return &Client{addr: addr, provider: provider}
}

// Address returns the collection address.
func (c *Client) Address() *address.Address {
	return c.addr
}

// State loads the current collection state.
func (c *Client) State(ctx context.Context) (State, error) {
	data, err := c.provider.AccountData(ctx, c.addr)
	if err != nil {
		return State{}, fmt.Errorf("read collection %s:\n%w", stateinit.Raw(c.addr), err)
	}

	return LoadState(data)
}

// GetCollectionData returns next index, collection content and owner.
func (c *Client) GetCollectionData(ctx context.Context) (CollectionData, error) {
	st, err := c.State(ctx)
	if err != nil {
		return CollectionData{}, err
	}

	return st.CollectionData(), nil
}

// GetNftContent returns common content followed by individual.
func (c *Client) GetNftContent(ctx context.Context, index uint64, individual []byte) ([]byte, error) {
	st, err := c.State(ctx)
	if err != nil {
		return nil, err
	}

	return st.NftContent(index, individual), nil
}

// GetNftAddressByIndex returns the address of item index.
func (c *Client) GetNftAddressByIndex(ctx context.Context, index uint64) (*address.Address, error) {
	st, err := c.State(ctx)
	if err != nil {
		return nil, err
	}

	return st.NftAddressByIndex(c.addr, index)
}

// GetRoyaltyParams returns the stored royalty params.
func (c *Client) GetRoyaltyParams(ctx context.Context) (RoyaltyParams, error) {
	st, err := c.State(ctx)
	if err != nil {
		return RoyaltyParams{}, err
	}

	return st.RoyaltyParams(), nil
}
