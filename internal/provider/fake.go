package provider

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Fake is an in-memory Provider for tests. Fields are consulted per
// call; handler funcs, when set, take precedence over the static
// fields. Safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	AccountList []string
	Chain       uint64

	RequestAccountsFn func(ctx context.Context) ([]string, error)
	SwitchChainFn     func(ctx context.Context, chainIDHex string) error
	AddChainFn        func(ctx context.Context, def AddChainParams) error
	SendFn            func(ctx context.Context, tx TxParams) (common.Hash, error)
	BalanceFn         func(ctx context.Context, addr common.Address) (*big.Int, error)
	CodeFn            func(ctx context.Context, addr common.Address) ([]byte, error)
	CallFn            func(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	ReceiptFn         func(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	SwitchCalls []string
	AddCalls    []AddChainParams
	SendCalls   []TxParams

	listeners map[int]Listener
	nextID    int
}

var _ Provider = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{listeners: map[int]Listener{}}
}

func (f *Fake) RequestAccounts(ctx context.Context) ([]string, error) {
	if f.RequestAccountsFn != nil {
		return f.RequestAccountsFn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.AccountList...), nil
}

func (f *Fake) Accounts(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.AccountList...), nil
}

func (f *Fake) ChainID(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).SetUint64(f.Chain), nil
}

func (f *Fake) SwitchChain(ctx context.Context, chainIDHex string) error {
	f.mu.Lock()
	f.SwitchCalls = append(f.SwitchCalls, chainIDHex)
	f.mu.Unlock()
	if f.SwitchChainFn != nil {
		return f.SwitchChainFn(ctx, chainIDHex)
	}
	return nil
}

func (f *Fake) AddChain(ctx context.Context, def AddChainParams) error {
	f.mu.Lock()
	f.AddCalls = append(f.AddCalls, def)
	f.mu.Unlock()
	if f.AddChainFn != nil {
		return f.AddChainFn(ctx, def)
	}
	return nil
}

func (f *Fake) SendTransaction(ctx context.Context, tx TxParams) (common.Hash, error) {
	f.mu.Lock()
	f.SendCalls = append(f.SendCalls, tx)
	f.mu.Unlock()
	if f.SendFn != nil {
		return f.SendFn(ctx, tx)
	}
	return common.HexToHash("0x01"), nil
}

func (f *Fake) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	if f.BalanceFn != nil {
		return f.BalanceFn(ctx, addr)
	}
	return big.NewInt(0), nil
}

func (f *Fake) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	if f.CodeFn != nil {
		return f.CodeFn(ctx, addr)
	}
	return []byte{0x60}, nil
}

func (f *Fake) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	if f.CallFn != nil {
		return f.CallFn(ctx, msg)
	}
	return nil, nil
}

func (f *Fake) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if f.ReceiptFn != nil {
		return f.ReceiptFn(ctx, txHash)
	}
	return nil, ethereum.NotFound
}

func (f *Fake) Subscribe(l Listener) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = l
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

// Emit delivers an event to all subscribers, standing in for the
// polling loop of the real provider.
func (f *Fake) Emit(ev Event) {
	f.mu.Lock()
	targets := make([]Listener, 0, len(f.listeners))
	for _, l := range f.listeners {
		targets = append(targets, l)
	}
	f.mu.Unlock()
	for _, l := range targets {
		l(ev)
	}
}

// SetAccounts swaps the authorized account list.
func (f *Fake) SetAccounts(accounts ...string) {
	f.mu.Lock()
	f.AccountList = accounts
	f.mu.Unlock()
}

// SetChain swaps the active chain id.
func (f *Fake) SetChain(id uint64) {
	f.mu.Lock()
	f.Chain = id
	f.mu.Unlock()
}

func (f *Fake) Close() {}

// CodedError is a provider error carrying an EIP-1193 code, matching
// the surface go-ethereum's rpc package exposes for coded errors.
type CodedError struct {
	Code    int
	Message string
}

func (e *CodedError) Error() string  { return e.Message }
func (e *CodedError) ErrorCode() int { return e.Code }
