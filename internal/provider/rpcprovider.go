package provider

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// pollInterval drives accountsChanged/chainChanged detection against
// wallet agents that do not push notifications.
const pollInterval = 4 * time.Second

type switchChainParam struct {
	ChainID string `json:"chainId"`
}

// RPCProvider talks to a local wallet agent over JSON-RPC for the
// wallet verbs and to a read endpoint for chain state. When no separate
// read endpoint is configured, reads go through the wallet connection.
type RPCProvider struct {
	wallet *rpc.Client
	read   *ethclient.Client
	log    *zap.Logger

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int

	lastAccounts []string
	lastChainID  uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// Dial connects to the wallet agent and, when readURL differs from the
// wallet endpoint, to the read endpoint, then starts change polling.
func Dial(ctx context.Context, walletURL, readURL string, log *zap.Logger) (*RPCProvider, error) {
	wallet, err := rpc.DialContext(ctx, walletURL)
	if err != nil {
		return nil, err
	}

	var read *ethclient.Client
	if readURL == "" || readURL == walletURL {
		read = ethclient.NewClient(wallet)
	} else {
		read, err = ethclient.DialContext(ctx, readURL)
		if err != nil {
			wallet.Close()
			return nil, err
		}
	}

	p := &RPCProvider{
		wallet:    wallet,
		read:      read,
		log:       log,
		listeners: map[int]Listener{},
		done:      make(chan struct{}),
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.poll(pollCtx)
	return p, nil
}

func (p *RPCProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := p.wallet.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (p *RPCProvider) Accounts(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := p.wallet.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (p *RPCProvider) ChainID(ctx context.Context) (*big.Int, error) {
	var hex string
	if err := p.wallet.CallContext(ctx, &hex, "eth_chainId"); err != nil {
		return nil, err
	}
	id, ok := new(big.Int).SetString(hex, 0)
	if !ok {
		return nil, fmt.Errorf("malformed chain id %q", hex)
	}
	return id, nil
}

func (p *RPCProvider) SwitchChain(ctx context.Context, chainIDHex string) error {
	return p.wallet.CallContext(ctx, nil, "wallet_switchEthereumChain", switchChainParam{ChainID: chainIDHex})
}

func (p *RPCProvider) AddChain(ctx context.Context, def AddChainParams) error {
	return p.wallet.CallContext(ctx, nil, "wallet_addEthereumChain", def)
}

func (p *RPCProvider) SendTransaction(ctx context.Context, tx TxParams) (common.Hash, error) {
	var hash common.Hash
	if err := p.wallet.CallContext(ctx, &hash, "eth_sendTransaction", tx); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func (p *RPCProvider) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return p.read.BalanceAt(ctx, addr, nil)
}

func (p *RPCProvider) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	return p.read.CodeAt(ctx, addr, nil)
}

func (p *RPCProvider) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return p.read.CallContract(ctx, msg, nil)
}

func (p *RPCProvider) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return p.read.TransactionReceipt(ctx, txHash)
}

func (p *RPCProvider) Subscribe(l Listener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = l
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *RPCProvider) Close() {
	p.cancel()
	<-p.done
	p.wallet.Close()
}

// poll watches eth_accounts and eth_chainId and emits change events.
// RPC errors are logged and skipped; a dropped poll never tears the
// session down on its own.
func (p *RPCProvider) poll(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		callCtx, cancel := context.WithTimeout(ctx, pollInterval)
		accounts, accErr := p.Accounts(callCtx)
		chainID, chainErr := p.ChainID(callCtx)
		cancel()

		if accErr != nil || chainErr != nil {
			p.log.Debug("wallet poll failed",
				zap.NamedError("accounts", accErr),
				zap.NamedError("chainId", chainErr))
			continue
		}

		p.mu.Lock()
		accountsChanged := !sameAccounts(p.lastAccounts, accounts)
		chainChanged := chainID.Uint64() != p.lastChainID && p.lastChainID != 0
		p.lastAccounts = accounts
		firstPoll := p.lastChainID == 0
		p.lastChainID = chainID.Uint64()
		targets := make([]Listener, 0, len(p.listeners))
		for _, l := range p.listeners {
			targets = append(targets, l)
		}
		p.mu.Unlock()

		if firstPoll {
			continue
		}
		if accountsChanged {
			for _, l := range targets {
				l(Event{Kind: EventAccountsChanged, Accounts: accounts})
			}
		}
		if chainChanged {
			for _, l := range targets {
				l(Event{Kind: EventChainChanged, ChainID: chainID.Uint64()})
			}
		}
	}
}

func sameAccounts(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
