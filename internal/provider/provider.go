// Package provider abstracts the wallet provider the dashboard talks
// to: account access, chain switching, transaction submission and the
// read-only RPC surface, plus wallet-originated change notifications.
// The production implementation speaks JSON-RPC to a local wallet
// agent; tests construct the session against a fake.
package provider

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EventKind identifies a wallet-originated notification.
type EventKind string

const (
	EventAccountsChanged EventKind = "accountsChanged"
	EventChainChanged    EventKind = "chainChanged"
)

// Event is a wallet-originated state change.
type Event struct {
	Kind     EventKind
	Accounts []string // accountsChanged: current account list, may be empty
	ChainID  uint64   // chainChanged: new active chain id
}

// Listener receives wallet events. Delivery is sequential per
// subscriber.
type Listener func(Event)

// AddChainParams is the wallet_addEthereumChain network descriptor.
type AddChainParams struct {
	ChainID           string             `json:"chainId"`
	ChainName         string             `json:"chainName"`
	RPCURLs           []string           `json:"rpcUrls"`
	NativeCurrency    AddChainCurrency   `json:"nativeCurrency"`
	BlockExplorerURLs []string           `json:"blockExplorerUrls,omitempty"`
}

// AddChainCurrency describes the native currency inside AddChainParams.
type AddChainCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// TxParams is the eth_sendTransaction request shape. The wallet signs;
// no key material passes through the dashboard.
type TxParams struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value,omitempty"` // hex quantity
	Data  string `json:"data,omitempty"`  // hex bytes
}

// Provider is the full wallet/provider boundary. All blocking
// operations take a context.
type Provider interface {
	// RequestAccounts prompts the wallet for account access
	// (eth_requestAccounts).
	RequestAccounts(ctx context.Context) ([]string, error)
	// Accounts returns already-authorized accounts without prompting
	// (eth_accounts).
	Accounts(ctx context.Context) ([]string, error)
	// ChainID returns the wallet's active chain id.
	ChainID(ctx context.Context) (*big.Int, error)
	// SwitchChain asks the wallet to switch to the given chain
	// (wallet_switchEthereumChain). An unrecognized chain surfaces as
	// error code 4902.
	SwitchChain(ctx context.Context, chainIDHex string) error
	// AddChain registers a chain definition with the wallet
	// (wallet_addEthereumChain).
	AddChain(ctx context.Context, def AddChainParams) error
	// SendTransaction submits a wallet-signed transaction and returns
	// the pending transaction hash.
	SendTransaction(ctx context.Context, tx TxParams) (common.Hash, error)

	// Read surface.
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	// Subscribe registers a listener for wallet events and returns its
	// unsubscribe function. Unsubscription must be idempotent.
	Subscribe(l Listener) (unsubscribe func())

	// Close releases the underlying connections and stops event
	// delivery.
	Close()
}
