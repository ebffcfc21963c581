// Package session owns the wallet connection: account, active chain,
// the wrong-network flag and the native balance. It reacts to wallet
// events and drives binding resolution and cache lifecycle on every
// session transition.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/hayq-io/hayq-dashboard/internal/chainerr"
	"github.com/hayq-io/hayq-dashboard/internal/config"
	"github.com/hayq-io/hayq-dashboard/internal/contract"
	"github.com/hayq-io/hayq-dashboard/internal/provider"
	"github.com/hayq-io/hayq-dashboard/internal/store"
	"github.com/hayq-io/hayq-dashboard/internal/units"
)

// nativeRefreshEvery drives the native balance ticker while connected
// on the correct network.
const nativeRefreshEvery = 15 * time.Second

// State is the session snapshot published to subscribers.
type State struct {
	Connected        bool   `json:"connected"`
	Account          string `json:"account,omitempty"`
	ChainID          uint64 `json:"chainId,omitempty"`
	WrongNetwork     bool   `json:"wrongNetwork"`
	NativeBalanceWei string `json:"nativeBalanceWei,omitempty"`
	NativeBalance    string `json:"nativeBalance,omitempty"`
}

// AccountAddress returns the connected account as an address, or the
// zero address when disconnected.
func (s State) AccountAddress() common.Address {
	if s.Account == "" {
		return common.Address{}
	}
	return common.HexToAddress(s.Account)
}

// Manager coordinates connect/disconnect/switch and wallet events.
type Manager struct {
	cfg      *config.Config
	prov     provider.Provider
	store    *store.Store
	cache    Invalidator
	resolver *contract.Resolver
	log      *zap.Logger

	mu        sync.Mutex
	st        State
	listeners map[int]func(State)
	nextID    int

	unsub func()
}

// Invalidator is the cache surface the session drives.
type Invalidator interface {
	PurgeAll()
	SetActive(account common.Address)
}

func NewManager(cfg *config.Config, prov provider.Provider, st *store.Store, inv Invalidator, resolver *contract.Resolver, log *zap.Logger) *Manager {
	m := &Manager{
		cfg:       cfg,
		prov:      prov,
		store:     st,
		cache:     inv,
		resolver:  resolver,
		log:       log,
		listeners: map[int]func(State){},
	}
	m.unsub = prov.Subscribe(m.handleEvent)
	return m
}

// State returns the current session snapshot.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

// Subscribe registers a state listener and returns its unsubscribe
// function.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Connect requests account access, reconciles the active chain with
// the target and marks the session connected. A chain mismatch that
// survives the switch attempt leaves the session connected with the
// wrong-network flag set; it is never silently cleared.
func (m *Manager) Connect(ctx context.Context) (State, error) {
	accounts, err := m.prov.RequestAccounts(ctx)
	if err != nil {
		return m.State(), classifyWalletError(err)
	}
	if len(accounts) == 0 {
		return m.State(), chainerr.New(chainerr.KindWalletNotFound, "wallet returned no accounts")
	}
	return m.establish(ctx, accounts[0])
}

// Resume silently restores a session at startup when one was active at
// last shutdown, using the already-authorized account list so the
// wallet is not prompted.
func (m *Manager) Resume(ctx context.Context) {
	if !m.store.PreviouslyConnected() {
		return
	}
	accounts, err := m.prov.Accounts(ctx)
	if err != nil || len(accounts) == 0 {
		m.log.Info("previous session not resumable", zap.Error(err))
		return
	}
	if _, err := m.establish(ctx, accounts[0]); err != nil {
		m.log.Warn("session resume failed", zap.Error(err))
	}
}

func (m *Manager) establish(ctx context.Context, account string) (State, error) {
	chainID, err := m.prov.ChainID(ctx)
	if err != nil {
		return m.State(), chainerr.Wrap(chainerr.KindRPCFailure, "chain id lookup failed", err)
	}

	active := chainID.Uint64()
	wrong := active != m.cfg.TargetChainID
	if wrong && m.switchToTarget(ctx) {
		active = m.cfg.TargetChainID
		wrong = false
	}

	addr := common.HexToAddress(account)

	// Entries keyed by a previous account are meaningless now.
	m.cache.PurgeAll()
	m.cache.SetActive(addr)

	if err := m.store.SetPreviouslyConnected(true); err != nil {
		m.log.Warn("persisting connection marker failed", zap.Error(err))
	}

	m.mu.Lock()
	m.st = State{
		Connected:    true,
		Account:      addr.Hex(),
		ChainID:      active,
		WrongNetwork: wrong,
	}
	m.mu.Unlock()

	m.resolver.Refresh(ctx, active)
	m.refreshNativeBalance(ctx)

	st := m.State()
	m.log.Info("wallet connected",
		zap.String("account", units.ShortenAddress(st.Account)),
		zap.Uint64("chainId", st.ChainID),
		zap.Bool("wrongNetwork", st.WrongNetwork))
	m.publish(st)
	return st, nil
}

// Disconnect clears the session, the persisted marker and all cached
// balance state.
func (m *Manager) Disconnect() State {
	m.mu.Lock()
	m.st = State{}
	m.mu.Unlock()

	m.cache.SetActive(common.Address{})
	m.cache.PurgeAll()
	m.resolver.Clear()
	if err := m.store.SetPreviouslyConnected(false); err != nil {
		m.log.Warn("clearing connection marker failed", zap.Error(err))
	}

	st := m.State()
	m.log.Info("wallet disconnected")
	m.publish(st)
	return st
}

// SwitchNetwork asks the wallet for the target chain, registering the
// chain definition first when the wallet does not know it. All failure
// paths resolve to false.
func (m *Manager) SwitchNetwork(ctx context.Context) bool {
	ok := m.switchToTarget(ctx)
	if ok {
		m.mu.Lock()
		m.st.ChainID = m.cfg.TargetChainID
		m.st.WrongNetwork = false
		m.mu.Unlock()

		m.resolver.Refresh(ctx, m.cfg.TargetChainID)
		m.refreshNativeBalance(ctx)
		m.publish(m.State())
	}
	return ok
}

func (m *Manager) switchToTarget(ctx context.Context) bool {
	hex := m.cfg.ChainIDHex()
	err := m.prov.SwitchChain(ctx, hex)
	if err == nil {
		return true
	}
	if !chainerr.IsUnrecognizedChain(err) {
		m.log.Warn("network switch failed", zap.Error(err))
		return false
	}

	// The wallet does not know the chain yet; register it and retry.
	def := provider.AddChainParams{
		ChainID:   hex,
		ChainName: m.cfg.NetworkName,
		RPCURLs:   []string{m.cfg.RPCURL},
		NativeCurrency: provider.AddChainCurrency{
			Name:     m.cfg.NativeCurrency.Name,
			Symbol:   m.cfg.NativeCurrency.Symbol,
			Decimals: m.cfg.NativeCurrency.Decimals,
		},
	}
	if m.cfg.BlockExplorer != "" {
		def.BlockExplorerURLs = []string{m.cfg.BlockExplorer}
	}
	if err := m.prov.AddChain(ctx, def); err != nil {
		m.log.Warn("chain registration failed", zap.Error(err))
		return false
	}
	if err := m.prov.SwitchChain(ctx, hex); err != nil {
		m.log.Warn("network switch failed after registration", zap.Error(err))
		return false
	}
	return true
}

// Run refreshes the native balance on a fixed interval while connected
// on the correct network, until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(nativeRefreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st := m.State()
		if !st.Connected || st.WrongNetwork {
			continue
		}
		if m.refreshNativeBalance(ctx) {
			m.publish(m.State())
		}
	}
}

// Close drops the provider subscription.
func (m *Manager) Close() {
	if m.unsub != nil {
		m.unsub()
	}
}

func (m *Manager) handleEvent(ev provider.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch ev.Kind {
	case provider.EventAccountsChanged:
		if len(ev.Accounts) == 0 {
			m.Disconnect()
			return
		}
		m.mu.Lock()
		connected := m.st.Connected
		m.mu.Unlock()
		if !connected {
			return
		}
		if _, err := m.establish(ctx, ev.Accounts[0]); err != nil {
			m.log.Warn("account switch failed", zap.Error(err))
		}

	case provider.EventChainChanged:
		m.mu.Lock()
		if !m.st.Connected {
			m.mu.Unlock()
			return
		}
		m.st.ChainID = ev.ChainID
		m.st.WrongNetwork = ev.ChainID != m.cfg.TargetChainID
		m.mu.Unlock()

		// State is re-derived in place; no restart needed.
		m.cache.PurgeAll()
		m.resolver.Refresh(ctx, ev.ChainID)
		m.refreshNativeBalance(ctx)
		m.publish(m.State())
	}
}

// refreshNativeBalance reads the account's native balance and reports
// whether the published value changed. Failures keep the previous
// value.
func (m *Manager) refreshNativeBalance(ctx context.Context) bool {
	st := m.State()
	if !st.Connected || st.WrongNetwork {
		return false
	}

	bal, err := m.prov.BalanceAt(ctx, st.AccountAddress())
	if err != nil {
		m.log.Debug("native balance refresh failed", zap.Error(err))
		return false
	}

	wei := bal.String()
	display := units.FormatTrim(bal, m.cfg.NativeCurrency.Decimals, 4)

	m.mu.Lock()
	changed := m.st.NativeBalanceWei != wei
	m.st.NativeBalanceWei = wei
	m.st.NativeBalance = display
	m.mu.Unlock()
	return changed
}

func (m *Manager) publish(st State) {
	m.mu.Lock()
	targets := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		targets = append(targets, fn)
	}
	m.mu.Unlock()
	for _, fn := range targets {
		fn(st)
	}
}

// classifyWalletError separates "no wallet reachable" from a declined
// prompt and other provider failures.
func classifyWalletError(err error) *chainerr.Error {
	norm := chainerr.Normalize(err)
	if norm.Kind != chainerr.KindRPCFailure {
		return norm
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "dial tcp") {
		return chainerr.Wrap(chainerr.KindWalletNotFound, "wallet provider unreachable", err)
	}
	return norm
}
