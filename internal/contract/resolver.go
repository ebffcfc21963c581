package contract

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/hayq-io/hayq-dashboard/internal/chainerr"
	"github.com/hayq-io/hayq-dashboard/internal/config"
)

// Resolver owns the current contract binding. It re-resolves whenever
// the session's chain changes and exposes the result as a nullable
// binding plus a nullable standing error; downstream code treats any
// non-nil error as "contract unusable".
type Resolver struct {
	cfg    *config.Config
	caller Caller
	log    *zap.Logger

	mu      sync.Mutex
	binding *Binding
	err     *chainerr.Error
}

func NewResolver(cfg *config.Config, caller Caller, log *zap.Logger) *Resolver {
	r := &Resolver{cfg: cfg, caller: caller, log: log}
	r.err = cfg.ConfigurationError()
	return r
}

// Current returns the binding and standing error as last resolved. A
// nil binding with a nil error means resolution is withheld (wrong
// network or not yet attempted).
func (r *Resolver) Current() (*Binding, *chainerr.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.binding, r.err
}

// Refresh re-resolves the binding against the given active chain.
// Resolution is withheld entirely while off the target chain; a
// binding against the wrong chain would be meaningless.
func (r *Resolver) Refresh(ctx context.Context, activeChainID uint64) {
	binding, cerr := r.resolve(ctx, activeChainID)

	r.mu.Lock()
	r.binding = binding
	r.err = cerr
	r.mu.Unlock()

	switch {
	case cerr != nil:
		r.log.Warn("contract binding unusable",
			zap.String("kind", string(cerr.Kind)),
			zap.String("error", cerr.Message))
	case binding != nil:
		r.log.Info("contract bound",
			zap.String("address", binding.Address().Hex()),
			zap.String("symbol", binding.Meta().Symbol),
			zap.Uint8("decimals", binding.Meta().Decimals))
	}
}

// Clear drops the binding, keeping only a possible configuration
// error. Used on disconnect.
func (r *Resolver) Clear() {
	r.mu.Lock()
	r.binding = nil
	r.err = r.cfg.ConfigurationError()
	r.mu.Unlock()
}

func (r *Resolver) resolve(ctx context.Context, activeChainID uint64) (*Binding, *chainerr.Error) {
	if cerr := r.cfg.ConfigurationError(); cerr != nil {
		return nil, cerr
	}
	if activeChainID != r.cfg.TargetChainID {
		return nil, nil
	}

	addr := common.HexToAddress(r.cfg.ContractAddress)

	code, err := r.caller.CodeAt(ctx, addr)
	if err != nil {
		return nil, chainerr.Wrap(chainerr.KindRPCFailure, "bytecode lookup failed", err)
	}
	if len(code) == 0 {
		return nil, chainerr.Newf(chainerr.KindContractNotDeployed,
			"no contract code at %s on chain %d (target chain %d)",
			addr.Hex(), activeChainID, r.cfg.TargetChainID)
	}

	meta, cerr := fetchMetadata(ctx, r.caller, addr)
	if cerr != nil {
		return nil, cerr
	}

	b := &Binding{
		addr:   addr,
		caller: r.caller,
		meta:   meta,
		caps:   probeCapabilities(ctx, r.caller, addr),
	}
	return b, nil
}

// fetchMetadata reads name/symbol/decimals. Name and symbol fall back
// to defaults when unreadable; an unreadable decimals means amounts
// cannot be interpreted at all and is a metadata mismatch.
func fetchMetadata(ctx context.Context, caller Caller, addr common.Address) (Metadata, *chainerr.Error) {
	meta := Metadata{Name: defaultName, Symbol: defaultSymbol, Decimals: defaultDecimals}

	if out, err := callView(ctx, caller, addr, "decimals"); err != nil {
		return Metadata{}, chainerr.Wrap(chainerr.KindMetadataMismatch,
			"token metadata unreadable at "+addr.Hex(), err)
	} else if d, ok := out[0].(uint8); ok {
		meta.Decimals = d
	}

	if out, err := callView(ctx, caller, addr, "name"); err == nil {
		if s, ok := out[0].(string); ok && s != "" {
			meta.Name = s
		}
	}
	if out, err := callView(ctx, caller, addr, "symbol"); err == nil {
		if s, ok := out[0].(string); ok && s != "" {
			meta.Symbol = s
		}
	}
	return meta, nil
}

// probeCapabilities calls each optional function once, with the zero
// address for account-scoped views, and records the tri-state outcome.
func probeCapabilities(ctx context.Context, caller Caller, addr common.Address) map[Capability]CapState {
	zero := common.Address{}
	probes := []struct {
		cap    Capability
		method string
		args   []any
	}{
		{CapStaked, "staked", []any{zero}},
		{CapVestingTotal, "vestingTotal", []any{zero}},
		{CapVestingReleased, "vestingReleased", []any{zero}},
		{CapTotalStaked, "stakedBalanceOf", []any{zero}},
	}

	caps := make(map[Capability]CapState, len(probes))
	for _, p := range probes {
		_, err := callView(ctx, caller, addr, p.method, p.args...)
		caps[p.cap] = classifyProbe(err)
	}
	return caps
}
