// Package contract verifies the configured token contract on the
// active chain and exposes a typed binding over its read and write
// surface. Optional functions (staking, vesting) are probed once at
// bind time; the resulting capability set is immutable for the
// binding's lifetime.
package contract

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Caller is the minimal read surface the binding needs from the chain.
// Satisfied by internal/provider implementations.
type Caller interface {
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// CapState classifies an optional contract function for one binding.
type CapState string

const (
	// CapSupported: the probe call succeeded; the function is used.
	CapSupported CapState = "supported"
	// CapFailed: the function appears to exist but the probe call
	// errored; reads treat it as absent but status reports it
	// distinctly.
	CapFailed CapState = "failed"
	// CapUnsupported: the contract does not implement the function.
	CapUnsupported CapState = "unsupported"
)

// Capability names the probed optional functions.
type Capability string

const (
	CapStaked          Capability = "staked"
	CapVestingTotal    Capability = "vestingTotal"
	CapVestingReleased Capability = "vestingReleased"
	CapTotalStaked     Capability = "totalStaked"
)

// Metadata is the token's descriptive metadata, with defaults applied
// for fields the contract does not expose.
type Metadata struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

const (
	defaultName     = "Token"
	defaultSymbol   = "TOKEN"
	defaultDecimals = 18
)

// Binding is a verified read/write handle on the token contract. Reads
// are safe without an account; writes only produce calldata, signing
// stays with the wallet.
type Binding struct {
	addr   common.Address
	caller Caller
	meta   Metadata
	caps   map[Capability]CapState
}

func (b *Binding) Address() common.Address { return b.addr }
func (b *Binding) Meta() Metadata          { return b.meta }
func (b *Binding) Decimals() uint8         { return b.meta.Decimals }

// Capability returns the probed state of an optional function.
func (b *Binding) Capability(c Capability) CapState {
	if s, ok := b.caps[c]; ok {
		return s
	}
	return CapUnsupported
}

// Capabilities returns a copy of the full capability set.
func (b *Binding) Capabilities() map[Capability]CapState {
	out := make(map[Capability]CapState, len(b.caps))
	for k, v := range b.caps {
		out[k] = v
	}
	return out
}

func (b *Binding) supports(c Capability) bool {
	return b.caps[c] == CapSupported
}

// BalanceOf reads the required token balance. Failures propagate to
// the caller; the cache decides how to degrade.
func (b *Binding) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return b.callUint(ctx, "balanceOf", account)
}

// Staked reads the account's staked balance. The second return is
// false when the contract does not support staking; the value is then
// zero and err is nil.
func (b *Binding) Staked(ctx context.Context, account common.Address) (*big.Int, bool, error) {
	if !b.supports(CapStaked) {
		return big.NewInt(0), false, nil
	}
	v, err := b.callUint(ctx, "staked", account)
	return v, true, err
}

// VestingTotal reads the account's total vesting entitlement.
func (b *Binding) VestingTotal(ctx context.Context, account common.Address) (*big.Int, bool, error) {
	if !b.supports(CapVestingTotal) {
		return big.NewInt(0), false, nil
	}
	v, err := b.callUint(ctx, "vestingTotal", account)
	return v, true, err
}

// VestingReleased reads the account's already-released vesting amount.
func (b *Binding) VestingReleased(ctx context.Context, account common.Address) (*big.Int, bool, error) {
	if !b.supports(CapVestingReleased) {
		return big.NewInt(0), false, nil
	}
	v, err := b.callUint(ctx, "vestingReleased", account)
	return v, true, err
}

// TotalSupply reads the token's total supply.
func (b *Binding) TotalSupply(ctx context.Context) (*big.Int, error) {
	return b.callUint(ctx, "totalSupply")
}

// TotalStaked reads the global staked amount. The deployed token
// reports it through stakedBalanceOf of the zero address.
func (b *Binding) TotalStaked(ctx context.Context) (*big.Int, bool, error) {
	if !b.supports(CapTotalStaked) {
		return big.NewInt(0), false, nil
	}
	v, err := b.callUint(ctx, "stakedBalanceOf", common.Address{})
	return v, true, err
}

// PackTransfer builds transfer(to, amount) calldata.
func (b *Binding) PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return tokenABI.Pack("transfer", to, amount)
}

// PackStake builds stake(amount) calldata.
func (b *Binding) PackStake(amount *big.Int) ([]byte, error) {
	return tokenABI.Pack("stake", amount)
}

// PackUnstake builds unstake(amount) calldata.
func (b *Binding) PackUnstake(amount *big.Int) ([]byte, error) {
	return tokenABI.Pack("unstake", amount)
}

// PackClaimDividends builds claimDividends() calldata.
func (b *Binding) PackClaimDividends() ([]byte, error) {
	return tokenABI.Pack("claimDividends")
}

func (b *Binding) callUint(ctx context.Context, method string, args ...any) (*big.Int, error) {
	out, err := callView(ctx, b.caller, b.addr, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected return type %T", method, out[0])
	}
	return v, nil
}

func callView(ctx context.Context, caller Caller, addr common.Address, method string, args ...any) ([]any, error) {
	data, err := tokenABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("call %s: empty return data", method)
	}
	out, err := tokenABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// classifyProbe turns a probe call outcome into a capability state. A
// revert or empty return data means the function is not implemented; a
// transport error leaves the question open and is recorded as failed.
func classifyProbe(err error) CapState {
	if err == nil {
		return CapSupported
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "revert") || strings.Contains(msg, "empty return data") || strings.Contains(msg, "unpack") {
		return CapUnsupported
	}
	return CapFailed
}
