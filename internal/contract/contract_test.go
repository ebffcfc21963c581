package contract

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hayq-io/hayq-dashboard/internal/chainerr"
	"github.com/hayq-io/hayq-dashboard/internal/config"
)

var testAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// fakeCaller dispatches eth_call payloads to per-method handlers by
// selector. Methods without a handler revert, mimicking a contract
// that does not implement them.
type fakeCaller struct {
	code  []byte
	views map[string]func(args []any) ([]any, error)
}

func (f *fakeCaller) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	return f.code, nil
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	if len(msg.Data) < 4 {
		return nil, errors.New("execution reverted")
	}
	for name, m := range tokenABI.Methods {
		if string(m.ID) != string(msg.Data[:4]) {
			continue
		}
		handler, ok := f.views[name]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		args, err := m.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		out, err := handler(args)
		if err != nil {
			return nil, err
		}
		return m.Outputs.Pack(out...)
	}
	return nil, errors.New("execution reverted")
}

func erc20Views() map[string]func(args []any) ([]any, error) {
	return map[string]func(args []any) ([]any, error){
		"name":     func([]any) ([]any, error) { return []any{"HAYQ Token"}, nil },
		"symbol":   func([]any) ([]any, error) { return []any{"HAYQ"}, nil },
		"decimals": func([]any) ([]any, error) { return []any{uint8(18)}, nil },
		"totalSupply": func([]any) ([]any, error) {
			return []any{big.NewInt(1_000_000)}, nil
		},
		"balanceOf": func([]any) ([]any, error) {
			return []any{big.NewInt(42)}, nil
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{TargetChainID: 1, ContractAddress: testAddr.Hex()}
}

func resolveWith(t *testing.T, caller Caller, chainID uint64) (*Binding, *chainerr.Error) {
	t.Helper()
	r := NewResolver(testConfig(), caller, zap.NewNop())
	r.Refresh(context.Background(), chainID)
	return r.Current()
}

func TestResolveMissingConfiguration(t *testing.T) {
	r := NewResolver(&config.Config{TargetChainID: 1}, &fakeCaller{}, zap.NewNop())
	b, cerr := r.Current()
	assert.Nil(t, b)
	require.NotNil(t, cerr)
	assert.Equal(t, chainerr.KindMissingConfiguration, cerr.Kind)
}

func TestResolveWithheldOnWrongNetwork(t *testing.T) {
	caller := &fakeCaller{code: []byte{0x60}, views: erc20Views()}
	b, cerr := resolveWith(t, caller, 5)
	assert.Nil(t, b)
	assert.Nil(t, cerr)
}

func TestResolveNotDeployed(t *testing.T) {
	caller := &fakeCaller{code: nil}
	b, cerr := resolveWith(t, caller, 1)
	assert.Nil(t, b)
	require.NotNil(t, cerr)
	assert.Equal(t, chainerr.KindContractNotDeployed, cerr.Kind)
	assert.Contains(t, cerr.Message, testAddr.Hex())
	assert.Contains(t, cerr.Message, "chain 1")
	assert.Contains(t, cerr.Message, "target chain 1")
}

func TestResolveMetadata(t *testing.T) {
	caller := &fakeCaller{code: []byte{0x60}, views: erc20Views()}
	b, cerr := resolveWith(t, caller, 1)
	require.Nil(t, cerr)
	require.NotNil(t, b)
	assert.Equal(t, Metadata{Name: "HAYQ Token", Symbol: "HAYQ", Decimals: 18}, b.Meta())
}

func TestResolveMetadataDefaults(t *testing.T) {
	views := erc20Views()
	delete(views, "name")
	delete(views, "symbol")
	caller := &fakeCaller{code: []byte{0x60}, views: views}
	b, cerr := resolveWith(t, caller, 1)
	require.Nil(t, cerr)
	require.NotNil(t, b)
	assert.Equal(t, Metadata{Name: "Token", Symbol: "TOKEN", Decimals: 18}, b.Meta())
}

func TestResolveDecimalsFailureIsMetadataMismatch(t *testing.T) {
	views := erc20Views()
	delete(views, "decimals")
	caller := &fakeCaller{code: []byte{0x60}, views: views}
	b, cerr := resolveWith(t, caller, 1)
	assert.Nil(t, b)
	require.NotNil(t, cerr)
	assert.Equal(t, chainerr.KindMetadataMismatch, cerr.Kind)
}

func TestCapabilityProbe(t *testing.T) {
	views := erc20Views()
	views["staked"] = func([]any) ([]any, error) { return []any{big.NewInt(7)}, nil }
	views["stakedBalanceOf"] = func([]any) ([]any, error) { return []any{big.NewInt(500)}, nil }
	caller := &fakeCaller{code: []byte{0x60}, views: views}

	b, cerr := resolveWith(t, caller, 1)
	require.Nil(t, cerr)
	require.NotNil(t, b)

	assert.Equal(t, CapSupported, b.Capability(CapStaked))
	assert.Equal(t, CapSupported, b.Capability(CapTotalStaked))
	assert.Equal(t, CapUnsupported, b.Capability(CapVestingTotal))
	assert.Equal(t, CapUnsupported, b.Capability(CapVestingReleased))

	ctx := context.Background()

	staked, supported, err := b.Staked(ctx, testAddr)
	require.NoError(t, err)
	assert.True(t, supported)
	assert.Equal(t, int64(7), staked.Int64())

	vt, supported, err := b.VestingTotal(ctx, testAddr)
	require.NoError(t, err)
	assert.False(t, supported)
	assert.Zero(t, vt.Sign())

	total, supported, err := b.TotalStaked(ctx)
	require.NoError(t, err)
	assert.True(t, supported)
	assert.Equal(t, int64(500), total.Int64())
}

func TestProbeTransportErrorIsFailed(t *testing.T) {
	views := erc20Views()
	views["staked"] = func([]any) ([]any, error) { return nil, errors.New("connection refused") }
	caller := &fakeCaller{code: []byte{0x60}, views: views}

	b, cerr := resolveWith(t, caller, 1)
	require.Nil(t, cerr)
	assert.Equal(t, CapFailed, b.Capability(CapStaked))

	// A failed capability reads as absent.
	v, supported, err := b.Staked(context.Background(), testAddr)
	require.NoError(t, err)
	assert.False(t, supported)
	assert.Zero(t, v.Sign())
}

func TestPackTransfer(t *testing.T) {
	caller := &fakeCaller{code: []byte{0x60}, views: erc20Views()}
	b, cerr := resolveWith(t, caller, 1)
	require.Nil(t, cerr)

	data, err := b.PackTransfer(testAddr, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, tokenABI.Methods["transfer"].ID, data[:4])
}
