package txflow

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hayq-io/hayq-dashboard/internal/cache"
	"github.com/hayq-io/hayq-dashboard/internal/chainerr"
	"github.com/hayq-io/hayq-dashboard/internal/config"
	"github.com/hayq-io/hayq-dashboard/internal/provider"
	"github.com/hayq-io/hayq-dashboard/internal/session"
)

var (
	contractAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	account      = "0x00000000000000000000000000000000000000Aa"
	recipient    = "0x00000000000000000000000000000000000000Bb"
)

type fakeSessions struct{ st session.State }

func (f *fakeSessions) State() session.State { return f.st }

func connectedSession() *fakeSessions {
	return &fakeSessions{st: session.State{Connected: true, Account: account, ChainID: 1}}
}

type fakeBinding struct{}

func (fakeBinding) Address() common.Address { return contractAddr }
func (fakeBinding) Decimals() uint8         { return 18 }
func (fakeBinding) PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return []byte{0xa9, 0x05, 0x9c, 0xbb}, nil
}
func (fakeBinding) PackStake(amount *big.Int) ([]byte, error) {
	return []byte{0xa6, 0x94, 0xfc, 0x3a}, nil
}
func (fakeBinding) PackUnstake(amount *big.Int) ([]byte, error) {
	return []byte{0x2e, 0x17, 0xde, 0x78}, nil
}

func bindingSource() BindingSource {
	return func() (Binding, *chainerr.Error) { return fakeBinding{}, nil }
}

// fakeBalances tracks every cache interaction so tests can assert
// ordering and rollback arguments.
type fakeBalances struct {
	mu          sync.Mutex
	snap        cache.Snapshot
	invalidated int
	rollbacks   []cache.Snapshot
}

func newFakeBalances(balance, staked int64) *fakeBalances {
	snap := cache.Zero()
	snap.Balance = big.NewInt(balance)
	snap.Staked = big.NewInt(staked)
	return &fakeBalances{snap: snap}
}

func (f *fakeBalances) Get(ctx context.Context, _ common.Address) cache.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap.Clone()
}

func (f *fakeBalances) Invalidate(_ common.Address) {
	f.mu.Lock()
	f.invalidated++
	f.mu.Unlock()
}

func (f *fakeBalances) ApplyStakeOptimistic(_ common.Address, amount *big.Int) cache.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	pre := f.snap.Clone()
	f.snap.Balance.Sub(f.snap.Balance, amount)
	f.snap.Staked.Add(f.snap.Staked, amount)
	return pre
}

func (f *fakeBalances) ApplyUnstakeOptimistic(_ common.Address, amount *big.Int) cache.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	pre := f.snap.Clone()
	f.snap.Staked.Sub(f.snap.Staked, amount)
	f.snap.Balance.Add(f.snap.Balance, amount)
	return pre
}

func (f *fakeBalances) Rollback(_ common.Address, snap cache.Snapshot) {
	f.mu.Lock()
	f.rollbacks = append(f.rollbacks, snap.Clone())
	f.snap = snap.Clone()
	f.mu.Unlock()
}

func (f *fakeBalances) invalidations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invalidated
}

func testConfig() *config.Config {
	return &config.Config{TargetChainID: 1, BlockExplorer: "https://explorer.test"}
}

func newController(sessions Sessions, sender Sender, balances Balances) *Controller {
	c := NewController(testConfig(), sender, sessions, bindingSource(), balances, zap.NewNop())
	c.pollInterval = 5 * time.Millisecond
	c.confirmTimeout = time.Second
	return c
}

func collectEvents(c *Controller) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	unsub := c.Subscribe(func(ev Event) { ch <- ev })
	return ch, unsub
}

func waitForPhase(t *testing.T, ch <-chan Event, phase Phase) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Phase == phase {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", phase)
		}
	}
}

func successReceipt() *types.Receipt {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}
}

func TestTransferValidation(t *testing.T) {
	fake := provider.NewFake()
	c := newController(connectedSession(), fake, newFakeBalances(1000, 0))
	ctx := context.Background()

	cases := []struct {
		name   string
		to     string
		amount string
		field  string
	}{
		{"bad recipient", "not-an-address", "10", "to"},
		{"empty amount", recipient, "", "amount"},
		{"zero amount", recipient, "0", "amount"},
		{"negative amount", recipient, "-1", "amount"},
		{"exceeds balance", recipient, "2000", "amount"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Transfer(ctx, tc.to, tc.amount)
			require.Error(t, err)
			var cerr *chainerr.Error
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, chainerr.KindValidation, cerr.Kind)
			assert.Equal(t, tc.field, cerr.Field)
		})
	}
	assert.Empty(t, fake.SendCalls, "validation failures must never reach the chain")
}

func TestTransferLifecycle(t *testing.T) {
	fake := provider.NewFake()
	balances := newFakeBalances(1000e15, 0)

	invalidatedAtConfirm := make(chan int, 1)
	fake.ReceiptFn = func(ctx context.Context, _ common.Hash) (*types.Receipt, error) {
		return successReceipt(), nil
	}

	c := newController(connectedSession(), fake, balances)
	ch, unsub := collectEvents(c)
	defer unsub()
	c.Subscribe(func(ev Event) {
		if ev.Phase == PhaseConfirmed {
			invalidatedAtConfirm <- balances.invalidations()
		}
	})

	ev, err := c.Transfer(context.Background(), recipient, "0.5")
	require.NoError(t, err)
	assert.Equal(t, PhaseBroadcast, ev.Phase)
	assert.NotEmpty(t, ev.TxHash)
	assert.Contains(t, ev.ShortHash, "...")
	assert.Contains(t, ev.ExplorerURL, "https://explorer.test/tx/")

	waitForPhase(t, ch, PhaseSubmitted)
	waitForPhase(t, ch, PhaseBroadcast)
	waitForPhase(t, ch, PhaseConfirmed)

	// The ordering guarantee: invalidation lands before the confirmed
	// event is published.
	assert.Equal(t, 1, <-invalidatedAtConfirm)
	assert.Empty(t, balances.rollbacks)
}

func TestStakeRevertRollsBack(t *testing.T) {
	fake := provider.NewFake()
	fake.ReceiptFn = func(ctx context.Context, _ common.Hash) (*types.Receipt, error) {
		return &types.Receipt{Status: types.ReceiptStatusFailed}, nil
	}
	balances := newFakeBalances(500, 100)

	c := newController(connectedSession(), fake, balances)
	ch, unsub := collectEvents(c)
	defer unsub()

	_, err := c.Stake(context.Background(), "200")
	require.NoError(t, err, "broadcast succeeds; the revert is discovered later")

	// Optimistic shift is visible while the transaction is in flight.
	mid := balances.Get(context.Background(), common.HexToAddress(account))
	assert.Equal(t, int64(300), mid.Balance.Int64())
	assert.Equal(t, int64(300), mid.Staked.Int64())

	ev := waitForPhase(t, ch, PhaseFailed)
	require.NotNil(t, ev.Error)
	assert.Equal(t, chainerr.KindReverted, ev.Error.Kind)

	require.Len(t, balances.rollbacks, 1)
	assert.Equal(t, int64(500), balances.rollbacks[0].Balance.Int64())
	assert.Equal(t, int64(100), balances.rollbacks[0].Staked.Int64())

	after := balances.Get(context.Background(), common.HexToAddress(account))
	assert.Equal(t, int64(500), after.Balance.Int64())
	assert.Equal(t, int64(100), after.Staked.Int64())
}

func TestStakeUserRejectedRollsBack(t *testing.T) {
	fake := provider.NewFake()
	fake.SendFn = func(ctx context.Context, tx provider.TxParams) (common.Hash, error) {
		return common.Hash{}, &provider.CodedError{Code: 4001, Message: "user rejected the request"}
	}
	balances := newFakeBalances(500, 0)

	c := newController(connectedSession(), fake, balances)
	_, err := c.Stake(context.Background(), "100")
	require.Error(t, err)
	assert.Equal(t, chainerr.KindUserRejected, chainerr.KindOf(err))
	require.Len(t, balances.rollbacks, 1)
	assert.Equal(t, int64(500), balances.rollbacks[0].Balance.Int64())
}

func TestRevertReasonExtraction(t *testing.T) {
	fake := provider.NewFake()
	fake.SendFn = func(ctx context.Context, tx provider.TxParams) (common.Hash, error) {
		return common.Hash{}, &provider.CodedError{Code: 3, Message: `execution reverted: "stake: amount below minimum"`}
	}
	c := newController(connectedSession(), fake, newFakeBalances(500, 0))

	_, err := c.Stake(context.Background(), "100")
	require.Error(t, err)
	var cerr *chainerr.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, chainerr.KindReverted, cerr.Kind)
	assert.Equal(t, "stake: amount below minimum", cerr.Reason)
}

func TestIdempotencyGuard(t *testing.T) {
	fake := provider.NewFake()
	fake.ReceiptFn = func(ctx context.Context, _ common.Hash) (*types.Receipt, error) {
		return nil, ethereum.NotFound
	}
	c := newController(connectedSession(), fake, newFakeBalances(1000, 1000))
	ctx := context.Background()

	_, err := c.Stake(ctx, "1")
	require.NoError(t, err)

	_, err = c.Stake(ctx, "1")
	require.Error(t, err, "duplicate of an in-flight kind must be rejected")
	assert.Equal(t, chainerr.KindValidation, chainerr.KindOf(err))

	// Unrelated kinds are not serialized.
	_, err = c.Unstake(ctx, "1")
	require.NoError(t, err)

	assert.Len(t, fake.SendCalls, 2)
}

func TestGuardReleasedAfterFailure(t *testing.T) {
	fake := provider.NewFake()
	fake.SendFn = func(ctx context.Context, tx provider.TxParams) (common.Hash, error) {
		return common.Hash{}, &provider.CodedError{Code: 4001, Message: "user rejected the request"}
	}
	c := newController(connectedSession(), fake, newFakeBalances(1000, 0))
	ctx := context.Background()

	_, err := c.Stake(ctx, "1")
	require.Error(t, err)
	_, err = c.Stake(ctx, "1")
	require.Error(t, err)
	assert.Equal(t, chainerr.KindUserRejected, chainerr.KindOf(err),
		"guard must be released after a failed attempt")
}

func TestWrongNetworkBlocksSubmission(t *testing.T) {
	fake := provider.NewFake()
	sessions := &fakeSessions{st: session.State{Connected: true, Account: account, ChainID: 5, WrongNetwork: true}}
	c := newController(sessions, fake, newFakeBalances(1000, 0))

	_, err := c.Transfer(context.Background(), recipient, "1")
	require.Error(t, err)
	assert.Equal(t, chainerr.KindWrongNetwork, chainerr.KindOf(err))
	assert.Empty(t, fake.SendCalls)
}

func TestDisconnectedBlocksSubmission(t *testing.T) {
	fake := provider.NewFake()
	c := newController(&fakeSessions{}, fake, newFakeBalances(0, 0))

	_, err := c.Stake(context.Background(), "1")
	require.Error(t, err)
	assert.Equal(t, chainerr.KindWalletNotFound, chainerr.KindOf(err))
}

func TestClaimNotConfigured(t *testing.T) {
	fake := provider.NewFake()
	c := newController(connectedSession(), fake, newFakeBalances(0, 0))

	assert.False(t, c.ClaimAvailable())
	_, err := c.Claim(context.Background())
	require.Error(t, err)
	assert.Equal(t, chainerr.KindMissingConfiguration, chainerr.KindOf(err))
	assert.Empty(t, fake.SendCalls)
}
