// Package txflow runs one state machine per user-initiated write:
// validation, wallet submission, broadcast tracking and confirmation,
// with optimistic cache edits rolled back on failure.
package txflow

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hayq-io/hayq-dashboard/internal/cache"
	"github.com/hayq-io/hayq-dashboard/internal/chainerr"
	"github.com/hayq-io/hayq-dashboard/internal/config"
	"github.com/hayq-io/hayq-dashboard/internal/provider"
	"github.com/hayq-io/hayq-dashboard/internal/session"
	"github.com/hayq-io/hayq-dashboard/internal/units"
)

// Phase is a transaction lifecycle state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSubmitted Phase = "submitted"
	PhaseBroadcast Phase = "broadcast"
	PhaseConfirmed Phase = "confirmed"
	PhaseFailed    Phase = "failed"
)

// Kind names a user-initiated action. The idempotency guard is keyed
// by kind: unrelated actions run concurrently, a duplicate of an
// in-flight kind is rejected before signing.
type Kind string

const (
	KindTransfer Kind = "transfer"
	KindStake    Kind = "stake"
	KindUnstake  Kind = "unstake"
	KindClaim    Kind = "claim"
)

// Event reports a phase transition for one action instance.
type Event struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Phase       Phase           `json:"phase"`
	TxHash      string          `json:"txHash,omitempty"`
	ShortHash   string          `json:"shortHash,omitempty"`
	ExplorerURL string          `json:"explorerUrl,omitempty"`
	Error       *chainerr.Error `json:"error,omitempty"`
}

// Binding is the write surface txflow needs from the bound contract.
type Binding interface {
	Address() common.Address
	Decimals() uint8
	PackTransfer(to common.Address, amount *big.Int) ([]byte, error)
	PackStake(amount *big.Int) ([]byte, error)
	PackUnstake(amount *big.Int) ([]byte, error)
}

// Balances is the cache surface txflow drives: validation reads,
// optimistic edits, rollback and post-confirmation invalidation.
type Balances interface {
	Get(ctx context.Context, account common.Address) cache.Snapshot
	Invalidate(account common.Address)
	ApplyStakeOptimistic(account common.Address, amount *big.Int) cache.Snapshot
	ApplyUnstakeOptimistic(account common.Address, amount *big.Int) cache.Snapshot
	Rollback(account common.Address, snap cache.Snapshot)
}

// Sessions exposes the current session state.
type Sessions interface {
	State() session.State
}

// Sender submits wallet-signed transactions and tracks receipts.
type Sender interface {
	SendTransaction(ctx context.Context, tx provider.TxParams) (common.Hash, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// BindingSource returns the current binding and standing error.
type BindingSource func() (Binding, *chainerr.Error)

// Controller coordinates all in-flight actions.
type Controller struct {
	cfg      *config.Config
	sender   Sender
	sessions Sessions
	binding  BindingSource
	balances Balances
	log      *zap.Logger

	confirmTimeout time.Duration
	pollInterval   time.Duration

	mu        sync.Mutex
	inflight  map[Kind]bool
	listeners map[int]func(Event)
	nextID    int
}

func NewController(cfg *config.Config, sender Sender, sessions Sessions, binding BindingSource, balances Balances, log *zap.Logger) *Controller {
	return &Controller{
		cfg:            cfg,
		sender:         sender,
		sessions:       sessions,
		binding:        binding,
		balances:       balances,
		log:            log,
		confirmTimeout: 3 * time.Minute,
		pollInterval:   2 * time.Second,
		inflight:       map[Kind]bool{},
		listeners:      map[int]func(Event){},
	}
}

// Subscribe registers a phase listener and returns its unsubscribe
// function.
func (c *Controller) Subscribe(fn func(Event)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Transfer submits transfer(to, amount). The returned event reflects
// the broadcast transition; confirmation arrives via Subscribe.
func (c *Controller) Transfer(ctx context.Context, to, amount string) (Event, error) {
	if !common.IsHexAddress(to) {
		return Event{}, chainerr.Validation("to", "recipient is not a valid address")
	}
	recipient := common.HexToAddress(to)

	return c.run(ctx, KindTransfer, amount, available, nil,
		func(b Binding, amt *big.Int) ([]byte, error) {
			return b.PackTransfer(recipient, amt)
		})
}

// Stake submits stake(amount) with an optimistic balance shift.
func (c *Controller) Stake(ctx context.Context, amount string) (Event, error) {
	return c.run(ctx, KindStake, amount, available, c.balances.ApplyStakeOptimistic,
		func(b Binding, amt *big.Int) ([]byte, error) {
			return b.PackStake(amt)
		})
}

// Unstake submits unstake(amount) with the mirrored optimistic shift.
func (c *Controller) Unstake(ctx context.Context, amount string) (Event, error) {
	return c.run(ctx, KindUnstake, amount, staked, c.balances.ApplyUnstakeOptimistic,
		func(b Binding, amt *big.Int) ([]byte, error) {
			return b.PackUnstake(amt)
		})
}

// ClaimAvailable reports whether dividend claiming is wired up. The
// distribution contract is not configured yet, so claims surface as a
// disabled state instead of reaching the chain.
func (c *Controller) ClaimAvailable() bool { return false }

// Claim rejects the action while claiming is unconfigured.
func (c *Controller) Claim(ctx context.Context) (Event, error) {
	return Event{}, chainerr.New(chainerr.KindMissingConfiguration,
		"dividend claiming is not configured")
}

// limitField selects which cached balance bounds the amount.
type limitField int

const (
	available limitField = iota
	staked
)

type packFunc func(b Binding, amount *big.Int) ([]byte, error)
type optimisticFunc func(account common.Address, amount *big.Int) cache.Snapshot

// run drives one action instance through the full lifecycle. It
// returns once the transaction is broadcast (or failed earlier);
// confirmation is awaited in the background.
func (c *Controller) run(ctx context.Context, kind Kind, amount string, limit limitField, optimistic optimisticFunc, pack packFunc) (Event, error) {
	st := c.sessions.State()
	if !st.Connected {
		return Event{}, chainerr.New(chainerr.KindWalletNotFound, "no wallet connected")
	}
	if st.WrongNetwork {
		return Event{}, chainerr.Newf(chainerr.KindWrongNetwork,
			"wallet is on chain %d, expected %d", st.ChainID, c.cfg.TargetChainID)
	}

	b, cerr := c.binding()
	if cerr != nil {
		return Event{}, cerr
	}
	if b == nil {
		return Event{}, chainerr.New(chainerr.KindWrongNetwork, "contract binding unavailable")
	}

	account := st.AccountAddress()
	amt, verr := c.validateAmount(ctx, account, amount, b.Decimals(), limit)
	if verr != nil {
		return Event{}, verr
	}

	if !c.acquire(kind) {
		return Event{}, chainerr.Newf(chainerr.KindValidation,
			"a %s is already in flight", kind)
	}

	ev := Event{ID: uuid.NewString(), Kind: kind, Phase: PhaseSubmitted}
	c.publish(ev)

	// Snapshot and optimistic edit land before submission so any
	// later failure restores pre-speculation state.
	var pre *cache.Snapshot
	if optimistic != nil {
		snap := optimistic(account, amt)
		pre = &snap
	}

	data, err := pack(b, amt)
	if err != nil {
		return c.fail(ev, account, pre, chainerr.Wrap(chainerr.KindRPCFailure, "encode call", err))
	}

	hash, err := c.sender.SendTransaction(ctx, provider.TxParams{
		From: account.Hex(),
		To:   b.Address().Hex(),
		Data: hexutil.Encode(data),
	})
	if err != nil {
		return c.fail(ev, account, pre, chainerr.Normalize(err))
	}

	ev.Phase = PhaseBroadcast
	ev.TxHash = hash.Hex()
	ev.ShortHash = units.ShortenHash(hash.Hex())
	ev.ExplorerURL = c.cfg.ExplorerTxURL(hash.Hex())
	c.log.Info("transaction broadcast",
		zap.String("kind", string(kind)), zap.String("tx", ev.ShortHash))
	c.publish(ev)

	go c.awaitReceipt(ev, account, pre)
	return ev, nil
}

func (c *Controller) validateAmount(ctx context.Context, account common.Address, amount string, decimals uint8, limit limitField) (*big.Int, *chainerr.Error) {
	amt, err := units.Parse(amount, decimals)
	if err != nil {
		return nil, chainerr.Validation("amount", err.Error())
	}
	if amt.Sign() <= 0 {
		return nil, chainerr.Validation("amount", "amount must be greater than zero")
	}

	snap := c.balances.Get(ctx, account)
	bound, name := snap.Balance, "available balance"
	if limit == staked {
		bound, name = snap.Staked, "staked balance"
	}
	if amt.Cmp(bound) > 0 {
		return nil, chainerr.Validation("amount", "amount exceeds "+name)
	}
	return amt, nil
}

// awaitReceipt polls for inclusion. On success the acting account's
// cache entry is invalidated before the confirmed event goes out, so a
// subscriber reacting to the confirmation never reads the stale entry
// as fresh.
func (c *Controller) awaitReceipt(ev Event, account common.Address, pre *cache.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), c.confirmTimeout)
	defer cancel()

	hash := common.HexToHash(ev.TxHash)
	for {
		receipt, err := c.sender.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status == types.ReceiptStatusSuccessful {
				c.balances.Invalidate(account)
				ev.Phase = PhaseConfirmed
				ev.Error = nil
				c.release(ev.Kind)
				c.log.Info("transaction confirmed",
					zap.String("kind", string(ev.Kind)), zap.String("tx", ev.ShortHash))
				c.publish(ev)
				return
			}
			c.fail(ev, account, pre, chainerr.New(chainerr.KindReverted, "transaction reverted on-chain"))
			return

		case err != nil && !errors.Is(err, ethereum.NotFound):
			if ctx.Err() != nil {
				c.fail(ev, account, pre, chainerr.Wrap(chainerr.KindRPCFailure,
					"confirmation timed out", ctx.Err()))
				return
			}
			c.log.Debug("receipt poll failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			c.fail(ev, account, pre, chainerr.Wrap(chainerr.KindRPCFailure,
				"confirmation timed out", ctx.Err()))
			return
		case <-time.After(c.pollInterval):
		}
	}
}

// fail records the terminal failure: rollback first, then a single
// failed event.
func (c *Controller) fail(ev Event, account common.Address, pre *cache.Snapshot, cerr *chainerr.Error) (Event, error) {
	if pre != nil {
		c.balances.Rollback(account, *pre)
	}
	c.release(ev.Kind)

	ev.Phase = PhaseFailed
	ev.Error = cerr
	c.log.Warn("transaction failed",
		zap.String("kind", string(ev.Kind)),
		zap.String("error", cerr.Error()))
	c.publish(ev)
	return ev, cerr
}

func (c *Controller) acquire(kind Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[kind] {
		return false
	}
	c.inflight[kind] = true
	return true
}

func (c *Controller) release(kind Kind) {
	c.mu.Lock()
	delete(c.inflight, kind)
	c.mu.Unlock()
}

func (c *Controller) publish(ev Event) {
	c.mu.Lock()
	targets := make([]func(Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		targets = append(targets, fn)
	}
	c.mu.Unlock()
	for _, fn := range targets {
		fn(ev)
	}
}
