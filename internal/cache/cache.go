// Package cache holds per-account balance snapshots with a freshness
// window, generation-checked revalidation and optimistic mutation
// support. It is the single mutable state shared between the read path
// and the transaction flow.
package cache

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	// freshFor is how long a snapshot serves duplicate reads without a
	// re-fetch.
	freshFor = 10 * time.Second
	// evictAfter is the age at which a snapshot is dropped entirely.
	evictAfter = 60 * time.Second
	// revalidateEvery drives the background refresh of the active
	// account.
	revalidateEvery = 15 * time.Second
)

// Reader is the contract read surface the cache consumes. Optional
// positions report a supported flag; unsupported reads are zero and
// error-free. Satisfied by *contract.Binding.
type Reader interface {
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	Staked(ctx context.Context, account common.Address) (*big.Int, bool, error)
	VestingTotal(ctx context.Context, account common.Address) (*big.Int, bool, error)
	VestingReleased(ctx context.Context, account common.Address) (*big.Int, bool, error)
}

// Snapshot is one account's cached position. All three balances come
// from the same fetch batch; readers never observe a mix of two
// batches.
type Snapshot struct {
	Balance   *big.Int
	Staked    *big.Int
	Rewards   *big.Int
	FetchedAt time.Time
}

// Zero returns an all-zero snapshot.
func Zero() Snapshot {
	return Snapshot{Balance: big.NewInt(0), Staked: big.NewInt(0), Rewards: big.NewInt(0)}
}

// Clone deep-copies the snapshot so later cache writes cannot alias
// into a caller's copy.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Balance:   new(big.Int).Set(orZero(s.Balance)),
		Staked:    new(big.Int).Set(orZero(s.Staked)),
		Rewards:   new(big.Int).Set(orZero(s.Rewards)),
		FetchedAt: s.FetchedAt,
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// Cache is safe for concurrent use. readerFn returns the currently
// bound contract, or nil while no binding is usable.
type Cache struct {
	log      *zap.Logger
	readerFn func() Reader
	now      func() time.Time

	mu      sync.Mutex
	entries map[common.Address]Snapshot
	gens    map[common.Address]uint64
	epoch   uint64
	active  common.Address
}

func New(readerFn func() Reader, log *zap.Logger) *Cache {
	return &Cache{
		log:      log,
		readerFn: readerFn,
		now:      time.Now,
		entries:  map[common.Address]Snapshot{},
		gens:     map[common.Address]uint64{},
	}
}

// Get returns the account's snapshot, serving a fresh cached copy or
// fetching a new batch. The zero address never triggers a read.
func (c *Cache) Get(ctx context.Context, account common.Address) Snapshot {
	if account == (common.Address{}) {
		return Zero()
	}

	c.mu.Lock()
	if snap, ok := c.entries[account]; ok {
		age := c.now().Sub(snap.FetchedAt)
		switch {
		case age > evictAfter:
			delete(c.entries, account)
		case age <= freshFor:
			out := snap.Clone()
			c.mu.Unlock()
			return out
		}
	}
	c.mu.Unlock()

	return c.refresh(ctx, account)
}

// refresh always fetches, bypassing freshness, and stores the result
// only if the key generation is unchanged since the fetch began.
func (c *Cache) refresh(ctx context.Context, account common.Address) Snapshot {
	c.mu.Lock()
	gen, epoch := c.gens[account], c.epoch
	c.mu.Unlock()

	snap := c.fetch(ctx, account)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[account] != gen || c.epoch != epoch {
		// Superseded while in flight; the caller still gets the data
		// but the cache keeps the newer state.
		return snap
	}
	c.entries[account] = snap.Clone()
	return snap
}

// fetch issues the balance queries for one batch. The token balance is
// required; its failure degrades the whole batch to zeros rather than
// surfacing an error. Optional positions degrade individually.
func (c *Cache) fetch(ctx context.Context, account common.Address) Snapshot {
	reader := c.readerFn()
	fetchedAt := c.now()
	if reader == nil {
		snap := Zero()
		snap.FetchedAt = fetchedAt
		return snap
	}

	var (
		wg sync.WaitGroup

		balance, staked, vTotal, vRel *big.Int
		balanceErr                    error
		stakedOK, vTotalOK, vRelOK    bool
		stakedErr, vTotalErr, vRelErr error
	)

	wg.Add(4)
	go func() {
		defer wg.Done()
		balance, balanceErr = reader.BalanceOf(ctx, account)
	}()
	go func() {
		defer wg.Done()
		staked, stakedOK, stakedErr = reader.Staked(ctx, account)
	}()
	go func() {
		defer wg.Done()
		vTotal, vTotalOK, vTotalErr = reader.VestingTotal(ctx, account)
	}()
	go func() {
		defer wg.Done()
		vRel, vRelOK, vRelErr = reader.VestingReleased(ctx, account)
	}()
	wg.Wait()

	snap := Zero()
	snap.FetchedAt = fetchedAt

	if balanceErr != nil {
		c.log.Warn("balance fetch failed, serving zero snapshot",
			zap.String("account", account.Hex()), zap.Error(balanceErr))
		return snap
	}
	snap.Balance = new(big.Int).Set(balance)

	if stakedErr != nil {
		c.log.Debug("staked balance read failed", zap.Error(stakedErr))
	} else if stakedOK {
		snap.Staked = new(big.Int).Set(staked)
	}

	// Rewards are the unreleased vesting entitlement; without both
	// vesting views the reward balance is zero.
	if vTotalErr == nil && vRelErr == nil && vTotalOK && vRelOK {
		rewards := new(big.Int).Sub(vTotal, vRel)
		if rewards.Sign() > 0 {
			snap.Rewards = rewards
		}
	} else if vTotalErr != nil || vRelErr != nil {
		c.log.Debug("vesting read failed",
			zap.NamedError("total", vTotalErr), zap.NamedError("released", vRelErr))
	}
	return snap
}

// Invalidate forces the next Get to re-fetch and discards any in-flight
// result for the account.
func (c *Cache) Invalidate(account common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, account)
	c.gens[account]++
}

// PurgeAll drops every entry and supersedes all in-flight fetches.
// Used on disconnect and account switch.
func (c *Cache) PurgeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[common.Address]Snapshot{}
	c.epoch++
}

// SetActive selects the account the background revalidation follows.
// The zero address suspends revalidation.
func (c *Cache) SetActive(account common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = account
}

// Run revalidates the active account on a fixed interval until ctx is
// cancelled.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(revalidateEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		account := c.active
		c.mu.Unlock()
		if account == (common.Address{}) {
			continue
		}
		c.refresh(ctx, account)
	}
}
