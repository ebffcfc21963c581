package cache

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ApplyStakeOptimistic speculatively moves amount from the token
// balance (floored at zero) to the staked balance and returns the
// pre-mutation snapshot for a later rollback. The snapshot is captured
// before the edit lands, so a failure at any later point restores a
// state that predates the speculation.
func (c *Cache) ApplyStakeOptimistic(account common.Address, amount *big.Int) Snapshot {
	return c.applyOptimistic(account, amount, true)
}

// ApplyUnstakeOptimistic is the mirror: staked decreases (floored at
// zero), the token balance increases.
func (c *Cache) ApplyUnstakeOptimistic(account common.Address, amount *big.Int) Snapshot {
	return c.applyOptimistic(account, amount, false)
}

func (c *Cache) applyOptimistic(account common.Address, amount *big.Int, stake bool) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.entries[account]
	if !ok {
		cur = Zero()
	}
	pre := cur.Clone()

	next := cur.Clone()
	if stake {
		next.Balance.Sub(next.Balance, amount)
		next.Staked.Add(next.Staked, amount)
	} else {
		next.Staked.Sub(next.Staked, amount)
		next.Balance.Add(next.Balance, amount)
	}
	if next.Balance.Sign() < 0 {
		next.Balance.SetInt64(0)
	}
	if next.Staked.Sign() < 0 {
		next.Staked.SetInt64(0)
	}

	c.entries[account] = next
	return pre
}

// Rollback restores the account's entry to exactly the given snapshot,
// discarding any optimistic edit. Only used when the originating
// transaction fails; on success the authoritative values arrive via
// Invalidate and the next fetch.
func (c *Cache) Rollback(account common.Address, snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[account] = snap.Clone()
}
