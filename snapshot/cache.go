package snapshot

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"feemarket/domain/orderbook"
	"feemarket/infra/chain"
)

// Source is the read side of a gateway.
type Source interface {
	FetchSnapshot(ctx context.Context) (*orderbook.Snapshot, error)
	FetchBalance(ctx context.Context, addr common.Address) (chain.Balance, error)
}

const snapshotKey = "snapshot"

type balanceEntry struct {
	balance chain.Balance
	at      time.Time
}

// Cache holds the latest order book and recently read balances for
// display. Concurrent misses for the same key share one fetch.
type Cache struct {
	src      Source
	latest   atomic.Pointer[orderbook.Snapshot]
	group    singleflight.Group
	balances *lru.Cache[common.Address, balanceEntry]
	ttl      time.Duration
	now      func() time.Time
}

// NewCache keeps up to size balances, each for ttl.
func NewCache(src Source, size int, ttl time.Duration) (*Cache, error) {
	balances, err := lru.New[common.Address, balanceEntry](size)
	if err != nil {
		return nil, errors.Wrap(err, "create balance cache")
	}
	return &Cache{
		src:      src,
		balances: balances,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Latest returns the last snapshot fetched, or nil.
func (c *Cache) Latest() *orderbook.Snapshot {
	return c.latest.Load()
}

// Seed installs s as the latest snapshot if none is held yet.
func (c *Cache) Seed(s *orderbook.Snapshot) {
	if s != nil {
		c.latest.CompareAndSwap(nil, s)
	}
}

// Refresh fetches a snapshot and makes it the latest. A snapshot read at a
// lower height than the one held does not replace it. Callers may share a
// fetch that is already running.
func (c *Cache) Refresh(ctx context.Context) (*orderbook.Snapshot, error) {
	return c.refresh(ctx)
}

// Reload is Refresh after a write: it never joins a fetch that started
// before the call, so the result reflects state settled before Reload.
func (c *Cache) Reload(ctx context.Context) (*orderbook.Snapshot, error) {
	c.group.Forget(snapshotKey)
	return c.refresh(ctx)
}

func (c *Cache) refresh(ctx context.Context) (*orderbook.Snapshot, error) {
	v, err := c.do(ctx, snapshotKey, func() (interface{}, error) {
		s, err := c.src.FetchSnapshot(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		for {
			cur := c.latest.Load()
			if cur != nil && s.Height() != 0 && s.Height() < cur.Height() {
				return cur, nil
			}
			if c.latest.CompareAndSwap(cur, s) {
				return s, nil
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return v.(*orderbook.Snapshot), nil
}

// Snapshot returns the latest snapshot, fetching one if none is held.
func (c *Cache) Snapshot(ctx context.Context) (*orderbook.Snapshot, error) {
	if s := c.latest.Load(); s != nil {
		return s, nil
	}
	return c.Refresh(ctx)
}

// Balance returns addr's balance, reading it from the chain when the cached
// value is missing or older than the ttl.
func (c *Cache) Balance(ctx context.Context, addr common.Address) (chain.Balance, error) {
	if e, ok := c.balances.Get(addr); ok && c.now().Sub(e.at) < c.ttl {
		return e.balance, nil
	}
	v, err := c.do(ctx, "balance/"+addr.Hex(), func() (interface{}, error) {
		b, err := c.src.FetchBalance(context.WithoutCancel(ctx), addr)
		if err != nil {
			return nil, err
		}
		c.balances.Add(addr, balanceEntry{balance: b, at: c.now()})
		return b, nil
	})
	if err != nil {
		return chain.Balance{}, err
	}
	return v.(chain.Balance), nil
}

// Invalidate forgets addr's balance. It is called after every transition.
func (c *Cache) Invalidate(addr common.Address) {
	c.balances.Remove(addr)
}

// do runs fn once per key across concurrent callers. A caller whose ctx
// ends stops waiting; the shared fetch continues for the others.
func (c *Cache) do(ctx context.Context, key string, fn func() (interface{}, error)) (interface{}, error) {
	ch := c.group.DoChan(key, fn)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.Val, r.Err
	}
}
