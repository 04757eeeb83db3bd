// Package snapshotfeed periodically reads the order book, keeps the
// display cache warm, persists the snapshot and publishes it.
package snapshotfeed

import (
	"context"
	"strconv"
	"time"

	"feemarket/infra/logging"
	"feemarket/snapshot"
)

// Publisher sends one feed message. *kafka.Producer satisfies it.
type Publisher interface {
	Send(ctx context.Context, key, value []byte, headers ...string) error
}

type Feed struct {
	cache     *snapshot.Cache
	writer    *snapshot.Writer
	publisher Publisher
	key       []byte
	interval  time.Duration
	logger    logging.Logger

	lastHeight uint64
}

// New builds a feed. writer and publisher may be nil; key is the message
// key, normally the registry address.
func New(
	cache *snapshot.Cache,
	writer *snapshot.Writer,
	publisher Publisher,
	key string,
	interval time.Duration,
	logger logging.Logger,
) *Feed {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Feed{
		cache:     cache,
		writer:    writer,
		publisher: publisher,
		key:       []byte(key),
		interval:  interval,
		logger:    logger.With("module", "snapshotfeed"),
	}
}

// Run ticks until ctx ends. A failed tick is logged and retried on the next.
func (f *Feed) Run(ctx context.Context) error {
	t := time.NewTicker(f.interval)
	defer t.Stop()

	for {
		if err := f.Tick(ctx); err != nil && ctx.Err() == nil {
			f.logger.Error("tick failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Tick refreshes the cache and, when the book moved to a new height,
// writes and publishes it.
func (f *Feed) Tick(ctx context.Context) error {
	snap, err := f.cache.Refresh(ctx)
	if err != nil {
		return err
	}
	if snap.Height() != 0 && snap.Height() == f.lastHeight {
		return nil
	}

	if f.writer != nil {
		if err := f.writer.Write(snap); err != nil {
			return err
		}
	}
	if f.publisher != nil {
		b, err := snapshot.Marshal(snap)
		if err != nil {
			return err
		}
		if err := f.publisher.Send(ctx, f.key, b, "height", strconv.FormatUint(snap.Height(), 10)); err != nil {
			return err
		}
	}

	f.lastHeight = snap.Height()
	f.logger.Debug("published order book", "height", snap.Height(), "relayers", snap.Len())
	return nil
}
