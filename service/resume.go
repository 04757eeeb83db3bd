package service

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"feemarket/domain/relayer"
	"feemarket/infra/journal"
)

/*
Resume re-attaches to submissions that were still open when the previous
process stopped: records in state Pending or Detached for this relayer and
chain kind.

IMPORTANT:
- Call it once, right after construction and before accepting commands.
- Open records are awaited oldest first, in the background, while holding
  the single-flight guard. Commands return OperationInProgress until the
  last one settles.

It returns the number of records being awaited.
*/
func (c *LifecycleController) Resume() (int, error) {
	if c.journal == nil {
		return 0, nil
	}

	var open []journal.Record
	for _, st := range []journal.State{journal.StatePending, journal.StateDetached} {
		err := c.journal.ScanByState(st, func(r journal.Record) error {
			if r.Relayer == c.self && r.Chain == c.gw.Kind() {
				open = append(open, r)
			}
			return nil
		})
		if err != nil {
			return 0, errors.Wrapf(err, "scan %s records", st)
		}
	}
	if len(open) == 0 {
		return 0, nil
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].Created < open[j].Created })

	if err := c.guard.acquire(open[0].Op); err != nil {
		return 0, err
	}
	c.setState(relayer.Submitting)
	c.metrics.InFlight.Set(1)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.guard.release()

		for _, r := range open {
			c.guard.op.Store(uint32(r.Op))
			c.logger.Info("resuming", "op", r.Op, "op_id", r.OpID, "tx", r.TxHash.Hex(), "journal_state", r.State)
			c.setState(relayer.Submitting)
			o := c.await(flight{
				opID:    r.OpID,
				op:      r.Op,
				from:    r.From,
				handle:  r.Handle(),
				amount:  r.Amount,
				started: time.Unix(0, r.Created),
			})
			if relayer.IsKind(o.err, relayer.Detached) {
				return
			}
			c.signalRefresh()
		}
	}()

	c.logger.Info("resumed open submissions", "count", len(open))
	return len(open), nil
}
