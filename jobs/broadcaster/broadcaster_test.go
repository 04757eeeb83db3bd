package broadcaster

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feemarket/domain/relayer"
	"feemarket/infra/journal"
	"feemarket/infra/logging"
)

var relayerA = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func outbox(t *testing.T, n int) journal.Store {
	t.Helper()
	s, err := journal.OpenPebble(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	for seq := 1; seq <= n; seq++ {
		require.NoError(t, s.AppendEvent(relayer.Event{Seq: uint64(seq), Relayer: relayerA, Op: relayer.OpEnroll}))
	}
	return s
}

func pending(t *testing.T, s journal.Store) []uint64 {
	t.Helper()
	var seqs []uint64
	require.NoError(t, s.ScanEvents(func(ev relayer.Event) error {
		seqs = append(seqs, ev.Seq)
		return nil
	}))
	return seqs
}

func TestDrainPublishesAndAcks(t *testing.T) {
	s := outbox(t, 3)
	producer := mocks.NewSyncProducer(t, nil)
	for i := 0; i < 3; i++ {
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			ev, err := journal.DecodeEvent(val)
			if err != nil {
				return err
			}
			if ev.Relayer != relayerA {
				return errors.New("wrong relayer")
			}
			return nil
		})
	}
	b := New(s, producer, "relayer-events", logging.NewNopLogger())

	assert.Equal(t, 3, b.DrainOnce())
	assert.Empty(t, pending(t, s))
	require.NoError(t, b.Close())
}

func TestDrainStopsAtFirstFailure(t *testing.T) {
	s := outbox(t, 3)
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndFail(sarama.ErrNotEnoughReplicas)
	b := New(s, producer, "relayer-events", logging.NewNopLogger())

	assert.Equal(t, 1, b.DrainOnce())
	assert.Equal(t, []uint64{2, 3}, pending(t, s))
	require.NoError(t, b.Close())
}
