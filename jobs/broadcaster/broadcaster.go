// Package broadcaster drains the lifecycle event outbox into Kafka.
package broadcaster

import (
	"context"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"feemarket/domain/relayer"
	"feemarket/infra/journal"
	"feemarket/infra/logging"
)

// Outbox is the part of the journal the broadcaster drains.
type Outbox interface {
	ScanEvents(fn func(relayer.Event) error) error
	AckEvent(seq uint64) error
}

type Broadcaster struct {
	outbox   Outbox
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	logger   logging.Logger
}

// ------------------------------------------------
// CONSTRUCTOR
// ------------------------------------------------

// NewProducer dials brokers with the settings the broadcaster relies on:
// every send waits for all in-sync replicas.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	return sarama.NewSyncProducer(brokers, cfg)
}

func New(outbox Outbox, producer sarama.SyncProducer, topic string, logger logging.Logger) *Broadcaster {
	return &Broadcaster{
		outbox:   outbox,
		producer: producer,
		topic:    topic,
		interval: 250 * time.Millisecond,
		logger:   logger.With("module", "broadcaster", "topic", topic),
	}
}

// ------------------------------------------------
// START LOOP
// ------------------------------------------------

// Run drains the outbox every interval until ctx ends.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.logger.Info("started")

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("stopped")
			return nil
		case <-ticker.C:
			b.DrainOnce()
		}
	}
}

// ------------------------------------------------
// DRAIN
// ------------------------------------------------

// DrainOnce publishes pending events in sequence order and acks each one
// Kafka accepted. It stops at the first failed send so that order is kept;
// the rest are retried on the next pass. It returns the number published.
func (b *Broadcaster) DrainOnce() int {
	var sent int
	err := b.outbox.ScanEvents(func(ev relayer.Event) error {
		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Key:   sarama.StringEncoder(ev.Relayer.Hex()),
			Value: sarama.ByteEncoder(journal.EncodeEvent(ev)),
			Headers: []sarama.RecordHeader{
				{Key: []byte("op"), Value: []byte(ev.Op.String())},
				{Key: []byte("seq"), Value: []byte(strconv.FormatUint(ev.Seq, 10))},
			},
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			return err
		}
		if err := b.outbox.AckEvent(ev.Seq); err != nil {
			return err
		}
		sent++
		return nil
	})
	if err != nil {
		b.logger.Error("drain stopped", "sent", sent, "err", err)
	}
	return sent
}

// ------------------------------------------------
// SHUTDOWN
// ------------------------------------------------

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
