// Package kafka publishes the order-book snapshot feed.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer writes to one topic and waits for every in-sync replica.
// Messages with the same key land on the same partition.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Send publishes one message. headers are alternating key/value pairs; a
// trailing key without a value is dropped.
func (p *Producer) Send(ctx context.Context, key, value []byte, headers ...string) error {
	return p.writer.WriteMessages(ctx, message(key, value, headers...))
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func message(key, value []byte, headers ...string) kafka.Message {
	msg := kafka.Message{Key: key, Value: value}
	for i := 0; i+1 < len(headers); i += 2 {
		msg.Headers = append(msg.Headers, kafka.Header{Key: headers[i], Value: []byte(headers[i+1])})
	}
	return msg
}
