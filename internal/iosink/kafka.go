package iosink

import (
	"context"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tturner/cipadapter/internal/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink appends samples to a topic keyed by assembly instance, so every
// instance keeps its order within one partition.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink returns a sink writing to the configured brokers. Connections
// are opened lazily by the writer.
func NewKafkaSink(cfg config.KafkaSinkConfig) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Publish(ctx context.Context, s Sample) error {
	payload, err := s.Encode()
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.Itoa(int(s.Instance))),
		Value: payload,
		Time:  s.At,
	})
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
