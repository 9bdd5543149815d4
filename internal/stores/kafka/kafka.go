package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Conf produces order events. A nil *Conf is a valid no-op publisher so the
// service runs without a broker.
type Conf struct {
	client  *kgo.Client
	timeout time.Duration
}

func NewConf(brokers []string, opts ...kgo.Opt) (*Conf, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	opts = append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerBatchMaxBytes(1 << 20),
	}, opts...)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &Conf{client: client, timeout: 5 * time.Second}, nil
}

// Ping checks that at least one broker answers.
func (c *Conf) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

func (c *Conf) ProduceMessage(ctx context.Context, topic string, key, value []byte) error {
	if c == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	record := &kgo.Record{Topic: topic, Key: key, Value: value}
	if err := c.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce message to %s: %w", topic, err)
	}
	return nil
}

// PublishEvent JSON encodes v and produces it keyed by key.
func (c *Conf) PublishEvent(ctx context.Context, topic, key string, v any) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return c.ProduceMessage(ctx, topic, []byte(key), data)
}

func (c *Conf) Close() {
	if c == nil {
		return
	}
	c.client.Close()
}
