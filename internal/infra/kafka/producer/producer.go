package producer

import (
	"context"
	"fmt"

	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"

	"github.com/halmakey/pngin/internal/config"
)

// Producer represents a Kafka producer for export requests.
type Producer struct {
	Client   *wbfkafka.Producer
	strategy retry.Strategy
	cfg      *config.Kafka
}

// New creates a new Producer.
// - cfg: Kafka configuration struct
// - s: retry strategy
func New(
	cfg *config.Kafka,
	s retry.Strategy,
) *Producer {
	producer := wbfkafka.NewProducer(cfg.Brokers, cfg.Topic)

	return &Producer{
		Client:   producer,
		cfg:      cfg,
		strategy: s,
	}
}

// Produce sends an export request id to Kafka. The id doubles as the
// message key, so redeliveries of the same request stay on one partition.
func (p *Producer) Produce(ctx context.Context, exportID string) error {
	key := []byte(exportID)

	if err := p.Client.SendWithRetry(ctx, p.strategy, key, []byte(exportID)); err != nil {
		return fmt.Errorf("failed to send export request: %v", err)
	}

	return nil
}
