package messaging

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// ConsumerManager runs a set of consumers as one unit: the first failure stops the rest.
type ConsumerManager struct {
	logger    *slog.Logger
	consumers []*Consumer
}

func NewConsumerManager(logger *slog.Logger) *ConsumerManager {
	return &ConsumerManager{logger: logger.With("component", "consumer_manager")}
}

func (m *ConsumerManager) Register(c *Consumer) {
	m.consumers = append(m.consumers, c)
}

func (m *ConsumerManager) Len() int { return len(m.consumers) }

// Run blocks until ctx is done or a consumer fails, then closes every group and waits
// for in-flight messages. A clean shutdown returns nil.
func (m *ConsumerManager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range m.consumers {
		g.Go(func() error { return c.Start(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		m.closeAll()
		return nil
	})

	err := g.Wait()
	if err != nil {
		m.logger.Error("ingest stopped", "error", err)
		return err
	}
	m.logger.Info("all consumers stopped")
	return nil
}

func (m *ConsumerManager) closeAll() {
	for _, c := range m.consumers {
		// Consume then returns ErrClosedConsumerGroup and Start exits cleanly.
		if err := c.Close(); err != nil {
			m.logger.Error("failed to close consumer", "topic", c.cfg.Topic, "error", err)
		}
	}
}
