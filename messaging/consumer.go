package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ConsumerConfig configures the ingest consumer group.
type ConsumerConfig struct {
	Brokers []string `envconfig:"AUDIT_INGEST_BROKERS" yaml:"brokers"`
	GroupID string   `envconfig:"AUDIT_INGEST_GROUP" yaml:"group_id" default:"actionlog-ingest" validate:"required"`
	Topic   string   `envconfig:"AUDIT_INGEST_TOPIC" yaml:"topic"`
	// MaxRetries bounds handler attempts per message; 0 retries until the session ends.
	MaxRetries     int           `envconfig:"AUDIT_INGEST_MAX_RETRIES" yaml:"max_retries" default:"0" validate:"min=0"`
	InitialBackoff time.Duration `envconfig:"AUDIT_INGEST_INITIAL_BACKOFF" yaml:"initial_backoff" default:"100ms"`
	MaxBackoff     time.Duration `envconfig:"AUDIT_INGEST_MAX_BACKOFF" yaml:"max_backoff" default:"30s"`
}

// Enabled reports whether ingestion is configured at all.
func (c ConsumerConfig) Enabled() bool {
	return len(c.Brokers) > 0 && c.Topic != ""
}

// HandlerFunc processes one message. An error asks for a retry; nil acknowledges
// the message, including payloads the handler chose to discard.
type HandlerFunc func(ctx context.Context, key, payload []byte) error

// Consumer delivers one topic to a HandlerFunc with at-least-once semantics:
// an offset is committed only after the handler accepted the message or its
// retries ran out.
type Consumer struct {
	group   sarama.ConsumerGroup
	cfg     ConsumerConfig
	handler HandlerFunc
	tracer  trace.Tracer
	logger  *slog.Logger
}

func NewConsumer(cfg ConsumerConfig, logger *slog.Logger, handler HandlerFunc) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.ClientID = "actionlog-ingest"
	sc.Version = sarama.V2_8_0_0
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Offsets.AutoCommit.Enable = false
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("messaging: consumer group %s: %w", cfg.GroupID, err)
	}
	return newConsumer(group, cfg, logger, handler), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, logger *slog.Logger, handler HandlerFunc) *Consumer {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(cfg.InitialBackoff, 30*time.Second)
	}
	return &Consumer{
		group:   group,
		cfg:     cfg,
		handler: handler,
		tracer:  otel.Tracer("actionlog/messaging"),
		logger:  logger.With("component", "kafka_consumer", "topic", cfg.Topic, "group", cfg.GroupID),
	}
}

// Start consumes until ctx is cancelled or the group is closed.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	topics := []string{c.cfg.Topic}
	for ctx.Err() == nil {
		// Consume returns after every rebalance.
		err := c.group.Consume(ctx, topics, c)
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return nil
		case err != nil:
			return fmt.Errorf("consume %s: %w", c.cfg.Topic, err)
		}
	}
	return nil
}

func (c *Consumer) Setup(sess sarama.ConsumerGroupSession) error {
	c.logger.Debug("partitions assigned", "claims", sess.Claims(), "generation", sess.GenerationID())
	return nil
}

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	partition := strconv.Itoa(int(claim.Partition()))
	for {
		var msg *sarama.ConsumerMessage
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			msg = m
		}

		if err := c.handle(ctx, msg); errors.Is(err, context.Canceled) {
			// Left unmarked; the next owner of the partition redelivers it.
			return nil
		}
		sess.MarkMessage(msg, "")
		sess.Commit()
		ingestLag.WithLabelValues(claim.Topic(), partition).Set(float64(max(claim.HighWaterMarkOffset()-msg.Offset-1, 0)))
	}
}

// handle runs the handler under a span linked to the producer's trace. A non-nil
// return other than context.Canceled means the message was given up on.
func (c *Consumer) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier(msg.Headers))
	ctx, span := c.tracer.Start(ctx, "ingest "+c.cfg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.Int("messaging.kafka.partition", int(msg.Partition)),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		))
	defer span.End()

	err := c.retry(ctx, msg)
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "dropped")
	ingestDropped.Inc()
	c.logger.ErrorContext(ctx, "message dropped after retries",
		"error", err,
		"key", string(msg.Key),
		"partition", msg.Partition,
		"offset", msg.Offset,
	)
	return err
}

func (c *Consumer) retry(ctx context.Context, msg *sarama.ConsumerMessage) error {
	wait := c.cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.handler(ctx, msg.Key, msg.Value)
		if err == nil {
			return nil
		}
		if c.cfg.MaxRetries > 0 && attempt >= c.cfg.MaxRetries {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		d := jitter(wait)
		c.logger.WarnContext(ctx, "ingest failed, retrying", "attempt", attempt, "error", err, "retry_in", d)
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		wait = min(wait*2, c.cfg.MaxBackoff)
	}
}

// jitter spreads d over [d/2, d) so partitions retrying after a shared outage do not stampede.
func jitter(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half)
}

func (c *Consumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

// headerCarrier exposes record headers to the OTel propagator.
type headerCarrier []*sarama.RecordHeader

var _ propagation.TextMapCarrier = headerCarrier(nil)

func (h headerCarrier) Get(key string) string {
	for _, hdr := range h {
		if hdr != nil && string(hdr.Key) == key {
			return string(hdr.Value)
		}
	}
	return ""
}

func (h headerCarrier) Set(string, string) {}

func (h headerCarrier) Keys() []string {
	keys := make([]string, 0, len(h))
	for _, hdr := range h {
		if hdr != nil {
			keys = append(keys, string(hdr.Key))
		}
	}
	return keys
}
