package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Header names set on every mirrored record, so consumers can route without decoding.
const (
	HeaderSchema = "actionlog-schema"
	HeaderAction = "actionlog-action"

	recordSchema = "record/v1"
)

var (
	kafkaAcks = map[string]sarama.RequiredAcks{
		"none":  sarama.NoResponse,
		"local": sarama.WaitForLocal,
		"all":   sarama.WaitForAll,
	}
	kafkaCodecs = map[string]sarama.CompressionCodec{
		"none":   sarama.CompressionNone,
		"gzip":   sarama.CompressionGZIP,
		"snappy": sarama.CompressionSnappy,
		"lz4":    sarama.CompressionLZ4,
		"zstd":   sarama.CompressionZSTD,
	}
)

// KafkaSink mirrors appended records onto a topic. Messages are keyed by target,
// so one partition carries an entity's history in order. Untargeted records
// (logins, free-form actions) get no key and spread across partitions.
type KafkaSink struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger
	drained  chan struct{}
}

func NewKafkaSink(cfg Config, logger *slog.Logger) (*KafkaSink, error) {
	producer, err := sarama.NewAsyncProducer(cfg.KafkaBrokers, producerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("audit: kafka producer: %w", err)
	}
	return newKafkaSink(producer, cfg.KafkaTopic, logger), nil
}

func producerConfig(cfg Config) *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = "actionlog-sink"
	sc.Producer.Return.Errors = true
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	if acks, ok := kafkaAcks[cfg.KafkaAcks]; ok {
		sc.Producer.RequiredAcks = acks
	}
	if codec, ok := kafkaCodecs[cfg.KafkaCompression]; ok {
		sc.Producer.Compression = codec
	}
	sc.Producer.Flush.Frequency = cfg.KafkaFlushEvery
	sc.Producer.Flush.Messages = 100
	return sc
}

func newKafkaSink(producer sarama.AsyncProducer, topic string, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	if topic == "" {
		topic = "actionlog.records"
	}
	k := &KafkaSink{
		producer: producer,
		topic:    topic,
		logger:   logger.With("component", "kafka_sink", "topic", topic),
		drained:  make(chan struct{}),
	}
	go k.watchErrors()
	return k
}

func (k *KafkaSink) Name() string { return "kafka" }

// Publish enqueues the record. Delivery failures surface later through the error
// channel and are counted there, not returned here.
func (k *KafkaSink) Publish(ctx context.Context, rec Record) error {
	msg, err := k.message(ctx, rec)
	if err != nil {
		return err
	}
	select {
	case k.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *KafkaSink) message(ctx context.Context, rec Record) (*sarama.ProducerMessage, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("audit: encode record %s: %w", rec.ID, err)
	}
	msg := &sarama.ProducerMessage{
		Topic:     k.topic,
		Value:     sarama.ByteEncoder(body),
		Timestamp: rec.OccurredAt,
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderSchema), Value: []byte(recordSchema)},
			{Key: []byte(HeaderAction), Value: []byte(rec.Action)},
		},
		Metadata: rec.ID,
	}
	if rec.Target != nil {
		msg.Key = sarama.StringEncoder(rec.Target.String())
	}

	tc := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, tc)
	for _, key := range tc.Keys() {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(tc.Get(key))})
	}
	return msg, nil
}

func (k *KafkaSink) watchErrors() {
	defer close(k.drained)
	for perr := range k.producer.Errors() {
		sinkFailures.WithLabelValues(k.Name()).Inc()
		k.logger.Error("action record not mirrored", "record_id", perr.Msg.Metadata, "error", perr.Err)
	}
}

// Close flushes buffered messages and waits until every delivery error is logged.
func (k *KafkaSink) Close() error {
	err := k.producer.Close()
	<-k.drained
	return err
}
