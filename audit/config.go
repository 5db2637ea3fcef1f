package audit

import "time"

type Config struct {
	// Store selects the record backend: postgres or memory (demo / tests).
	Store string `envconfig:"AUDIT_STORE" yaml:"store" default:"postgres" validate:"oneof=postgres memory"`

	// MaxDescription bounds the stored description, in runes.
	MaxDescription int `envconfig:"AUDIT_MAX_DESCRIPTION" yaml:"max_description" default:"4096" validate:"min=64"`

	// HookMode picks how lifecycle hooks reach the store.
	// sync: emit inline, right after the mutation commits.
	// queue: hand the record to Queue, which retries until the store accepts it.
	HookMode string `envconfig:"AUDIT_HOOK_MODE" yaml:"hook_mode" default:"sync" validate:"oneof=sync queue"`

	// Queue tuning (HookMode=queue only).
	QueueShards     int  `envconfig:"AUDIT_QUEUE_SHARDS" yaml:"queue_shards" default:"4" validate:"min=1,max=64"`
	QueueBufferSize int  `envconfig:"AUDIT_QUEUE_BUFFER_SIZE" yaml:"queue_buffer_size" default:"1024" validate:"min=1"`
	QueueMaxRetries int  `envconfig:"AUDIT_QUEUE_MAX_RETRIES" yaml:"queue_max_retries" default:"5" validate:"min=0"`
	// BlockOnFull determines the strategy when a shard buffer is full.
	// FALSE (Availability First): drop and count. A slow audit store must never hang a mutation.
	BlockOnFull bool `envconfig:"AUDIT_BLOCK_ON_FULL" yaml:"block_on_full" default:"false"`

	// Kafka mirror of appended records. Empty brokers disables it.
	KafkaBrokers []string `envconfig:"AUDIT_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaTopic   string   `envconfig:"AUDIT_KAFKA_TOPIC" yaml:"kafka_topic" default:"actionlog.records"`
	// KafkaAcks is none, local or all.
	KafkaAcks        string        `envconfig:"AUDIT_KAFKA_ACKS" yaml:"kafka_acks" default:"local" validate:"oneof=none local all"`
	KafkaCompression string        `envconfig:"AUDIT_KAFKA_COMPRESSION" yaml:"kafka_compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	KafkaFlushEvery  time.Duration `envconfig:"AUDIT_KAFKA_FLUSH_EVERY" yaml:"kafka_flush_every" default:"500ms"`
}
