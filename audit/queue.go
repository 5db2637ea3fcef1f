package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

var ErrQueueClosed = errors.New("audit: queue closed")

type QueueConfig struct {
	Shards      int
	BufferSize  int
	BlockOnFull bool
	// MaxRetries bounds store retries per record. 0 retries forever.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Queue decouples hook emission from the store with at-least-once delivery.
// Records of one target always land on the same shard, so per-entity order is kept.
// Retried appends are safe because the record ID is fixed before enqueueing.
type Queue struct {
	emitter *Emitter
	shards  []chan *Record
	cfg     QueueConfig
	logger  *slog.Logger
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	// Drop Strategy Metrics
	dropCount   atomic.Uint64
	lastDropLog atomic.Int64
}

func NewQueue(emitter *Emitter, cfg QueueConfig, logger *slog.Logger) *Queue {
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 50 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		emitter: emitter,
		shards:  make([]chan *Record, cfg.Shards),
		cfg:     cfg,
		logger:  logger.With("component", "audit_queue"),
	}
	for i := range q.shards {
		q.shards[i] = make(chan *Record, cfg.BufferSize)
		q.wg.Add(1)
		go q.worker(q.shards[i])
	}
	return q
}

// Enqueue prepares the record synchronously (validation errors surface here)
// and hands it to the shard owning its target.
func (q *Queue) Enqueue(ctx context.Context, entry Entry) (*Record, error) {
	rec, err := q.emitter.Prepare(ctx, entry)
	if err != nil {
		return nil, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	ch := q.shards[q.shardFor(rec)]

	if q.cfg.BlockOnFull {
		// MODE: GUARANTEED DELIVERY
		select {
		case ch <- rec:
			return rec, nil
		case <-ctx.Done():
			q.handleDrop(rec, "ctx_cancelled")
			return nil, ctx.Err()
		}
	}

	// STANDARD MODE: BEST EFFORT
	select {
	case ch <- rec:
		return rec, nil
	default:
		q.handleDrop(rec, "buffer_full")
		return nil, nil
	}
}

func (q *Queue) shardFor(rec *Record) int {
	key := rec.ID.String()
	if rec.Target != nil {
		key = rec.Target.String()
	}
	return int(xxhash.Sum64String(key) % uint64(len(q.shards)))
}

func (q *Queue) handleDrop(rec *Record, reason string) {
	queueDropped.Inc()
	total := q.dropCount.Add(1)

	// Warn at most every 5s so a stuck store doesn't flood the log.
	now := time.Now().UnixNano()
	last := q.lastDropLog.Load()
	if now-last < int64(5*time.Second) || !q.lastDropLog.CompareAndSwap(last, now) {
		return
	}
	q.logger.Warn("action record dropped",
		"reason", reason,
		"total_dropped", total,
		"sample_action", rec.Action,
		"sample_target", rec.Target,
	)
}

func (q *Queue) worker(ch <-chan *Record) {
	defer q.wg.Done()
	for rec := range ch {
		q.deliver(rec)
	}
}

// deliver retries Commit with exponential backoff. The request context is long gone by
// now, so appends run on a background context.
func (q *Queue) deliver(rec *Record) {
	backoff := q.cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := q.emitter.Commit(context.Background(), rec)
		if err == nil {
			return
		}
		if q.cfg.MaxRetries > 0 && attempt > q.cfg.MaxRetries {
			q.handleDrop(rec, "retries_exhausted")
			return
		}
		q.logger.Warn("action record append failed, retrying",
			"record_id", rec.ID,
			"attempt", attempt,
			"next_retry_in", backoff,
		)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > q.cfg.MaxBackoff {
			backoff = q.cfg.MaxBackoff
		}
	}
}

// Dropped reports the number of records dropped since start.
func (q *Queue) Dropped() uint64 {
	return q.dropCount.Load()
}

// Close stops accepting records and waits until every buffered record is delivered.
func (q *Queue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		for _, ch := range q.shards {
			close(ch)
		}
	}
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}

// Emit makes Queue interchangeable with Emitter for hook delivery. The returned record is
// accepted, not yet stored; nil with a nil error means it was dropped.
func (q *Queue) Emit(ctx context.Context, entry Entry) (*Record, error) {
	return q.Enqueue(ctx, entry)
}
