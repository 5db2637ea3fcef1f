// Package query is the read path over an audit.Store: paginated listing, per-entity
// history, actor feeds, cached statistics and exports.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/godamri/helix-actionlog/audit"
	"github.com/godamri/helix-actionlog/cache"
	"github.com/godamri/helix-actionlog/entity"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Limits are the runtime-tunable knobs of the read path.
type Limits struct {
	DefaultPerPage int           `envconfig:"QUERY_DEFAULT_PER_PAGE" yaml:"default_per_page" default:"20" validate:"min=1"`
	MaxPerPage     int           `envconfig:"QUERY_MAX_PER_PAGE" yaml:"max_per_page" default:"100" validate:"min=1,gtefield=DefaultPerPage"`
	HistoryLimit   int           `envconfig:"QUERY_HISTORY_LIMIT" yaml:"history_limit" default:"10" validate:"min=1"`
	FeedLimit      int           `envconfig:"QUERY_FEED_LIMIT" yaml:"feed_limit" default:"20" validate:"min=1"`
	StatsTTL       time.Duration `envconfig:"QUERY_STATS_TTL" yaml:"stats_ttl" default:"5m"`
}

func DefaultLimits() Limits {
	return Limits{
		DefaultPerPage: 20,
		MaxPerPage:     100,
		HistoryLimit:   10,
		FeedLimit:      20,
		StatsTTL:       5 * time.Minute,
	}
}

// LimitsSource is satisfied by *config.Container[Limits].
type LimitsSource interface {
	Get() *Limits
}

type staticLimits Limits

func (s staticLimits) Get() *Limits {
	l := Limits(s)
	return &l
}

// Result is one page of a listing.
type Result struct {
	Records     []audit.Record `json:"records"`
	Total       int64          `json:"total"`
	Page        int            `json:"page"`
	PerPage     int            `json:"per_page"`
	Pages       int            `json:"pages"`
	HasNext     bool           `json:"has_next"`
	HasPrevious bool           `json:"has_previous"`
}

// Dashboard is an actor's landing summary.
type Dashboard struct {
	ActorID  string         `json:"actor_id"`
	Recent   []audit.Record `json:"recent"`
	Total    int64          `json:"total"`
	ByAction []audit.Bucket `json:"by_action"`
}

type Service struct {
	store    audit.Store
	resolver *entity.Registry
	stats    cache.StatsCache
	limits   LimitsSource
	fills    singleflight.Group
	forget   []KindForgetter
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithStatsCache(c cache.StatsCache) Option {
	return func(s *Service) { s.stats = c }
}

func WithLimits(src LimitsSource) Option {
	return func(s *Service) { s.limits = src }
}

// KindForgetter is satisfied by *hooks.Dispatcher.
type KindForgetter interface {
	Forget(kind string)
}

// WithKindForgetter stops f from tracking a kind once PurgeKind removed it.
func WithKindForgetter(f KindForgetter) Option {
	return func(s *Service) { s.forget = append(s.forget, f) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store audit.Store, resolver *entity.Registry, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = entity.NewRegistry(logger)
	}
	s := &Service{
		store:    store,
		resolver: resolver,
		limits:   staticLimits(DefaultLimits()),
		logger:   logger.With("component", "query_service"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Limits() Limits {
	return *s.limits.Get()
}

// List returns one page, newest first. Out-of-range arguments are clamped, never rejected:
// page < 1 is 1, perPage <= 0 is the default, perPage above the maximum is the maximum.
// A page past the end is empty.
func (s *Service) List(ctx context.Context, f audit.Filter, page, perPage int) (*Result, error) {
	l := s.Limits()
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = l.DefaultPerPage
	}
	if perPage > l.MaxPerPage {
		perPage = l.MaxPerPage
	}

	total, err := s.store.Count(ctx, f)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Records: []audit.Record{},
		Total:   total,
		Page:    page,
		PerPage: perPage,
		Pages:   int((total + int64(perPage) - 1) / int64(perPage)),
	}
	if res.Pages == 0 {
		res.Pages = 1
	}
	res.HasPrevious = page > 1
	res.HasNext = page < res.Pages

	// Past the last page; also keeps (page-1)*perPage from overflowing.
	if page > res.Pages {
		return res, nil
	}
	offset := (page - 1) * perPage
	if int64(offset) >= total {
		return res, nil
	}
	recs, err := s.store.Find(ctx, f, audit.OrderNewest, audit.Page{Offset: offset, Limit: perPage})
	if err != nil {
		return nil, err
	}
	res.Records = recs
	return res, nil
}

// Get returns a single record.
func (s *Service) Get(ctx context.Context, id string) (*audit.Record, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, audit.ErrNotFound
	}
	return s.store.Get(ctx, uid)
}

// ForEntity is an entity's own history, newest first. limit <= 0 uses the history default.
func (s *Service) ForEntity(ctx context.Context, kind, id string, limit int) ([]audit.Record, error) {
	l := s.Limits()
	if limit <= 0 {
		limit = l.HistoryLimit
	}
	if limit > l.MaxPerPage {
		limit = l.MaxPerPage
	}
	return s.store.HistoryFor(ctx, entity.Ref{Kind: kind, ID: id}, limit)
}

// HistoryOf is ForEntity for a live domain object.
func (s *Service) HistoryOf(ctx context.Context, e entity.Loggable, limit int) ([]audit.Record, error) {
	ref := s.resolver.Describe(e)
	return s.ForEntity(ctx, ref.Kind, ref.ID, limit)
}

// ActivityFeed lists an actor's newest records.
func (s *Service) ActivityFeed(ctx context.Context, actorID string, limit int) ([]audit.Record, error) {
	l := s.Limits()
	if limit <= 0 {
		limit = l.FeedLimit
	}
	if limit > l.MaxPerPage {
		limit = l.MaxPerPage
	}
	return s.store.Find(ctx, audit.Filter{ActorID: actorID}, audit.OrderNewest, audit.Page{Limit: limit})
}

// Dashboard gathers the recent records, total and per-action breakdown concurrently.
func (s *Service) Dashboard(ctx context.Context, actorID string) (*Dashboard, error) {
	f := audit.Filter{ActorID: actorID}
	d := &Dashboard{ActorID: actorID}
	limit := s.Limits().HistoryLimit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recs, err := s.store.Find(gctx, f, audit.OrderNewest, audit.Page{Limit: limit})
		d.Recent = recs
		return err
	})
	g.Go(func() error {
		n, err := s.store.Count(gctx, f)
		d.Total = n
		return err
	})
	g.Go(func() error {
		b, err := s.Stats(gctx, audit.DimensionAction, f)
		d.ByAction = b
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return d, nil
}

// Resolve follows a record's target to the live entity. false when it is gone or unknown.
func (s *Service) Resolve(ctx context.Context, rec *audit.Record) (entity.Handle, bool) {
	if rec == nil || rec.Target == nil {
		return entity.Handle{}, false
	}
	return s.resolver.ResolveRef(ctx, *rec.Target)
}

func (s *Service) StatsByActionKind(ctx context.Context, f audit.Filter) ([]audit.Bucket, error) {
	return s.Stats(ctx, audit.DimensionAction, f)
}

func (s *Service) StatsByEntityKind(ctx context.Context, f audit.Filter) ([]audit.Bucket, error) {
	return s.Stats(ctx, audit.DimensionKind, f)
}

// StatsByPeriod buckets counts by day or hour (UTC).
func (s *Service) StatsByPeriod(ctx context.Context, granularity audit.Dimension, f audit.Filter) ([]audit.Bucket, error) {
	if granularity != audit.DimensionDay && granularity != audit.DimensionHour {
		return nil, fmt.Errorf("%w: period must be day or hour, got %q", audit.ErrInvalidDimension, granularity)
	}
	return s.Stats(ctx, granularity, f)
}

// Stats aggregates through the stats cache. Cached results may lag appends by up to StatsTTL.
func (s *Service) Stats(ctx context.Context, dim audit.Dimension, f audit.Filter) ([]audit.Bucket, error) {
	if !dim.Valid() {
		return nil, fmt.Errorf("%w: %q", audit.ErrInvalidDimension, dim)
	}

	key := statsKey(dim, f)
	if s.stats != nil {
		if b, ok := s.stats.Get(ctx, key); ok {
			return b, nil
		}
	}

	// Concurrent misses for one key share a single aggregation.
	v, err, _ := s.fills.Do(key, func() (any, error) {
		buckets, err := s.store.Stats(ctx, dim, f)
		if err != nil {
			return nil, err
		}
		if s.stats != nil {
			if ttl := s.Limits().StatsTTL; ttl > 0 {
				s.stats.Set(ctx, key, buckets, ttl)
			}
		}
		return buckets, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]audit.Bucket), nil
}

// PurgeKind deletes a kind's metadata and every record targeting it, and forgets the kind
// in the resolver and every KindForgetter, so later mutations of it are no longer logged.
func (s *Service) PurgeKind(ctx context.Context, kind string) (int64, error) {
	n, err := s.store.PurgeKind(ctx, kind)
	if err != nil {
		return 0, err
	}
	s.resolver.Unregister(kind)
	for _, f := range s.forget {
		f.Forget(kind)
	}
	s.invalidate(ctx)
	return n, nil
}

// ForgetActor anonymizes a deleted identity's records.
func (s *Service) ForgetActor(ctx context.Context, actorID string) (int64, error) {
	n, err := s.store.ClearActor(ctx, actorID)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx)
	return n, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.stats != nil {
		s.stats.Purge(ctx)
	}
}

// statsKey is stable for equal filters. The filter part is hashed to keep Redis keys short.
func statsKey(dim audit.Dimension, f audit.Filter) string {
	if f.IsZero() {
		return string(dim) + ":all"
	}
	var b strings.Builder
	b.WriteString(f.ActorID)
	b.WriteByte('|')
	for _, a := range f.Actions {
		b.WriteString(string(a))
		b.WriteByte(',')
	}
	b.WriteByte('|')
	b.WriteString(f.Kind)
	b.WriteByte('|')
	if f.Target != nil {
		b.WriteString(f.Target.String())
	}
	b.WriteByte('|')
	if f.Since != nil {
		b.WriteString(f.Since.UTC().Format(time.RFC3339Nano))
	}
	b.WriteByte('|')
	if f.Until != nil {
		b.WriteString(f.Until.UTC().Format(time.RFC3339Nano))
	}
	b.WriteByte('|')
	b.WriteString(f.Search)
	b.WriteByte('|')
	for _, id := range f.IDs {
		b.WriteString(id.String())
		b.WriteByte(',')
	}
	return fmt.Sprintf("%s:%016x", dim, xxhash.Sum64String(b.String()))
}
