// Package postgres is the durable audit.Store over database/sql (pgx driver, otelsql instrumented).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/godamri/helix-actionlog/audit"
	"github.com/godamri/helix-actionlog/database"
	"github.com/godamri/helix-actionlog/entity"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Store struct {
	db     *sql.DB
	logger *slog.Logger
	tracer trace.Tracer
}

var _ audit.Store = (*Store)(nil)

func New(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("postgres: database connection is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		logger: logger.With("component", "audit_store"),
		tracer: otel.Tracer("helix-actionlog/store/postgres"),
	}, nil
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Append(ctx context.Context, rec *audit.Record) (uuid.UUID, error) {
	ctx, span := s.start(ctx, "audit.append", attribute.String("audit.action", string(rec.Action)))
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, s.fail(span, err)
	}
	if err := AppendTx(ctx, tx, rec); err != nil {
		_ = tx.Rollback()
		return uuid.Nil, s.fail(span, err)
	}
	if err := tx.Commit(); err != nil {
		return uuid.Nil, s.fail(span, err)
	}
	return rec.ID, nil
}

// AppendTx writes rec inside a caller-owned transaction, so a domain mutation and its
// record commit or roll back together.
func AppendTx(ctx context.Context, tx *sql.Tx, rec *audit.Record) error {
	if rec == nil {
		return errors.New("postgres: nil record")
	}

	var kind, entityID, actorID, actorName sql.NullString
	if rec.Target != nil {
		kind = sql.NullString{String: rec.Target.Kind, Valid: true}
		entityID = sql.NullString{String: rec.Target.ID, Valid: true}

		// Kind metadata row is created lazily; the record FK hangs off it.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entity_kinds (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
			rec.Target.Kind,
		); err != nil {
			return err
		}
	}
	if rec.Actor != nil {
		actorID = sql.NullString{String: rec.Actor.ID, Valid: true}
		actorName = sql.NullString{String: rec.Actor.Name, Valid: rec.Actor.Name != ""}
	}

	err := tx.QueryRowContext(ctx, `
		INSERT INTO audit_records (
			id, action_kind, occurred_at, actor_id, actor_name,
			entity_kind, entity_id, description, origin_address, client_signature
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
		RETURNING seq`,
		rec.ID, string(rec.Action), rec.OccurredAt.UTC(), actorID, actorName,
		kind, entityID, rec.Description, rec.OriginAddress, rec.ClientSignature,
	).Scan(&rec.Seq)

	// No row back means the id already exists: a redelivery.
	if database.IsNoRows(err) {
		return nil
	}
	return err
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*audit.Record, error) {
	ctx, span := s.start(ctx, "audit.get")
	defer span.End()

	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM audit_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, audit.ErrNotFound
		}
		return nil, s.fail(span, err)
	}
	return rec, nil
}

func (s *Store) Find(ctx context.Context, f audit.Filter, order audit.Order, page audit.Page) ([]audit.Record, error) {
	ctx, span := s.start(ctx, "audit.find")
	defer span.End()

	w := buildWhere(f)
	query := `SELECT ` + recordColumns + ` FROM audit_records` + w.String() + orderBy(order)
	if page.Limit > 0 {
		query += " LIMIT " + w.arg(page.Limit)
	}
	if page.Offset > 0 {
		query += " OFFSET " + w.arg(page.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, s.fail(span, err)
	}
	defer rows.Close()

	out := make([]audit.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, s.fail(span, err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(span, err)
	}
	span.SetAttributes(attribute.Int("audit.rows", len(out)))
	return out, nil
}

func (s *Store) Count(ctx context.Context, f audit.Filter) (int64, error) {
	ctx, span := s.start(ctx, "audit.count")
	defer span.End()

	w := buildWhere(f)
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_records`+w.String(), w.args...).Scan(&n); err != nil {
		return 0, s.fail(span, err)
	}
	return n, nil
}

func (s *Store) HistoryFor(ctx context.Context, ref entity.Ref, limit int) ([]audit.Record, error) {
	return s.Find(ctx, audit.Filter{Target: &ref}, audit.OrderNewest, audit.Page{Limit: limit})
}

func (s *Store) Stats(ctx context.Context, dim audit.Dimension, f audit.Filter) ([]audit.Bucket, error) {
	expr, err := statsExpr(dim)
	if err != nil {
		return nil, err
	}
	ctx, span := s.start(ctx, "audit.stats", attribute.String("audit.dimension", string(dim)))
	defer span.End()

	w := buildWhere(f)
	query := `SELECT ` + expr + ` AS bucket, COUNT(*) FROM audit_records` + w.String() + ` GROUP BY bucket`

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, s.fail(span, err)
	}
	defer rows.Close()

	out := make([]audit.Bucket, 0)
	for rows.Next() {
		var b audit.Bucket
		if err := rows.Scan(&b.Key, &b.Count); err != nil {
			return nil, s.fail(span, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(span, err)
	}
	audit.SortBuckets(dim, out)
	return out, nil
}

func (s *Store) ClearActor(ctx context.Context, actorID string) (int64, error) {
	ctx, span := s.start(ctx, "audit.clear_actor")
	defer span.End()

	res, err := s.db.ExecContext(ctx,
		`UPDATE audit_records SET actor_id = NULL, actor_name = NULL WHERE actor_id = $1`, actorID)
	if err != nil {
		return 0, s.fail(span, err)
	}
	return res.RowsAffected()
}

// PurgeKind deletes the kind's metadata row. Records go with it: explicitly first, for an
// accurate count, and through the ON DELETE CASCADE for anything that slips in concurrently.
func (s *Store) PurgeKind(ctx context.Context, kind string) (int64, error) {
	ctx, span := s.start(ctx, "audit.purge_kind", attribute.String("audit.entity_kind", kind))
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.fail(span, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM audit_records WHERE entity_kind = $1`, kind)
	if err != nil {
		return 0, s.fail(span, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.fail(span, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_kinds WHERE name = $1`, kind); err != nil {
		return 0, s.fail(span, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, s.fail(span, err)
	}

	s.logger.InfoContext(ctx, "entity kind purged", "kind", kind, "records", n)
	return n, nil
}

func (s *Store) Delete(ctx context.Context, f audit.Filter) (int64, error) {
	ctx, span := s.start(ctx, "audit.delete")
	defer span.End()

	w := buildWhere(f)
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_records`+w.String(), w.args...)
	if err != nil {
		return 0, s.fail(span, err)
	}
	return res.RowsAffected()
}

func (s *Store) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, attribute.String("db.system", "postgresql"))...),
	)
}

func (s *Store) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	class := database.Classify(err)
	span.SetAttributes(attribute.String("db.error_class", class.String()))
	switch class {
	case database.ClassNotFound:
		return audit.ErrNotFound
	case database.ClassUnavailable, database.ClassRetryable:
		return fmt.Errorf("%w: %w", audit.ErrStoreUnavailable, err)
	case database.ClassTimeout:
		return fmt.Errorf("postgres: %w: %w", context.DeadlineExceeded, err)
	default:
		return fmt.Errorf("postgres: %w", err)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*audit.Record, error) {
	var (
		rec                  audit.Record
		action               string
		actorID, actorName   sql.NullString
		entityKind, entityID sql.NullString
	)
	if err := sc.Scan(
		&rec.ID, &rec.Seq, &action, &rec.OccurredAt, &actorID, &actorName,
		&entityKind, &entityID, &rec.Description, &rec.OriginAddress, &rec.ClientSignature,
	); err != nil {
		return nil, err
	}
	rec.Action = audit.ActionKind(action)
	rec.OccurredAt = rec.OccurredAt.UTC()
	if actorID.Valid {
		rec.Actor = &audit.Actor{ID: actorID.String, Name: actorName.String}
	}
	if entityKind.Valid {
		rec.Target = &entity.Ref{Kind: entityKind.String, ID: entityID.String}
	}
	return &rec, nil
}
