package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/godamri/helix-actionlog/audit"
	"github.com/godamri/helix-actionlog/entity"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recordCols = []string{
	"id", "seq", "action_kind", "occurred_at", "actor_id", "actor_name",
	"entity_kind", "entity_id", "description", "origin_address", "client_signature",
}

func setupMockDB(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(db, nil)
	require.NoError(t, err)
	return s, mock
}

func TestNew(t *testing.T) {
	s, err := New(nil, nil)
	assert.Nil(t, s)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database connection is required")
}

func TestStore_Migrate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		s, mock := setupMockDB(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS entity_kinds").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_records").WillReturnResult(sqlmock.NewResult(0, 0))
		for range schema[2:] {
			mock.ExpectExec("CREATE INDEX IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
		}

		require.NoError(t, s.Migrate(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stops at first failure", func(t *testing.T) {
		s, mock := setupMockDB(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS entity_kinds").WillReturnError(errors.New("permission denied"))

		err := s.Migrate(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "permission denied")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Append(t *testing.T) {
	occurred := time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC)

	t.Run("targeted record upserts kind in the same transaction", func(t *testing.T) {
		s, mock := setupMockDB(t)
		rec := &audit.Record{
			ID:          uuid.New(),
			Action:      audit.ActionCreate,
			OccurredAt:  occurred,
			Actor:       &audit.Actor{ID: "42", Name: "alice"},
			Target:      &entity.Ref{Kind: "blog", ID: "7"},
			Description: "Created blog: Hello",
		}

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO entity_kinds (name) VALUES ($1) ON CONFLICT (name) DO NOTHING")).
			WithArgs("blog").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO audit_records").
			WithArgs(rec.ID, "create", occurred, "42", "alice", "blog", "7", "Created blog: Hello", "", "").
			WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(11)))
		mock.ExpectCommit()

		id, err := s.Append(context.Background(), rec)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, id)
		assert.EqualValues(t, 11, rec.Seq)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("anonymous untargeted record skips kind upsert", func(t *testing.T) {
		s, mock := setupMockDB(t)
		rec := &audit.Record{ID: uuid.New(), Action: audit.ActionLogin, OccurredAt: occurred}

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO audit_records").
			WithArgs(rec.ID, "login", occurred, nil, nil, nil, nil, "", "", "").
			WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(1)))
		mock.ExpectCommit()

		_, err := s.Append(context.Background(), rec)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate id is a no-op", func(t *testing.T) {
		s, mock := setupMockDB(t)
		rec := &audit.Record{ID: uuid.New(), Action: audit.ActionView, OccurredAt: occurred}

		mock.ExpectBegin()
		mock.ExpectQuery("ON CONFLICT \\(id\\) DO NOTHING").
			WillReturnRows(sqlmock.NewRows([]string{"seq"}))
		mock.ExpectCommit()

		id, err := s.Append(context.Background(), rec)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure rolls back", func(t *testing.T) {
		s, mock := setupMockDB(t)
		rec := &audit.Record{ID: uuid.New(), Action: audit.ActionView, OccurredAt: occurred}

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO audit_records").WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		_, err := s.Append(context.Background(), rec)
		require.Error(t, err)
		assert.NotErrorIs(t, err, audit.ErrStoreUnavailable)
		assert.Contains(t, err.Error(), "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost connection is unavailable", func(t *testing.T) {
		s, mock := setupMockDB(t)
		rec := &audit.Record{ID: uuid.New(), Action: audit.ActionView, OccurredAt: occurred}

		mock.ExpectBegin().WillReturnError(&pgconn.PgError{Code: "57P01", Message: "terminating connection"})

		_, err := s.Append(context.Background(), rec)
		assert.ErrorIs(t, err, audit.ErrStoreUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Get(t *testing.T) {
	id := uuid.New()
	at := time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		s, mock := setupMockDB(t)
		rows := sqlmock.NewRows(recordCols).
			AddRow(id.String(), int64(3), "update", at, "42", nil, "comment", "5", "Updated comment", "10.0.0.1", "curl/8")
		mock.ExpectQuery("SELECT (.+) FROM audit_records WHERE id = \\$1").WithArgs(id).WillReturnRows(rows)

		rec, err := s.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, rec.ID)
		assert.Equal(t, audit.ActionUpdate, rec.Action)
		assert.Equal(t, &audit.Actor{ID: "42"}, rec.Actor)
		assert.Equal(t, &entity.Ref{Kind: "comment", ID: "5"}, rec.Target)
		assert.Equal(t, "10.0.0.1", rec.OriginAddress)
	})

	t.Run("not found", func(t *testing.T) {
		s, mock := setupMockDB(t)
		mock.ExpectQuery("SELECT (.+) FROM audit_records WHERE id = \\$1").WillReturnError(sql.ErrNoRows)

		_, err := s.Get(context.Background(), id)
		assert.ErrorIs(t, err, audit.ErrNotFound)
	})
}

func TestStore_Find(t *testing.T) {
	s, mock := setupMockDB(t)
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	f := audit.Filter{
		ActorID: "42",
		Actions: []audit.ActionKind{audit.ActionCreate, audit.ActionDelete},
		Kind:    "blog",
		Since:   &since,
		Until:   &until,
		Search:  "50%_off",
	}
	query := regexp.QuoteMeta(`SELECT ` + recordColumns + ` FROM audit_records WHERE actor_id = $1 AND action_kind IN ($2, $3) AND entity_kind = $4 AND occurred_at >= $5 AND occurred_at < $6 AND (description ILIKE $7 OR origin_address ILIKE $7 OR client_signature ILIKE $7 OR COALESCE(actor_name, '') ILIKE $7) ORDER BY occurred_at DESC, seq DESC LIMIT $8 OFFSET $9`)

	rows := sqlmock.NewRows(recordCols).
		AddRow(uuid.NewString(), int64(2), "create", since, "42", "alice", "blog", "1", "50%_off sale", "", "")
	mock.ExpectQuery(query).
		WithArgs("42", "create", "delete", "blog", since, until, `%50\%\_off%`, 20, 40).
		WillReturnRows(rows)

	recs, err := s.Find(context.Background(), f, audit.OrderNewest, audit.Page{Offset: 40, Limit: 20})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "alice", recs[0].Actor.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindOldestUnbounded(t *testing.T) {
	s, mock := setupMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM audit_records ORDER BY occurred_at ASC, seq ASC`) + "$").
		WillReturnRows(sqlmock.NewRows(recordCols))

	recs, err := s.Find(context.Background(), audit.Filter{}, audit.OrderOldest, audit.Page{})
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_HistoryFor(t *testing.T) {
	s, mock := setupMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE entity_kind = $1 AND entity_id = $2 ORDER BY occurred_at DESC, seq DESC LIMIT $3`)).
		WithArgs("profile", "9", 10).
		WillReturnRows(sqlmock.NewRows(recordCols))

	_, err := s.HistoryFor(context.Background(), entity.Ref{Kind: "profile", ID: "9"}, 10)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Count(t *testing.T) {
	s, mock := setupMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM audit_records WHERE actor_id = $1`)).
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(12)))

	n, err := s.Count(context.Background(), audit.Filter{ActorID: "7"})
	require.NoError(t, err)
	assert.EqualValues(t, 12, n)
}

func TestStore_Stats(t *testing.T) {
	t.Run("action kind sorted by count", func(t *testing.T) {
		s, mock := setupMockDB(t)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT action_kind AS bucket, COUNT(*) FROM audit_records GROUP BY bucket`)).
			WillReturnRows(sqlmock.NewRows([]string{"bucket", "count"}).
				AddRow("view", int64(3)).
				AddRow("create", int64(9)).
				AddRow("delete", int64(3)))

		got, err := s.Stats(context.Background(), audit.DimensionAction, audit.Filter{})
		require.NoError(t, err)
		assert.Equal(t, []audit.Bucket{{Key: "create", Count: 9}, {Key: "delete", Count: 3}, {Key: "view", Count: 3}}, got)
	})

	t.Run("day buckets chronological", func(t *testing.T) {
		s, mock := setupMockDB(t)
		mock.ExpectQuery("date_trunc\\('day'").
			WillReturnRows(sqlmock.NewRows([]string{"bucket", "count"}).
				AddRow("2024-01-03", int64(1)).
				AddRow("2024-01-01", int64(5)))

		got, err := s.Stats(context.Background(), audit.DimensionDay, audit.Filter{})
		require.NoError(t, err)
		assert.Equal(t, "2024-01-01", got[0].Key)
	})

	t.Run("unknown dimension", func(t *testing.T) {
		s, _ := setupMockDB(t)
		_, err := s.Stats(context.Background(), "browser", audit.Filter{})
		assert.ErrorIs(t, err, audit.ErrInvalidDimension)
	})
}

func TestStore_ClearActor(t *testing.T) {
	s, mock := setupMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE audit_records SET actor_id = NULL, actor_name = NULL WHERE actor_id = $1`)).
		WithArgs("42").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.ClearActor(context.Background(), "42")
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}

func TestStore_PurgeKind(t *testing.T) {
	s, mock := setupMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM audit_records WHERE entity_kind = $1`)).
		WithArgs("blog").
		WillReturnResult(sqlmock.NewResult(0, 6))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM entity_kinds WHERE name = $1`)).
		WithArgs("blog").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := s.PurgeKind(context.Background(), "blog")
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Delete(t *testing.T) {
	s, mock := setupMockDB(t)
	until := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM audit_records WHERE occurred_at < $1`)).
		WithArgs(until).
		WillReturnResult(sqlmock.NewResult(0, 100))

	n, err := s.Delete(context.Background(), audit.Filter{Until: &until})
	require.NoError(t, err)
	assert.EqualValues(t, 100, n)
}

func TestStore_DeleteExactIDs(t *testing.T) {
	s, mock := setupMockDB(t)
	until := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	a := uuid.MustParse("6f1c2a8e-0b5d-4c1e-9a7f-3d2b1c0e9f8a")
	b := uuid.MustParse("0a9b8c7d-6e5f-4a3b-8c2d-1e0f9a8b7c6d")
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM audit_records WHERE occurred_at < $1 AND id = ANY($2::uuid[])`)).
		WithArgs(until, "{"+a.String()+","+b.String()+"}").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.Delete(context.Background(), audit.Filter{Until: &until, IDs: []uuid.UUID{a, b}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
