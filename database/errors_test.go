package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"sql no rows", sql.ErrNoRows, ClassNotFound},
		{"pgx no rows wrapped", fmt.Errorf("get: %w", pgx.ErrNoRows), ClassNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505"}, ClassConstraint},
		{"check violation", &pgconn.PgError{Code: "23514", Message: "bad action"}, ClassConstraint},
		{"serialization", &pgconn.PgError{Code: "40001"}, ClassRetryable},
		{"statement timeout", &pgconn.PgError{Code: "57014"}, ClassTimeout},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), ClassTimeout},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, ClassUnavailable},
		{"connection failure", &pgconn.PgError{Code: "08006"}, ClassUnavailable},
		{"bad conn", driver.ErrBadConn, ClassUnavailable},
		{"other", errors.New("boom"), ClassUnknown},
		{"nil", nil, ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.want, got, got.String())
		})
	}
}
