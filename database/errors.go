package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Class groups driver errors by how a caller should react to them.
type Class int

const (
	ClassUnknown Class = iota
	ClassNotFound
	ClassConstraint  // unique, foreign key or check violation
	ClassRetryable   // serialization failure, deadlock
	ClassTimeout     // statement timeout or cancelled query
	ClassUnavailable // connection lost, server shutting down
)

func (c Class) String() string {
	switch c {
	case ClassNotFound:
		return "not_found"
	case ClassConstraint:
		return "constraint"
	case ClassRetryable:
		return "retryable"
	case ClassTimeout:
		return "timeout"
	case ClassUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Classify inspects err, including wrapped pgx errors and context errors.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	if IsNoRows(err) {
		return ClassNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return ClassUnavailable
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23503", "23514", "23502":
			return ClassConstraint
		case "40001", "40P01":
			return ClassRetryable
		case "57014":
			return ClassTimeout
		case "57P01", "57P02", "57P03":
			return ClassUnavailable
		}
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "08" {
			return ClassUnavailable
		}
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return ClassUnavailable
	}
	return ClassUnknown
}

// IsNoRows matches both the database/sql and the native pgx sentinel.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}
