package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"
)

var errSerialization = errors.New("could not serialize access")

func openRetryStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return New(db, Dialect{
		Name:        "test",
		IsRetryable: func(err error) bool { return errors.Is(err, errSerialization) },
	})
}

func TestWriteTxRetriesRetryableFailures(t *testing.T) {
	s := openRetryStore(t)

	attempts := 0
	err := s.withWriteTx(context.Background(), func(tx *sql.Tx) error {
		attempts++
		if attempts < maxWriteAttempts {
			return errSerialization
		}
		_, err := tx.Exec(`CREATE TABLE committed (id INTEGER)`)
		return err
	})
	if err != nil {
		t.Fatalf("expected the last attempt to commit, got %v", err)
	}
	if attempts != maxWriteAttempts {
		t.Fatalf("expected %d attempts, got %d", maxWriteAttempts, attempts)
	}
	if _, err := s.db.Exec(`INSERT INTO committed (id) VALUES (1)`); err != nil {
		t.Fatalf("expected the committed table to exist: %v", err)
	}
}

func TestWriteTxGivesUpAfterMaxAttempts(t *testing.T) {
	s := openRetryStore(t)

	attempts := 0
	err := s.withWriteTx(context.Background(), func(*sql.Tx) error {
		attempts++
		return errSerialization
	})
	if !errors.Is(err, errSerialization) {
		t.Fatalf("expected the serialization error to surface, got %v", err)
	}
	if attempts != maxWriteAttempts {
		t.Fatalf("expected %d attempts, got %d", maxWriteAttempts, attempts)
	}
}

func TestWriteTxDoesNotRetryOtherErrors(t *testing.T) {
	s := openRetryStore(t)
	boom := errors.New("constraint failed")

	attempts := 0
	err := s.withWriteTx(context.Background(), func(*sql.Tx) error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) || attempts != 1 {
		t.Fatalf("expected one failed attempt, got %d (%v)", attempts, err)
	}
}
