package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestSerializationFailuresAreRetryable(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"serialization": {err: &pgconn.PgError{Code: "40001"}, want: true},
		"deadlock":      {err: fmt.Errorf("append logs: %w", &pgconn.PgError{Code: "40P01"}), want: true},
		"unique":        {err: &pgconn.PgError{Code: "23505"}, want: false},
		"plain":         {err: errors.New("connection reset"), want: false},
	}
	for name, tc := range cases {
		if got := Dialect.IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: expected retryable=%v, got %v", name, tc.want, got)
		}
	}
}
