package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Options{Path: filepath.Join(t.TempDir(), "heimdall.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "direct", err: NotFoundError{Entity: "component", Key: "x"}, want: true},
		{name: "wrapped", err: fmt.Errorf("outer: %w", NotFoundError{Entity: "component"}), want: true},
		{name: "nil", err: nil, want: false},
		{name: "other", err: errors.New("something"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsNotFound(tt.err); got != tt.want {
				t.Errorf("IsNotFound(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDialectFor(t *testing.T) {
	t.Parallel()

	cases := map[string]Dialect{
		"":                              DialectSQLite,
		"/var/lib/heimdall/heimdall.db": DialectSQLite,
		"postgres://u:p@db/heimdall":    DialectPostgres,
		"POSTGRESQL://db/heimdall":      DialectPostgres,
	}
	for dsn, want := range cases {
		if got := dialectFor(dsn); got != want {
			t.Errorf("dialectFor(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestRebindDollar(t *testing.T) {
	t.Parallel()

	got := rebindDollar(`SELECT a FROM t WHERE x = ? AND y = '?' AND z = ?`)
	want := `SELECT a FROM t WHERE x = $1 AND y = '?' AND z = $2`
	if got != want {
		t.Fatalf("rebindDollar = %q, want %q", got, want)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(Options{}); err == nil {
		t.Fatal("expected error without sqlite path")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "heimdall.db")
	for i := 0; i < 2; i++ {
		st, err := Open(Options{Path: path})
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		if st.Dialect() != DialectSQLite || st.Path() != path {
			t.Fatalf("unexpected store %q %q", st.Dialect(), st.Path())
		}
		if st.SchemaVersion() != 1 {
			t.Fatalf("open #%d: expected schema version 1, got %d", i, st.SchemaVersion())
		}
		st.Close()
	}
}
