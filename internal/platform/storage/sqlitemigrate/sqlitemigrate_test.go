package sqlitemigrate

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrate.db")
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}

func TestApplyRunsMigrationsOnce(t *testing.T) {
	sqlDB := openTestDB(t)
	migrations := fstest.MapFS{
		"0001_init.sql": &fstest.MapFile{Data: []byte(`-- +migrate Up
CREATE TABLE things (id TEXT PRIMARY KEY);
-- +migrate Down
DROP TABLE things;`)},
		"0002_add_column.sql": &fstest.MapFile{Data: []byte(`-- +migrate Up
ALTER TABLE things ADD COLUMN label TEXT;
-- +migrate Down
`)},
	}

	if err := Apply(sqlDB, migrations); err != nil {
		t.Fatalf("apply: %v", err)
	}
	// A second run must be a no-op.
	if err := Apply(sqlDB, migrations); err != nil {
		t.Fatalf("re-apply: %v", err)
	}

	if _, err := sqlDB.Exec("INSERT INTO things (id, label) VALUES ('a', 'b')"); err != nil {
		t.Fatalf("expected migrated schema to be usable: %v", err)
	}

	var count int
	if err := sqlDB.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 recorded migrations, got %d", count)
	}
}

func TestExtractUp(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "up and down sections",
			content: "-- +migrate Up\nCREATE TABLE a (id TEXT);\n-- +migrate Down\nDROP TABLE a;",
			want:    "\nCREATE TABLE a (id TEXT);\n",
		},
		{
			name:    "no markers",
			content: "CREATE TABLE b (id TEXT);",
			want:    "CREATE TABLE b (id TEXT);",
		},
		{
			name:    "up only",
			content: "-- +migrate Up\nCREATE TABLE c (id TEXT);",
			want:    "\nCREATE TABLE c (id TEXT);",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractUp(tc.content); got != tc.want {
				t.Fatalf("ExtractUp = %q, want %q", got, tc.want)
			}
		})
	}
}
