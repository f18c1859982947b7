package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestSQLite(t *testing.T) *DB {
	t.Helper()
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "sous.db"), PoolConfig{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLoadMigrations(t *testing.T) {
	for _, dialect := range []Dialect{DialectPostgres, DialectSQLite} {
		t.Run(string(dialect), func(t *testing.T) {
			migrations, err := LoadMigrations(dialect)
			if err != nil {
				t.Fatalf("LoadMigrations() error = %v", err)
			}
			if len(migrations) < 2 {
				t.Fatalf("expected at least 2 migrations, got %d", len(migrations))
			}
			for i, m := range migrations {
				if m.UpSQL == "" || m.DownSQL == "" {
					t.Errorf("migration %s missing up or down sql", m.ID)
				}
				if i > 0 && migrations[i-1].ID >= m.ID {
					t.Errorf("migrations not sorted: %s before %s", migrations[i-1].ID, m.ID)
				}
			}
		})
	}
}

func TestMigrator_UpDownStatus(t *testing.T) {
	ctx := context.Background()
	db := openTestSQLite(t)

	migrator, err := NewMigrator(db)
	if err != nil {
		t.Fatalf("NewMigrator() error = %v", err)
	}

	applied, err := migrator.Up(ctx, 0)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if len(applied) != len(migrator.migrations) {
		t.Fatalf("applied %d migrations, want %d", len(applied), len(migrator.migrations))
	}

	// Re-running is a no-op.
	again, err := migrator.Up(ctx, 0)
	if err != nil {
		t.Fatalf("second Up() error = %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second Up() applied %v", again)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO conversations (id, user_id) VALUES ('c1', 'u1')`); err != nil {
		t.Fatalf("schema not usable: %v", err)
	}

	rolled, err := migrator.Down(ctx, 1)
	if err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if len(rolled) != 1 {
		t.Fatalf("rolled back %v, want one migration", rolled)
	}

	appliedList, pending, err := migrator.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != rolled[0] {
		t.Fatalf("pending = %+v, want [%s]", pending, rolled[0])
	}
	if len(appliedList) != len(migrator.migrations)-1 {
		t.Fatalf("applied = %d, want %d", len(appliedList), len(migrator.migrations)-1)
	}
}

func TestNewMigrator_RequiresDB(t *testing.T) {
	if _, err := NewMigrator(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	if _, err := Open("oracle", "x", PoolConfig{}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open("postgres", "  ", PoolConfig{}); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}
