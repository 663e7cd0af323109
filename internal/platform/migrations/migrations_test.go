package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/lib/pq"
)

func TestEmbeddedMigrations_ContainsExpectedFiles(t *testing.T) {
	entries, err := files.ReadDir("sql")
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]bool{
		"000001_events.up.sql":             false,
		"000001_events.down.sql":           false,
		"000002_chain_sync_state.up.sql":   false,
		"000002_chain_sync_state.down.sql": false,
		"000003_chains.up.sql":             false,
		"000003_chains.down.sql":           false,
	}
	for _, e := range entries {
		if _, ok := want[e.Name()]; ok {
			want[e.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected embedded migration file %s not found", name)
		}
	}
}

func TestApply_UnreachableDatabaseReturnsError(t *testing.T) {
	db, err := sql.Open("postgres", "postgres://unreachable:5432/db?sslmode=disable&connect_timeout=1")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := Apply(db); err == nil {
		t.Fatal("expected error for an unreachable database")
	}
}
