package migrate

import (
	"testing"

	"studyline/internal/db"
)

func TestMigrateIsRepeatable(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	for i := 0; i < 2; i++ {
		if err := Migrate(conn, db.SQLite); err != nil {
			t.Fatalf("migrate run %d: %v", i, err)
		}
	}
	v, err := Version(conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	migrations, _ := loadMigrations(db.SQLite)
	if v != migrations[len(migrations)-1].Version {
		t.Fatalf("expected latest version, got %d", v)
	}
	if _, err := conn.Exec(`SELECT guid FROM scheduled_activities LIMIT 1`); err != nil {
		t.Fatalf("scheduled_activities missing: %v", err)
	}
}

func TestDialectsShareVersions(t *testing.T) {
	lite, err := loadMigrations(db.SQLite)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	pg, err := loadMigrations(db.Postgres)
	if err != nil {
		t.Fatalf("postgres: %v", err)
	}
	if len(lite) != len(pg) {
		t.Fatalf("sqlite has %d migrations, postgres %d", len(lite), len(pg))
	}
	for i := range lite {
		if lite[i].Version != pg[i].Version {
			t.Fatalf("version mismatch at %d", i)
		}
	}
}
