package store

import (
	"strings"
	"testing"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := LoadMigrations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected at least one migration")
	}

	first := migrations[0]
	if first.Version != "000001_init" {
		t.Errorf("Version = %q, want 000001_init", first.Version)
	}
	if first.UpSQL == "" {
		t.Error("expected up SQL")
	}
	if first.DownSQL == "" {
		t.Error("expected down SQL")
	}
	if !strings.Contains(first.UpSQL, "api_keys") {
		t.Error("init migration should create the api_keys table")
	}
	if !strings.Contains(first.UpSQL, "token_version") {
		t.Error("init migration should create the token_version column")
	}

	// Versions come back sorted
	for i := 1; i < len(migrations); i++ {
		if migrations[i-1].Version >= migrations[i].Version {
			t.Errorf("migrations out of order: %q before %q", migrations[i-1].Version, migrations[i].Version)
		}
	}
}
