package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtractionGuardMigrationUsesBlockingTrigger(t *testing.T) {
	migrationPath := filepath.Join("..", "..", "db", "migrations", "0004_extraction_immutability.up.sql")
	sqlBytes, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	expectedSnippets := []string{
		"uploaded_files_extraction_guard",
		"RAISE EXCEPTION",
		"CREATE TRIGGER trg_uploaded_files_block_extraction_rewrite",
		"IS DISTINCT FROM",
	}
	for _, snippet := range expectedSnippets {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
	if strings.Contains(sqlText, "DO INSTEAD NOTHING") {
		t.Fatalf("expected hard-fail guard, found silent DO INSTEAD NOTHING rule")
	}
}
