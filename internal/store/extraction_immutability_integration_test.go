package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

// TestExtractionImmutabilityBlocksRewrite verifies that a stored pipeline
// document cannot be overwritten once set. Corrections must land in
// updated_json.
func TestExtractionImmutabilityBlocksRewrite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	databaseURL := getTestDatabaseURL(t)
	db, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified)
		VALUES ('usr-guard-test', 'Guard Test', 'guard-test@example.com', 'x', 'uploader', TRUE)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		t.Fatalf("insert test user: %v", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO uploaded_files (id, file_name, object_key, status, extracted_json, uploaded_by)
		VALUES ('file-guard-test', 'audit.pdf', 'file-guard-test/audit.pdf', 'completed', '{"metadata":{"state":"Kerala"}}'::jsonb, 'usr-guard-test')
	`)
	if err != nil {
		t.Fatalf("insert test file: %v", err)
	}
	defer func() {
		_, _ = db.ExecContext(ctx, `DELETE FROM uploaded_files WHERE id = 'file-guard-test'`)
		_, _ = db.ExecContext(ctx, `DELETE FROM users WHERE id = 'usr-guard-test'`)
	}()

	_, err = db.ExecContext(ctx, `
		UPDATE uploaded_files
		SET extracted_json = '{"metadata":{"state":"Tamil Nadu"}}'::jsonb
		WHERE id = 'file-guard-test'
	`)
	if err == nil {
		t.Fatal("expected extracted_json rewrite to be blocked, but it succeeded")
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000, got: %s", pgErr.SQLState())
	}

	// updated_json stays writable.
	_, err = db.ExecContext(ctx, `
		UPDATE uploaded_files
		SET updated_json = '{"metadata":{"state":"Kerala (corrected)"}}'::jsonb
		WHERE id = 'file-guard-test'
	`)
	if err != nil {
		t.Fatalf("expected updated_json write to succeed: %v", err)
	}
}

// getTestDatabaseURL returns the database URL for testing.
// Tests are skipped when it is not set.
func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	databaseURL := os.Getenv("PROOFBOX_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("PROOFBOX_TEST_DATABASE_URL is not set")
	}
	return databaseURL
}
