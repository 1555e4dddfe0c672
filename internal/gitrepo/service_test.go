package gitrepo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func sampleDoc(state string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"metadata": {
			"Report_ID": "RPT-001",
			"state": %q,
			"Reporting_Period": {"Period_From": "2021", "Period_To": "2022"}
		},
		"parts": [
			{"part_title": "Part I", "sections": [
				{"section_title": "Scope", "content": [{"type": "paragraph", "text": "Scope text."}]}
			]}
		]
	}`, state))
}

func TestFileRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureFileRepo("file-1", sampleDoc("Tamilnadu"), "Avery"); err != nil {
		t.Fatalf("EnsureFileRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "file-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	// Idempotent
	if err := svc.EnsureFileRepo("file-1", sampleDoc("Kerala"), "Avery"); err != nil {
		t.Fatalf("EnsureFileRepo() second call error = %v", err)
	}

	commit, err := svc.CommitRevision("file-1", sampleDoc("Kerala"), "Avery", "Correct state")
	if err != nil {
		t.Fatalf("CommitRevision() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}

	history, err := svc.History("file-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].Message != "Correct state" {
		t.Fatalf("unexpected newest commit: %+v", history[0])
	}

	doc, head, err := svc.GetHeadDocument("file-1")
	if err != nil {
		t.Fatalf("GetHeadDocument() error = %v", err)
	}
	if head.Hash != commit.Hash {
		t.Fatalf("head hash %s != commit hash %s", head.Hash, commit.Hash)
	}
	var decoded struct {
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(doc, &decoded); err != nil {
		t.Fatalf("decode head document: %v", err)
	}
	if decoded.Metadata["state"] != "Kerala" {
		t.Fatalf("unexpected head state: %v", decoded.Metadata["state"])
	}
}

func TestGetDocumentByHash(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureFileRepo("file-1", sampleDoc("Tamilnadu"), "Avery"); err != nil {
		t.Fatalf("EnsureFileRepo() error = %v", err)
	}
	commit, err := svc.CommitRevision("file-1", sampleDoc("Kerala"), "Avery", "Correct state")
	if err != nil {
		t.Fatalf("CommitRevision() error = %v", err)
	}

	history, err := svc.History("file-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	baseline := history[len(history)-1]

	old, err := svc.GetDocumentByHash("file-1", baseline.Hash)
	if err != nil {
		t.Fatalf("GetDocumentByHash(baseline) error = %v", err)
	}
	latest, err := svc.GetDocumentByHash("file-1", commit.Hash)
	if err != nil {
		t.Fatalf("GetDocumentByHash(head) error = %v", err)
	}

	diffs, err := DiffMetadata(old, latest)
	if err != nil {
		t.Fatalf("DiffMetadata() error = %v", err)
	}
	if len(diffs) != 1 {
		t.Fatalf("expected 1 diff, got %d: %+v", len(diffs), diffs)
	}
	if diffs[0].Field != "state" || diffs[0].Before != "Tamilnadu" || diffs[0].After != "Kerala" {
		t.Fatalf("unexpected diff: %+v", diffs[0])
	}
}

func TestDiffMetadataReportsPartChanges(t *testing.T) {
	before := json.RawMessage(`{
		"metadata": {"state": "Kerala"},
		"parts": [{"part_title": "Part I", "sections": []}]
	}`)
	after := json.RawMessage(`{
		"metadata": {"state": "Kerala"},
		"parts": [{"part_title": "Part II", "sections": []}]
	}`)

	diffs, err := DiffMetadata(before, after)
	if err != nil {
		t.Fatalf("DiffMetadata() error = %v", err)
	}
	if len(diffs) != 1 || diffs[0].Field != "parts" {
		t.Fatalf("expected single parts diff, got %+v", diffs)
	}
	if !HasChanges(before, after) {
		t.Fatal("HasChanges() = false, want true")
	}
}

func TestHasChangesIgnoresFormatting(t *testing.T) {
	a := json.RawMessage(`{"metadata":{"state":"Kerala"},"parts":[]}`)
	b := json.RawMessage(`{
		"metadata": {"state": "Kerala"},
		"parts": []
	}`)
	if HasChanges(a, b) {
		t.Fatal("HasChanges() = true for formatting-only difference")
	}
}

func TestConcurrentCommitsSameFile(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureFileRepo("file-1", sampleDoc("Tamilnadu"), "Avery"); err != nil {
		t.Fatalf("EnsureFileRepo() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			doc := sampleDoc(fmt.Sprintf("state-%02d", idx))
			if _, err := svc.CommitRevision("file-1", doc, "Avery", fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("CommitRevision() concurrent error = %v", err)
		}
	}

	history, err := svc.History("file-1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers+1 {
		t.Fatalf("expected %d commits in history, got %d", writers+1, len(history))
	}
}
