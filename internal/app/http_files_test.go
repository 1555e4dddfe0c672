package app

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func TestUploadRequiresUploadPermission(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "usr-viewer", "View Only", "viewer")
	token := env.token(t, "usr-viewer")

	recorder := env.doMultipart(t, "/api/uploaded-files", token,
		map[string]string{"state": "Kerala"}, "file", "audit.pdf", []byte("%PDF-1.4"))
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("viewer upload status = %d", recorder.Code)
	}
}

func TestUploadStoresObjectAndIndexes(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "usr-uploader", "Uma Devi", "uploader")
	token := env.token(t, "usr-uploader")

	recorder := env.doMultipart(t, "/api/uploaded-files", token, map[string]string{
		"state":      "Kerala",
		"department": "Water Resources",
		"year":       "2023",
	}, "file", "audit_2023.pdf", []byte("%PDF-1.4 test"))
	if recorder.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeResponse(t, recorder)
	fileID, _ := payload["id"].(string)
	if fileID == "" {
		t.Fatal("expected file id")
	}
	if payload["status"] != "pending" {
		t.Fatalf("new upload status = %v", payload["status"])
	}

	if len(env.objects.objects) != 1 {
		t.Fatalf("expected 1 stored object, got %d", len(env.objects.objects))
	}
	if len(env.search.indexed) != 1 || env.search.indexed[0].ID != fileID {
		t.Fatalf("expected upload to be indexed, got %+v", env.search.indexed)
	}
	types := env.store.activityTypes()
	if len(types) != 1 || types[0] != "file_uploaded" {
		t.Fatalf("activity = %v", types)
	}

	recorder = env.do(t, http.MethodGet, "/api/uploaded-files", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("list status = %d", recorder.Code)
	}
	list := decodeResponse(t, recorder)
	if list["total"].(float64) != 1 {
		t.Fatalf("total = %v", list["total"])
	}
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "usr-uploader", "Uma Devi", "uploader")
	token := env.token(t, "usr-uploader")

	big := strings.Repeat("x", (1<<20)+1)
	recorder := env.doMultipart(t, "/api/uploaded-files", token, nil, "file", "huge.pdf", []byte(big))
	if recorder.Code != http.StatusRequestEntityTooLarge && recorder.Code != http.StatusBadRequest {
		t.Fatalf("oversized upload status = %d", recorder.Code)
	}
}

func TestDeleteFileRequiresPermission(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "usr-uploader", "Uma Devi", "uploader")
	env.addUser(t, "usr-admin", "Admin", "admin")
	env.addFile(t, "file-1", nil)

	recorder := env.do(t, http.MethodDelete, "/api/uploaded-files/file-1", env.token(t, "usr-uploader"), nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("uploader delete status = %d", recorder.Code)
	}

	recorder = env.do(t, http.MethodDelete, "/api/uploaded-files/file-1", env.token(t, "usr-admin"), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("admin delete status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	if len(env.search.deleted) != 1 || env.search.deleted[0] != "file-1" {
		t.Fatalf("expected file removed from index, got %v", env.search.deleted)
	}
}

func TestExtractionResultSeedsHistory(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "usr-uploader", "Uma Devi", "uploader")
	env.addFile(t, "file-1", nil)
	token := env.token(t, "usr-uploader")

	recorder := env.do(t, http.MethodPost, "/api/uploaded-files/file-1/extraction-result", token, map[string]any{
		"status":        "completed",
		"extractedJson": json.RawMessage(sampleExtractionJSON),
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("extraction result status = %d, body %s", recorder.Code, recorder.Body.String())
	}

	if _, ok := env.git.heads["file-1"]; !ok {
		t.Fatal("expected extraction to seed the file's history")
	}

	recorder = env.do(t, http.MethodGet, "/api/uploaded-files/file-1/history", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("history status = %d", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	commits, _ := payload["commits"].([]any)
	if len(commits) != 1 {
		t.Fatalf("expected 1 commit, got %d", len(commits))
	}
}

func TestExtractionResultRejectsMalformedDocument(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "usr-uploader", "Uma Devi", "uploader")
	env.addFile(t, "file-1", nil)

	recorder := env.do(t, http.MethodPost, "/api/uploaded-files/file-1/extraction-result", env.token(t, "usr-uploader"), map[string]any{
		"status":        "completed",
		"extractedJson": json.RawMessage(`{"metadata": "not an object"}`),
	})
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("malformed extraction status = %d, body %s", recorder.Code, recorder.Body.String())
	}
}

func TestExportStreamsAttachment(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "usr-reviewer", "Asha Nair", "reviewer")
	env.addFile(t, "file-1", []byte(sampleExtractionJSON))
	token := env.token(t, "usr-reviewer")

	recorder := env.do(t, http.MethodGet, "/api/uploaded-files/file-1/export?format=pdf", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("export status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	if got := recorder.Header().Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("content type = %q", got)
	}
	if got := recorder.Header().Get("Content-Disposition"); !strings.Contains(got, "attachment") {
		t.Fatalf("content disposition = %q", got)
	}
	if env.export.lastRequest.FileID != "file-1" || env.export.lastRequest.Format != "pdf" {
		t.Fatalf("export request = %+v", env.export.lastRequest)
	}
}

func TestDownloadReturnsPresignedURL(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "usr-viewer", "View Only", "viewer")
	env.addFile(t, "file-1", nil)

	recorder := env.do(t, http.MethodGet, "/api/uploaded-files/file-1/download", env.token(t, "usr-viewer"), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("download status = %d", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	url, _ := payload["url"].(string)
	if !strings.HasPrefix(url, "https://objects.local/") {
		t.Fatalf("url = %q", url)
	}
}

func TestSummaryAndFilterOptions(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "usr-viewer", "View Only", "viewer")
	env.addFile(t, "file-1", nil)
	token := env.token(t, "usr-viewer")

	recorder := env.do(t, http.MethodGet, "/api/summary", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("summary status = %d", recorder.Code)
	}
	summary := decodeResponse(t, recorder)
	if summary["total"].(float64) != 1 {
		t.Fatalf("summary total = %v", summary["total"])
	}

	recorder = env.do(t, http.MethodGet, "/api/filter-options", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("filter options status = %d", recorder.Code)
	}
	options := decodeResponse(t, recorder)
	if _, ok := options["states"]; !ok {
		t.Fatal("expected states in filter options")
	}
}
