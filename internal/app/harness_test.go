package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"proofbox/api/internal/authpw"
	"proofbox/api/internal/config"
	"proofbox/api/internal/store"
)

type testEnv struct {
	service  *Service
	handler  http.Handler
	store    *fakeDataStore
	sessions *fakeSessionStore
	git      *fakeGitService
	objects  *fakeObjectStore
	search   *fakeSearchIndex
	export   *fakeExporter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Config{
		JWTSecret:      "test-secret",
		AccessTTL:      15 * time.Minute,
		RefreshTTL:     time.Hour,
		WorkspaceTTL:   time.Hour,
		MaxUploadBytes: 1 << 20,
		CORSOrigin:     "*",
	}
	dataStore := newFakeDataStore()
	sessions := newFakeSessionStore()
	git := newFakeGitService()
	objects := newFakeObjectStore()
	searchIdx := &fakeSearchIndex{}
	exporter := &fakeExporter{}
	authService := authpw.NewService(dataStore)

	service := New(cfg, dataStore, sessions, git, objects, searchIdx, exporter, authService, false)
	return &testEnv{
		service:  service,
		handler:  NewHTTPServer(service, "*").Handler(),
		store:    dataStore,
		sessions: sessions,
		git:      git,
		objects:  objects,
		search:   searchIdx,
		export:   exporter,
	}
}

func (e *testEnv) addUser(t *testing.T, id, name, role string) store.User {
	t.Helper()
	user := store.User{
		ID:              id,
		DisplayName:     name,
		Email:           id + "@example.com",
		Role:            role,
		IsEmailVerified: true,
		CreatedAt:       time.Now(),
	}
	e.store.users[id] = user
	return user
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	session, err := e.service.CreateSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("create session for %s: %v", userID, err)
	}
	return session.Token
}

func (e *testEnv) addFile(t *testing.T, id string, extracted []byte) store.UploadedFile {
	t.Helper()
	file := store.UploadedFile{
		ID:            id,
		FileName:      id + ".pdf",
		ObjectKey:     id + "/" + id + ".pdf",
		ContentType:   "application/pdf",
		SizeBytes:     128,
		State:         "Kerala",
		Department:    "Water Resources",
		Year:          "2023",
		Status:        "completed",
		ExtractedJSON: extracted,
		UploadedBy:    "usr-uploader",
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	e.store.files[id] = file
	return file
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, req)
	return recorder
}

func (e *testEnv) doMultipart(t *testing.T, path, token string, fields map[string]string, fileField, fileName string, fileData []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field %s: %v", key, err)
		}
	}
	part, err := writer.CreateFormFile(fileField, fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(fileData); err != nil {
		t.Fatalf("write file part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

const sampleExtractionJSON = `{
	"metadata": {
		"state": "Kerala",
		"department": "Water Resources",
		"year": 2023,
		"audit_opinion": {"type": "qualified", "basis": "scope limitation"},
		"key_findings": ["Delayed project execution", "Cost overrun of 14%"]
	},
	"parts": [
		{
			"part_title": "Part I",
			"sections": [
				{
					"section_title": "Introduction",
					"content": [
						{"type": "paragraph", "text": "The audit covered the irrigation schemes of the state."}
					]
				}
			]
		}
	]
}`
