package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"proofbox/api/internal/export"
	"proofbox/api/internal/gitrepo"
	"proofbox/api/internal/search"
	"proofbox/api/internal/store"
)

// fakeDataStore is an in-memory stand-in for the Postgres store.
type fakeDataStore struct {
	users       map[string]store.User
	files       map[string]store.UploadedFile
	assignments []store.FileAssignment
	drafts      map[string]store.ValidationDraft
	issues      map[string]store.IssueReport
	activity    []store.ActivityEntry
	revokedJTIs map[string]bool
	resetOTPs   []store.PasswordResetOTP
}

func newFakeDataStore() *fakeDataStore {
	return &fakeDataStore{
		users:       map[string]store.User{},
		files:       map[string]store.UploadedFile{},
		drafts:      map[string]store.ValidationDraft{},
		issues:      map[string]store.IssueReport{},
		revokedJTIs: map[string]bool{},
	}
}

func (f *fakeDataStore) Ping(ctx context.Context) error { return nil }

func (f *fakeDataStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeDataStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeDataStore) ListUsers(ctx context.Context) ([]store.User, error) {
	users := make([]store.User, 0, len(f.users))
	for _, user := range f.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (f *fakeDataStore) UpdateUserRole(ctx context.Context, id, role string) error {
	user, ok := f.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.Role = role
	f.users[id] = user
	return nil
}

func (f *fakeDataStore) DeactivateUser(ctx context.Context, id string) error {
	user, ok := f.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	now := time.Now()
	user.DeactivatedAt = &now
	f.users[id] = user
	return nil
}

func (f *fakeDataStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	f.revokedJTIs[jti] = true
	return nil
}

func (f *fakeDataStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	return f.revokedJTIs[jti], nil
}

func (f *fakeDataStore) GetUserByVerificationToken(ctx context.Context, token string) (store.User, error) {
	for _, user := range f.users {
		if user.VerificationToken == token {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeDataStore) CreateUser(ctx context.Context, user store.User) error {
	user.CreatedAt = time.Now()
	f.users[user.ID] = user
	return nil
}

func (f *fakeDataStore) MarkEmailVerified(ctx context.Context, userID string) error {
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.IsEmailVerified = true
	user.VerificationToken = ""
	f.users[userID] = user
	return nil
}

func (f *fakeDataStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return nil
}

func (f *fakeDataStore) CreatePasswordResetOTP(ctx context.Context, email, codeHash string, expiresAt time.Time) error {
	f.resetOTPs = append(f.resetOTPs, store.PasswordResetOTP{
		ID:        int64(len(f.resetOTPs) + 1),
		Email:     email,
		CodeHash:  codeHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	})
	return nil
}

func (f *fakeDataStore) LatestPasswordResetOTP(ctx context.Context, email string) (store.PasswordResetOTP, error) {
	for i := len(f.resetOTPs) - 1; i >= 0; i-- {
		otp := f.resetOTPs[i]
		if otp.Email == email && otp.ConsumedAt == nil && time.Now().Before(otp.ExpiresAt) {
			return otp, nil
		}
	}
	return store.PasswordResetOTP{}, sql.ErrNoRows
}

func (f *fakeDataStore) ConsumePasswordResetOTP(ctx context.Context, id int64) error {
	for i := range f.resetOTPs {
		if f.resetOTPs[i].ID == id {
			now := time.Now()
			f.resetOTPs[i].ConsumedAt = &now
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeDataStore) CreateUploadedFile(ctx context.Context, file store.UploadedFile) error {
	file.CreatedAt = time.Now()
	file.UpdatedAt = file.CreatedAt
	f.files[file.ID] = file
	return nil
}

func (f *fakeDataStore) GetUploadedFile(ctx context.Context, id string) (store.UploadedFile, error) {
	file, ok := f.files[id]
	if !ok {
		return store.UploadedFile{}, sql.ErrNoRows
	}
	return file, nil
}

func (f *fakeDataStore) ListUploadedFiles(ctx context.Context, filter store.FileFilter) ([]store.UploadedFile, int, error) {
	files := make([]store.UploadedFile, 0, len(f.files))
	for _, file := range f.files {
		if filter.State != "" && file.State != filter.State {
			continue
		}
		if filter.Status != "" && file.Status != filter.Status {
			continue
		}
		if filter.Validated != nil && file.Validated != *filter.Validated {
			continue
		}
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, len(files), nil
}

func (f *fakeDataStore) UpdateExtractionResult(ctx context.Context, id, status string, extractedJSON []byte) error {
	file, ok := f.files[id]
	if !ok {
		return sql.ErrNoRows
	}
	file.Status = status
	if len(extractedJSON) > 0 {
		file.ExtractedJSON = extractedJSON
	}
	f.files[id] = file
	return nil
}

func (f *fakeDataStore) SaveValidatedJSON(ctx context.Context, id string, raw []byte, userID string) error {
	file, ok := f.files[id]
	if !ok {
		return sql.ErrNoRows
	}
	now := time.Now()
	file.UpdatedJSON = raw
	file.Validated = true
	file.ValidatedBy = &userID
	file.ValidatedAt = &now
	f.files[id] = file
	return nil
}

func (f *fakeDataStore) DeleteUploadedFile(ctx context.Context, id string) error {
	if _, ok := f.files[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.files, id)
	return nil
}

func (f *fakeDataStore) FilterOptions(ctx context.Context) ([]string, []string, []string, error) {
	return []string{"Kerala"}, []string{"Water Resources"}, []string{"2023"}, nil
}

func (f *fakeDataStore) SummaryCounts(ctx context.Context) (int, int, int, int, error) {
	total := len(f.files)
	validated := 0
	for _, file := range f.files {
		if file.Validated {
			validated++
		}
	}
	return total, validated, total - validated, 0, nil
}

func (f *fakeDataStore) CreateFileAssignment(ctx context.Context, assignment store.FileAssignment) error {
	assignment.AssignedAt = time.Now()
	f.assignments = append(f.assignments, assignment)
	return nil
}

func (f *fakeDataStore) ListAssignmentsForUser(ctx context.Context, userID string) ([]store.FileAssignment, error) {
	out := []store.FileAssignment{}
	for _, assignment := range f.assignments {
		if assignment.UserID == userID {
			out = append(out, assignment)
		}
	}
	return out, nil
}

func (f *fakeDataStore) ListAssignmentsForFile(ctx context.Context, fileID string) ([]store.FileAssignment, error) {
	out := []store.FileAssignment{}
	for _, assignment := range f.assignments {
		if assignment.FileID == fileID {
			out = append(out, assignment)
		}
	}
	return out, nil
}

func (f *fakeDataStore) UpdateAssignmentStatus(ctx context.Context, fileID, userID, status string) error {
	for i, assignment := range f.assignments {
		if assignment.FileID == fileID && assignment.UserID == userID {
			f.assignments[i].Status = status
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeDataStore) IsFileAssignedTo(ctx context.Context, fileID, userID string) (bool, error) {
	for _, assignment := range f.assignments {
		if assignment.FileID == fileID && assignment.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDataStore) DeleteAssignment(ctx context.Context, fileID, userID string) error {
	for i, assignment := range f.assignments {
		if assignment.FileID == fileID && assignment.UserID == userID {
			f.assignments = append(f.assignments[:i], f.assignments[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func draftKey(fileID, userID string) string { return fileID + "/" + userID }

func (f *fakeDataStore) UpsertDraft(ctx context.Context, draft store.ValidationDraft) error {
	draft.SavedAt = time.Now()
	f.drafts[draftKey(draft.FileID, draft.UserID)] = draft
	return nil
}

func (f *fakeDataStore) GetDraft(ctx context.Context, fileID, userID string) (store.ValidationDraft, error) {
	draft, ok := f.drafts[draftKey(fileID, userID)]
	if !ok {
		return store.ValidationDraft{}, sql.ErrNoRows
	}
	return draft, nil
}

func (f *fakeDataStore) DeleteDraft(ctx context.Context, fileID, userID string) error {
	delete(f.drafts, draftKey(fileID, userID))
	return nil
}

func (f *fakeDataStore) CreateIssueReport(ctx context.Context, report store.IssueReport) error {
	report.CreatedAt = time.Now()
	f.issues[report.ID] = report
	return nil
}

func (f *fakeDataStore) ListIssueReports(ctx context.Context, fileID, status string) ([]store.IssueReport, error) {
	out := []store.IssueReport{}
	for _, report := range f.issues {
		if fileID != "" && report.FileID != fileID {
			continue
		}
		if status != "" && report.Status != status {
			continue
		}
		out = append(out, report)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDataStore) ResolveIssueReport(ctx context.Context, id, userID string) error {
	report, ok := f.issues[id]
	if !ok {
		return sql.ErrNoRows
	}
	now := time.Now()
	report.Status = "resolved"
	report.ResolvedBy = &userID
	report.ResolvedAt = &now
	f.issues[id] = report
	return nil
}

func (f *fakeDataStore) InsertActivity(ctx context.Context, entry store.ActivityEntry) error {
	entry.ID = int64(len(f.activity) + 1)
	entry.CreatedAt = time.Now()
	f.activity = append(f.activity, entry)
	return nil
}

func (f *fakeDataStore) ListActivity(ctx context.Context, fileID string, limit int) ([]store.ActivityEntry, error) {
	out := []store.ActivityEntry{}
	for _, entry := range f.activity {
		if fileID != "" && entry.FileID != fileID {
			continue
		}
		out = append(out, entry)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeDataStore) activityTypes() []string {
	types := make([]string, 0, len(f.activity))
	for _, entry := range f.activity {
		types = append(types, entry.EventType)
	}
	return types
}

// fakeSessionStore keeps refresh sessions in a map keyed by token hash.
type fakeSessionStore struct {
	sessions map[string]store.User
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[string]store.User{}}
}

func (f *fakeSessionStore) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	f.sessions[tokenHash] = user
	return nil
}

func (f *fakeSessionStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	user, ok := f.sessions[tokenHash]
	if !ok {
		return store.User{}, fmt.Errorf("refresh session not found")
	}
	return user, nil
}

func (f *fakeSessionStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	delete(f.sessions, tokenHash)
	return nil
}

func (f *fakeSessionStore) Ping(ctx context.Context) error { return nil }

// fakeGitService records commits per file without touching disk.
type fakeGitService struct {
	heads   map[string]json.RawMessage
	commits map[string][]gitrepo.CommitInfo
}

func newFakeGitService() *fakeGitService {
	return &fakeGitService{
		heads:   map[string]json.RawMessage{},
		commits: map[string][]gitrepo.CommitInfo{},
	}
}

func (f *fakeGitService) EnsureFileRepo(fileID string, initial json.RawMessage, author string) error {
	if _, ok := f.heads[fileID]; ok {
		return nil
	}
	f.heads[fileID] = initial
	f.commits[fileID] = append(f.commits[fileID], gitrepo.CommitInfo{
		Hash:      fmt.Sprintf("%s-c%d", fileID, 1),
		Message:   "Initial extraction",
		Author:    author,
		CreatedAt: time.Now(),
	})
	return nil
}

func (f *fakeGitService) CommitRevision(fileID string, doc json.RawMessage, author, message string) (gitrepo.CommitInfo, error) {
	f.heads[fileID] = doc
	commit := gitrepo.CommitInfo{
		Hash:      fmt.Sprintf("%s-c%d", fileID, len(f.commits[fileID])+1),
		Message:   message,
		Author:    author,
		CreatedAt: time.Now(),
	}
	f.commits[fileID] = append(f.commits[fileID], commit)
	return commit, nil
}

func (f *fakeGitService) GetHeadDocument(fileID string) (json.RawMessage, gitrepo.CommitInfo, error) {
	head, ok := f.heads[fileID]
	if !ok {
		return nil, gitrepo.CommitInfo{}, fmt.Errorf("no repo for %s", fileID)
	}
	commits := f.commits[fileID]
	return head, commits[len(commits)-1], nil
}

func (f *fakeGitService) GetDocumentByHash(fileID, hash string) (json.RawMessage, error) {
	head, ok := f.heads[fileID]
	if !ok {
		return nil, fmt.Errorf("no repo for %s", fileID)
	}
	return head, nil
}

func (f *fakeGitService) History(fileID string, limit int) ([]gitrepo.CommitInfo, error) {
	commits := f.commits[fileID]
	if limit > 0 && len(commits) > limit {
		commits = commits[:limit]
	}
	return commits, nil
}

// fakeObjectStore keeps object payloads in a map.
type fakeObjectStore struct {
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (f *fakeObjectStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjectStore) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeObjectStore) PresignedURL(ctx context.Context, key, filename string, expiry time.Duration) (string, error) {
	return "https://objects.local/" + key, nil
}

// fakeSearchIndex records index operations.
type fakeSearchIndex struct {
	indexed []search.FileRecord
	deleted []string
}

func (f *fakeSearchIndex) Search(q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (f *fakeSearchIndex) IndexFile(record search.FileRecord) {
	f.indexed = append(f.indexed, record)
}

func (f *fakeSearchIndex) DeleteFile(id string) {
	f.deleted = append(f.deleted, id)
}

// fakeExporter returns a canned result.
type fakeExporter struct {
	lastRequest export.Request
	err         error
}

func (f *fakeExporter) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	return &export.Result{
		Data:     []byte("%PDF-1.4 fake"),
		Filename: "audit-report.pdf",
		MimeType: "application/pdf",
	}, nil
}
