package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"proofbox/api/internal/auth"
	"proofbox/api/internal/authpw"
	"proofbox/api/internal/config"
	"proofbox/api/internal/export"
	"proofbox/api/internal/gitrepo"
	"proofbox/api/internal/rbac"
	"proofbox/api/internal/search"
	"proofbox/api/internal/store"
	"proofbox/api/internal/util"
	"proofbox/api/internal/validation"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	UpdateUserRole(context.Context, string, string) error
	DeactivateUser(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	CreateUploadedFile(context.Context, store.UploadedFile) error
	GetUploadedFile(context.Context, string) (store.UploadedFile, error)
	ListUploadedFiles(context.Context, store.FileFilter) ([]store.UploadedFile, int, error)
	UpdateExtractionResult(context.Context, string, string, []byte) error
	SaveValidatedJSON(context.Context, string, []byte, string) error
	DeleteUploadedFile(context.Context, string) error
	FilterOptions(context.Context) ([]string, []string, []string, error)
	SummaryCounts(context.Context) (int, int, int, int, error)

	CreateFileAssignment(context.Context, store.FileAssignment) error
	ListAssignmentsForUser(context.Context, string) ([]store.FileAssignment, error)
	ListAssignmentsForFile(context.Context, string) ([]store.FileAssignment, error)
	UpdateAssignmentStatus(context.Context, string, string, string) error
	IsFileAssignedTo(context.Context, string, string) (bool, error)
	DeleteAssignment(context.Context, string, string) error

	UpsertDraft(context.Context, store.ValidationDraft) error
	GetDraft(context.Context, string, string) (store.ValidationDraft, error)
	DeleteDraft(context.Context, string, string) error

	CreateIssueReport(context.Context, store.IssueReport) error
	ListIssueReports(context.Context, string, string) ([]store.IssueReport, error)
	ResolveIssueReport(context.Context, string, string) error

	InsertActivity(context.Context, store.ActivityEntry) error
	ListActivity(context.Context, string, int) ([]store.ActivityEntry, error)
}

type sessionStore interface {
	SaveRefreshSession(context.Context, string, store.User, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	Ping(context.Context) error
}

type gitService interface {
	EnsureFileRepo(string, json.RawMessage, string) error
	CommitRevision(string, json.RawMessage, string, string) (gitrepo.CommitInfo, error)
	GetHeadDocument(string) (json.RawMessage, gitrepo.CommitInfo, error)
	GetDocumentByHash(string, string) (json.RawMessage, error)
	History(string, int) ([]gitrepo.CommitInfo, error)
}

type objectStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	PresignedURL(ctx context.Context, key, filename string, expiry time.Duration) (string, error)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexFile(f search.FileRecord)
	DeleteFile(id string)
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// workspaceRecord is one open review session. Records expire after the
// configured workspace TTL; expired records are swept on access.
type workspaceRecord struct {
	fileID    string
	userID    string
	workspace *validation.Workspace
	expiresAt time.Time
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	git      gitService
	objects  objectStore
	search   searchIndex
	export   exporter
	authpw   *authpw.Service

	smtpConfigured bool

	workspaceTTL time.Duration
	wsMu         sync.Mutex
	workspaces   map[string]*workspaceRecord
}

func New(
	cfg config.Config,
	dataStore dataStore,
	sessionStore sessionStore,
	gitService gitService,
	objects objectStore,
	searchService searchIndex,
	exportService exporter,
	authService *authpw.Service,
	smtpConfigured bool,
) *Service {
	ttl := cfg.WorkspaceTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		cfg:            cfg,
		store:          dataStore,
		sessions:       sessionStore,
		git:            gitService,
		objects:        objects,
		search:         searchService,
		export:         exportService,
		authpw:         authService,
		smtpConfigured: smtpConfigured,
		workspaceTTL:   ttl,
		workspaces:     make(map[string]*workspaceRecord),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.smtpConfigured
}

func (s *Service) Can(role string, perm rbac.Permission) bool {
	return rbac.Can(rbac.Normalize(role), perm)
}

// ---- sessions ----

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Email: user.Email,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Email:     claims.Email,
		Role:      claims.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Me(ctx context.Context, session Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	permissions := rbac.Permissions(rbac.Normalize(user.Role))
	permStrings := make([]string, 0, len(permissions))
	for _, perm := range permissions {
		permStrings = append(permStrings, string(perm))
	}
	return map[string]any{
		"id":          user.ID,
		"name":        user.DisplayName,
		"email":       user.Email,
		"role":        user.Role,
		"verified":    user.IsEmailVerified,
		"permissions": permStrings,
	}, nil
}

// ---- user administration ----

func (s *Service) ListUsers(ctx context.Context) ([]map[string]any, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, map[string]any{
			"id":          user.ID,
			"name":        user.DisplayName,
			"email":       user.Email,
			"role":        user.Role,
			"verified":    user.IsEmailVerified,
			"deactivated": user.DeactivatedAt != nil,
			"createdAt":   user.CreatedAt.Format(time.RFC3339),
		})
	}
	return items, nil
}

func (s *Service) UpdateUserRole(ctx context.Context, userID, role string) error {
	if rbac.Normalize(role) != rbac.Role(role) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be one of viewer, uploader, reviewer, admin", nil)
	}
	return s.store.UpdateUserRole(ctx, userID, role)
}

func (s *Service) DeactivateUser(ctx context.Context, userID string) error {
	return s.store.DeactivateUser(ctx, userID)
}

// ---- uploaded files ----

type UploadInput struct {
	FileName    string
	ContentType string
	Size        int64
	State       string
	Department  string
	Year        string
}

func (s *Service) UploadFile(ctx context.Context, session Session, input UploadInput, reader io.Reader) (map[string]any, error) {
	fileName := strings.TrimSpace(input.FileName)
	if fileName == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file name is required", nil)
	}
	if input.Size <= 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is empty", nil)
	}
	if s.cfg.MaxUploadBytes > 0 && input.Size > s.cfg.MaxUploadBytes {
		return nil, domainError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file exceeds the upload limit", map[string]any{
			"maxBytes": s.cfg.MaxUploadBytes,
		})
	}

	fileID := util.NewID("file")
	objectKey := fileID + "/" + fileName
	contentType := input.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if err := s.objects.Put(ctx, objectKey, reader, input.Size, contentType); err != nil {
		return nil, fmt.Errorf("store object: %w", err)
	}

	file := store.UploadedFile{
		ID:          fileID,
		FileName:    fileName,
		ObjectKey:   objectKey,
		ContentType: contentType,
		SizeBytes:   input.Size,
		State:       strings.TrimSpace(input.State),
		Department:  strings.TrimSpace(input.Department),
		Year:        strings.TrimSpace(input.Year),
		Status:      "pending",
		UploadedBy:  session.UserID,
	}
	if err := s.store.CreateUploadedFile(ctx, file); err != nil {
		_ = s.objects.Delete(ctx, objectKey)
		return nil, err
	}

	s.recordActivity(ctx, "file_uploaded", session, fileID, map[string]any{"fileName": fileName})
	s.search.IndexFile(fileRecord(file))

	return fileItem(file), nil
}

func (s *Service) ListFiles(ctx context.Context, filter store.FileFilter) (map[string]any, error) {
	files, total, err := s.store.ListUploadedFiles(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(files))
	for _, file := range files {
		items = append(items, fileItem(file))
	}
	return map[string]any{
		"files": items,
		"total": total,
	}, nil
}

func (s *Service) GetFile(ctx context.Context, fileID string) (map[string]any, error) {
	file, err := s.store.GetUploadedFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return fileItem(file), nil
}

// FileContent returns the extraction payloads: the immutable pipeline output
// and, when a reviewer has saved, the corrected copy.
func (s *Service) FileContent(ctx context.Context, fileID string) (map[string]any, error) {
	file, err := s.store.GetUploadedFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"fileId":   file.ID,
		"fileName": file.FileName,
		"status":   file.Status,
	}
	if len(file.ExtractedJSON) > 0 {
		payload["extracted"] = json.RawMessage(file.ExtractedJSON)
	}
	if len(file.UpdatedJSON) > 0 {
		payload["updated"] = json.RawMessage(file.UpdatedJSON)
	}
	return payload, nil
}

func (s *Service) DownloadURL(ctx context.Context, fileID string) (map[string]any, error) {
	file, err := s.store.GetUploadedFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	url, err := s.objects.PresignedURL(ctx, file.ObjectKey, file.FileName, 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("presign download: %w", err)
	}
	return map[string]any{
		"fileId":   file.ID,
		"fileName": file.FileName,
		"url":      url,
	}, nil
}

func (s *Service) DeleteFile(ctx context.Context, session Session, fileID string) error {
	file, err := s.store.GetUploadedFile(ctx, fileID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteUploadedFile(ctx, fileID); err != nil {
		return err
	}
	_ = s.objects.Delete(ctx, file.ObjectKey)
	s.search.DeleteFile(fileID)
	s.recordActivity(ctx, "file_deleted", session, fileID, map[string]any{"fileName": file.FileName})
	return nil
}

// SetExtractionResult ingests the pipeline output for a file. A successful
// extraction seeds the file's git history with the baseline document.
func (s *Service) SetExtractionResult(ctx context.Context, session Session, fileID, status string, extractedJSON json.RawMessage) (map[string]any, error) {
	switch status {
	case "completed", "failed":
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be completed or failed", nil)
	}
	if status == "completed" && len(extractedJSON) > 0 {
		var doc validation.ExtractionDocument
		if err := json.Unmarshal(extractedJSON, &doc); err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "extraction payload is not a valid document", nil)
		}
	}

	if err := s.store.UpdateExtractionResult(ctx, fileID, status, extractedJSON); err != nil {
		return nil, err
	}

	if status == "completed" && len(extractedJSON) > 0 {
		if err := s.git.EnsureFileRepo(fileID, extractedJSON, session.UserName); err != nil {
			return nil, fmt.Errorf("seed file history: %w", err)
		}
	}

	file, err := s.store.GetUploadedFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	s.search.IndexFile(fileRecord(file))
	s.recordActivity(ctx, "extraction_"+status, session, fileID, nil)
	return fileItem(file), nil
}

func (s *Service) FilterOptions(ctx context.Context) (map[string]any, error) {
	states, departments, years, err := s.store.FilterOptions(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"states":      states,
		"departments": departments,
		"years":       years,
	}, nil
}

func (s *Service) Summary(ctx context.Context) (map[string]any, error) {
	total, validated, pending, failed, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"total":     total,
		"validated": validated,
		"pending":   pending,
		"failed":    failed,
	}, nil
}

// ---- assignments ----

func (s *Service) AssignFile(ctx context.Context, session Session, fileID, userID string) (map[string]any, error) {
	if _, err := s.store.GetUploadedFile(ctx, fileID); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.DeactivatedAt != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "cannot assign to a deactivated user", nil)
	}
	assignment := store.FileAssignment{
		ID:         util.NewID("asg"),
		FileID:     fileID,
		UserID:     userID,
		AssignedBy: session.UserID,
		Status:     "assigned",
	}
	if err := s.store.CreateFileAssignment(ctx, assignment); err != nil {
		return nil, err
	}
	s.recordActivity(ctx, "file_assigned", session, fileID, map[string]any{"assigneeId": userID})
	return map[string]any{
		"fileId": fileID,
		"userId": userID,
		"status": assignment.Status,
	}, nil
}

func (s *Service) ListMyAssignments(ctx context.Context, session Session) ([]map[string]any, error) {
	assignments, err := s.store.ListAssignmentsForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return assignmentItems(assignments), nil
}

func (s *Service) ListFileAssignments(ctx context.Context, fileID string) ([]map[string]any, error) {
	assignments, err := s.store.ListAssignmentsForFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return assignmentItems(assignments), nil
}

func (s *Service) UpdateAssignmentStatus(ctx context.Context, fileID, userID, status string) error {
	switch status {
	case "assigned", "in_progress", "completed":
	default:
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be assigned, in_progress, or completed", nil)
	}
	return s.store.UpdateAssignmentStatus(ctx, fileID, userID, status)
}

func (s *Service) UnassignFile(ctx context.Context, fileID, userID string) error {
	return s.store.DeleteAssignment(ctx, fileID, userID)
}

// ---- validation workspaces ----

// OpenWorkspace transforms a file's current document into display rows and
// tracks the review session in memory. Reviewers work on the corrected copy
// when one exists, otherwise on the pipeline output.
func (s *Service) OpenWorkspace(ctx context.Context, session Session, fileID string) (map[string]any, error) {
	file, err := s.store.GetUploadedFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	source := file.UpdatedJSON
	if len(source) == 0 {
		source = file.ExtractedJSON
	}
	if len(source) == 0 {
		return nil, domainError(http.StatusConflict, "NO_EXTRACTION", "file has no extraction to review", nil)
	}

	var doc validation.ExtractionDocument
	if err := json.Unmarshal(source, &doc); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}

	workspaceID := util.NewID("ws")
	record := &workspaceRecord{
		fileID:    fileID,
		userID:    session.UserID,
		workspace: validation.NewWorkspace(&doc),
		expiresAt: time.Now().Add(s.workspaceTTL),
	}

	s.wsMu.Lock()
	s.purgeExpiredLocked()
	s.workspaces[workspaceID] = record
	s.wsMu.Unlock()

	return s.workspacePayload(workspaceID, record), nil
}

// FeedbackInput is one reviewer action against an open workspace.
type FeedbackInput struct {
	Action         string `json:"action"`
	Key            string `json:"key"`
	ValidationType string `json:"validationType"`
	Comment        string `json:"comment"`
	Value          string `json:"value"`
}

// ApplyFeedback runs one state machine action. Unknown keys and unmet
// preconditions are silent no-ops; the returned payload always reflects the
// workspace state after the action.
func (s *Service) ApplyFeedback(ctx context.Context, session Session, workspaceID string, input FeedbackInput) (map[string]any, error) {
	record, err := s.lookupWorkspace(workspaceID, session.UserID)
	if err != nil {
		return nil, err
	}

	ws := record.workspace
	switch input.Action {
	case "thumbsUp":
		ws.ThumbsUp(input.Key)
	case "thumbsDown":
		ws.ThumbsDown(input.Key)
	case "selectValidationType":
		ws.SelectValidationType(input.ValidationType)
	case "submitValidation":
		ws.SubmitValidation(input.Key, input.ValidationType, input.Comment)
	case "closeValidation":
		ws.CloseValidation(input.Key)
	case "beginEdit":
		ws.BeginEdit(input.Key, input.Value)
	case "saveEdit":
		ws.SaveEdit(input.Key, input.Value)
	case "cancelEdit":
		ws.CancelEdit(input.Key)
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown feedback action", map[string]any{"action": input.Action})
	}

	return s.workspacePayload(workspaceID, record), nil
}

func (s *Service) GetWorkspace(ctx context.Context, session Session, workspaceID string) (map[string]any, error) {
	record, err := s.lookupWorkspace(workspaceID, session.UserID)
	if err != nil {
		return nil, err
	}
	return s.workspacePayload(workspaceID, record), nil
}

// SaveWorkspace reconstructs the corrected document, persists it, commits a
// revision, and closes out any draft for the file.
func (s *Service) SaveWorkspace(ctx context.Context, session Session, workspaceID, message string) (map[string]any, error) {
	record, err := s.lookupWorkspace(workspaceID, session.UserID)
	if err != nil {
		return nil, err
	}

	doc, err := record.workspace.Reconstruct()
	if err != nil {
		return nil, domainError(http.StatusConflict, "RECONSTRUCT_FAILED", err.Error(), nil)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	if err := s.store.SaveValidatedJSON(ctx, record.fileID, raw, session.UserID); err != nil {
		return nil, err
	}

	commitMessage := strings.TrimSpace(message)
	if commitMessage == "" {
		commitMessage = "Save validated document"
	}
	commit, err := s.git.CommitRevision(record.fileID, raw, session.UserName, commitMessage)
	if err != nil {
		return nil, fmt.Errorf("commit revision: %w", err)
	}

	_ = s.store.DeleteDraft(ctx, record.fileID, session.UserID)
	s.recordActivity(ctx, "validation_saved", session, record.fileID, map[string]any{
		"commitHash": commit.Hash,
		"flagged":    len(record.workspace.Feedback()),
	})

	if file, err := s.store.GetUploadedFile(ctx, record.fileID); err == nil {
		s.search.IndexFile(fileRecord(file))
	}

	payload := s.workspacePayload(workspaceID, record)
	payload["commit"] = commit
	return payload, nil
}

func (s *Service) CloseWorkspace(workspaceID string) {
	s.wsMu.Lock()
	delete(s.workspaces, workspaceID)
	s.wsMu.Unlock()
}

func (s *Service) lookupWorkspace(workspaceID, userID string) (*workspaceRecord, error) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	s.purgeExpiredLocked()
	record, ok := s.workspaces[workspaceID]
	if !ok {
		return nil, domainError(http.StatusNotFound, "WORKSPACE_NOT_FOUND", "workspace not found or expired", nil)
	}
	if record.userID != userID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "workspace belongs to another reviewer", nil)
	}
	record.expiresAt = time.Now().Add(s.workspaceTTL)
	return record, nil
}

func (s *Service) purgeExpiredLocked() {
	now := time.Now()
	for id, record := range s.workspaces {
		if now.After(record.expiresAt) {
			delete(s.workspaces, id)
		}
	}
}

func (s *Service) workspacePayload(workspaceID string, record *workspaceRecord) map[string]any {
	ws := record.workspace
	return map[string]any{
		"workspaceId":       workspaceID,
		"fileId":            record.fileID,
		"rows":              ws.Rows(),
		"feedback":          ws.Feedback(),
		"openValidationKey": ws.OpenValidationKey(),
		"openEditKey":       ws.OpenEditKey(),
		"pendingType":       ws.PendingValidationType(),
	}
}

// ---- drafts ----

func (s *Service) SaveDraft(ctx context.Context, session Session, fileID string, rows, feedback json.RawMessage) error {
	if len(rows) == 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "rows are required", nil)
	}
	if len(feedback) == 0 {
		feedback = json.RawMessage(`{}`)
	}
	if _, err := s.store.GetUploadedFile(ctx, fileID); err != nil {
		return err
	}
	draft := store.ValidationDraft{
		ID:       util.NewID("drf"),
		FileID:   fileID,
		UserID:   session.UserID,
		Rows:     rows,
		Feedback: feedback,
	}
	if err := s.store.UpsertDraft(ctx, draft); err != nil {
		return err
	}
	s.recordActivity(ctx, "draft_saved", session, fileID, nil)
	return nil
}

func (s *Service) GetDraft(ctx context.Context, session Session, fileID string) (map[string]any, error) {
	draft, err := s.store.GetDraft(ctx, fileID, session.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"fileId":   draft.FileID,
		"rows":     json.RawMessage(draft.Rows),
		"feedback": json.RawMessage(draft.Feedback),
		"savedAt":  draft.SavedAt.Format(time.RFC3339),
	}, nil
}

func (s *Service) DeleteDraft(ctx context.Context, session Session, fileID string) error {
	return s.store.DeleteDraft(ctx, fileID, session.UserID)
}

// ---- issue reports ----

var allowedIssueSeverities = map[string]struct{}{
	"minor":    {},
	"major":    {},
	"critical": {},
}

func (s *Service) ReportIssue(ctx context.Context, session Session, fileID, rowKey, description, severity string) (map[string]any, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "description is required", nil)
	}
	if severity == "" {
		severity = "minor"
	}
	if _, ok := allowedIssueSeverities[severity]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "severity must be minor, major, or critical", nil)
	}
	if _, err := s.store.GetUploadedFile(ctx, fileID); err != nil {
		return nil, err
	}
	report := store.IssueReport{
		ID:          util.NewID("iss"),
		FileID:      fileID,
		RowKey:      strings.TrimSpace(rowKey),
		Description: description,
		Severity:    severity,
		Status:      "open",
		ReportedBy:  session.UserID,
	}
	if err := s.store.CreateIssueReport(ctx, report); err != nil {
		return nil, err
	}
	s.recordActivity(ctx, "issue_reported", session, fileID, map[string]any{"rowKey": report.RowKey, "severity": severity})
	return map[string]any{"id": report.ID, "status": report.Status}, nil
}

func (s *Service) ListIssues(ctx context.Context, fileID, status string) ([]map[string]any, error) {
	reports, err := s.store.ListIssueReports(ctx, fileID, status)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(reports))
	for _, report := range reports {
		item := map[string]any{
			"id":          report.ID,
			"fileId":      report.FileID,
			"rowKey":      report.RowKey,
			"description": report.Description,
			"severity":    report.Severity,
			"status":      report.Status,
			"reportedBy":  report.ReportedBy,
			"createdAt":   report.CreatedAt.Format(time.RFC3339),
		}
		if report.ResolvedBy != nil {
			item["resolvedBy"] = *report.ResolvedBy
		}
		if report.ResolvedAt != nil {
			item["resolvedAt"] = report.ResolvedAt.Format(time.RFC3339)
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Service) ResolveIssue(ctx context.Context, session Session, reportID string) error {
	if err := s.store.ResolveIssueReport(ctx, reportID, session.UserID); err != nil {
		return err
	}
	s.recordActivity(ctx, "issue_resolved", session, "", map[string]any{"reportId": reportID})
	return nil
}

// ---- activity ----

func (s *Service) ListActivity(ctx context.Context, fileID string, limit int) ([]map[string]any, error) {
	entries, err := s.store.ListActivity(ctx, fileID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		items = append(items, map[string]any{
			"id":        entry.ID,
			"eventType": entry.EventType,
			"actorId":   entry.ActorID,
			"actorName": entry.ActorName,
			"fileId":    entry.FileID,
			"payload":   entry.Payload,
			"createdAt": entry.CreatedAt.Format(time.RFC3339),
		})
	}
	return items, nil
}

func (s *Service) recordActivity(ctx context.Context, eventType string, session Session, fileID string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	// Activity is best-effort; it never fails the operation it records.
	_ = s.store.InsertActivity(ctx, store.ActivityEntry{
		EventType: eventType,
		ActorID:   session.UserID,
		ActorName: session.UserName,
		FileID:    fileID,
		Payload:   payload,
	})
}

// ---- history and compare ----

func (s *Service) FileHistory(ctx context.Context, fileID string, limit int) (map[string]any, error) {
	if _, err := s.store.GetUploadedFile(ctx, fileID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	commits, err := s.git.History(fileID, limit)
	if err != nil {
		return nil, fmt.Errorf("file history: %w", err)
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, map[string]any{
			"hash":      commit.Hash,
			"message":   commit.Message,
			"author":    commit.Author,
			"createdAt": commit.CreatedAt.Format(time.RFC3339),
		})
	}
	return map[string]any{
		"fileId":  fileID,
		"commits": items,
	}, nil
}

func (s *Service) CompareRevisions(ctx context.Context, fileID, fromHash, toHash string) (map[string]any, error) {
	from, err := s.git.GetDocumentByHash(fileID, fromHash)
	if err != nil {
		return nil, err
	}
	to, err := s.git.GetDocumentByHash(fileID, toHash)
	if err != nil {
		return nil, err
	}
	diffs, err := gitrepo.DiffMetadata(from, to)
	if err != nil {
		return nil, fmt.Errorf("diff revisions: %w", err)
	}
	return map[string]any{
		"fileId":        fileID,
		"from":          fromHash,
		"to":            toHash,
		"changedFields": diffs,
	}, nil
}

// ---- export ----

func (s *Service) ExportFile(ctx context.Context, fileID, version string, format export.Format) (*export.Result, error) {
	return s.export.Export(ctx, export.Request{
		FileID:  fileID,
		Version: version,
		Format:  format,
	})
}

// ---- search ----

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(q)
}

// ---- helpers ----

func fileItem(file store.UploadedFile) map[string]any {
	item := map[string]any{
		"id":          file.ID,
		"fileName":    file.FileName,
		"contentType": file.ContentType,
		"sizeBytes":   file.SizeBytes,
		"state":       file.State,
		"department":  file.Department,
		"year":        file.Year,
		"status":      file.Status,
		"validated":   file.Validated,
		"uploadedBy":  file.UploadedBy,
		"createdAt":   file.CreatedAt.Format(time.RFC3339),
		"updatedAt":   file.UpdatedAt.Format(time.RFC3339),
	}
	if file.ValidatedBy != nil {
		item["validatedBy"] = *file.ValidatedBy
	}
	if file.ValidatedAt != nil {
		item["validatedAt"] = file.ValidatedAt.Format(time.RFC3339)
	}
	return item
}

func assignmentItems(assignments []store.FileAssignment) []map[string]any {
	items := make([]map[string]any, 0, len(assignments))
	for _, assignment := range assignments {
		item := map[string]any{
			"fileId":     assignment.FileID,
			"userId":     assignment.UserID,
			"assignedBy": assignment.AssignedBy,
			"status":     assignment.Status,
			"assignedAt": assignment.AssignedAt.Format(time.RFC3339),
			"fileName":   assignment.FileName,
			"userEmail":  assignment.UserEmail,
			"userName":   assignment.UserName,
		}
		if assignment.CompletedAt != nil {
			item["completedAt"] = assignment.CompletedAt.Format(time.RFC3339)
		}
		items = append(items, item)
	}
	return items
}

func fileRecord(file store.UploadedFile) search.FileRecord {
	return search.FileRecord{
		ID:           file.ID,
		FileName:     file.FileName,
		State:        file.State,
		Department:   file.Department,
		Year:         file.Year,
		Status:       file.Status,
		Validated:    file.Validated,
		MetadataText: metadataText(file),
	}
}

// metadataText flattens the document metadata values into one searchable
// string. Reviewer corrections take precedence over pipeline output.
func metadataText(file store.UploadedFile) string {
	source := file.UpdatedJSON
	if len(source) == 0 {
		source = file.ExtractedJSON
	}
	if len(source) == 0 {
		return ""
	}
	var envelope struct {
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(source, &envelope); err != nil {
		return ""
	}
	parts := make([]string, 0, len(envelope.Metadata))
	for _, value := range envelope.Metadata {
		switch v := value.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				parts = append(parts, v)
			}
		case float64, bool, json.Number:
			parts = append(parts, fmt.Sprintf("%v", v))
		}
	}
	return strings.Join(parts, " ")
}

// ExportDataSource adapts the store and git history to the export renderer.
type ExportDataSource struct {
	Store dataStore
	Git   gitService
}

func (d *ExportDataSource) GetFile(ctx context.Context, id string) (export.FileInfo, error) {
	file, err := d.Store.GetUploadedFile(ctx, id)
	if err != nil {
		return export.FileInfo{}, err
	}
	info := export.FileInfo{
		ID:         file.ID,
		FileName:   file.FileName,
		State:      file.State,
		Department: file.Department,
		Year:       file.Year,
		Validated:  file.Validated,
		UpdatedAt:  file.UpdatedAt,
	}
	if file.ValidatedBy != nil {
		info.ValidatedBy = *file.ValidatedBy
	}
	return info, nil
}

func (d *ExportDataSource) GetFileDocument(ctx context.Context, fileID, version string) (json.RawMessage, error) {
	if version == "" || version == "latest" {
		file, err := d.Store.GetUploadedFile(ctx, fileID)
		if err != nil {
			return nil, err
		}
		if len(file.UpdatedJSON) > 0 {
			return file.UpdatedJSON, nil
		}
		if len(file.ExtractedJSON) > 0 {
			return file.ExtractedJSON, nil
		}
		return nil, sql.ErrNoRows
	}
	return d.Git.GetDocumentByHash(fileID, version)
}
