package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"proofbox/api/internal/auth"
	"proofbox/api/internal/authpw"
	"proofbox/api/internal/export"
	"proofbox/api/internal/rbac"
	"proofbox/api/internal/search"
	"proofbox/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) forbid(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodPost {
		switch r.URL.Path {
		case "/api/auth/signup":
			s.handleAuthSignUp(w, r)
			return
		case "/api/auth/signin":
			s.handleAuthSignIn(w, r)
			return
		case "/api/auth/verify-email":
			s.handleAuthVerifyEmail(w, r)
			return
		case "/api/auth/reset-password/request":
			s.handleAuthRequestReset(w, r)
			return
		case "/api/auth/reset-password/confirm":
			s.handleAuthResetPassword(w, r)
			return
		case "/api/session/refresh":
			s.handleSessionRefresh(w, r)
			return
		}
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	rest := parts[1:]

	switch rest[0] {
	case "session":
		if len(rest) == 2 && rest[1] == "logout" && r.Method == http.MethodPost {
			s.handleSessionLogout(w, r, session)
			return
		}
	case "users":
		s.handleUsers(w, r, session, rest[1:])
		return
	case "uploaded-files":
		s.handleUploadedFiles(w, r, session, rest[1:])
		return
	case "file-assignments":
		s.handleFileAssignments(w, r, session, rest[1:])
		return
	case "validation":
		s.handleValidation(w, r, session, rest[1:])
		return
	case "issue-reports":
		s.handleIssueReports(w, r, session, rest[1:])
		return
	case "activity":
		if len(rest) == 1 && r.Method == http.MethodGet {
			s.handleActivity(w, r, session)
			return
		}
	case "search":
		if len(rest) == 1 && r.Method == http.MethodGet {
			s.handleSearch(w, r, session)
			return
		}
	case "summary":
		if len(rest) == 1 && r.Method == http.MethodGet {
			s.handleSummary(w, r, session)
			return
		}
	case "filter-options":
		if len(rest) == 1 && r.Method == http.MethodGet {
			s.handleFilterOptions(w, r, session)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error"}
	}
	if err := s.service.sessions.Ping(ctx); err != nil {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
		checks["sessions"] = map[string]any{"status": "error"}
	} else {
		checks["sessions"] = map[string]any{"status": "ok"}
	}
	writeJSON(w, statusCode, map[string]any{"status": status, "checks": checks})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return Session{}, false
	}
	return session, true
}

// ---- sessions ----

func (s *HTTPServer) handleSessionRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.RefreshToken == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleSessionLogout(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	_ = s.service.Logout(r.Context(), session, body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ---- users ----

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if len(rest) == 1 && rest[0] == "me" && r.Method == http.MethodGet {
		payload, err := s.service.Me(r.Context(), session)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if !s.service.Can(session.Role, rbac.PermUserManage) {
		s.forbid(w)
		return
	}

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListUsers(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": items})
	case len(rest) == 2 && rest[1] == "role" && r.Method == http.MethodPut:
		var body struct {
			Role string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateUserRole(r.Context(), rest[0], body.Role); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case len(rest) == 2 && rest[1] == "deactivate" && r.Method == http.MethodPost:
		if rest[0] == session.UserID {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "cannot deactivate your own account", nil)
			return
		}
		if err := s.service.DeactivateUser(r.Context(), rest[0]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// ---- uploaded files ----

func (s *HTTPServer) handleUploadedFiles(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			s.handleListFiles(w, r, session)
		case http.MethodPost:
			s.handleUpload(w, r, session)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	fileID := rest[0]
	rest = rest[1:]

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			if !s.service.Can(session.Role, rbac.PermFileRead) {
				s.forbid(w)
				return
			}
			payload, err := s.service.GetFile(r.Context(), fileID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if !s.service.Can(session.Role, rbac.PermFileDelete) {
				s.forbid(w)
				return
			}
			if err := s.service.DeleteFile(r.Context(), session, fileID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch {
	case rest[0] == "content" && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.PermFileRead) {
			s.forbid(w)
			return
		}
		payload, err := s.service.FileContent(r.Context(), fileID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case rest[0] == "download" && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.PermFileRead) {
			s.forbid(w)
			return
		}
		payload, err := s.service.DownloadURL(r.Context(), fileID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case rest[0] == "history" && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.PermFileRead) {
			s.forbid(w)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		payload, err := s.service.FileHistory(r.Context(), fileID, limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case rest[0] == "compare" && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.PermFileRead) {
			s.forbid(w)
			return
		}
		from := r.URL.Query().Get("from")
		to := r.URL.Query().Get("to")
		if from == "" || to == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "from and to are required", nil)
			return
		}
		payload, err := s.service.CompareRevisions(r.Context(), fileID, from, to)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case rest[0] == "export" && r.Method == http.MethodGet:
		s.handleExport(w, r, session, fileID)
	case rest[0] == "extraction-result" && r.Method == http.MethodPost:
		s.handleExtractionResult(w, r, session, fileID)
	case rest[0] == "assignments" && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.PermAssign) {
			s.forbid(w)
			return
		}
		items, err := s.service.ListFileAssignments(r.Context(), fileID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"assignments": items})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleListFiles(w http.ResponseWriter, r *http.Request, session Session) {
	if !s.service.Can(session.Role, rbac.PermFileRead) {
		s.forbid(w)
		return
	}
	query := r.URL.Query()
	filter := store.FileFilter{
		State:      query.Get("state"),
		Department: query.Get("department"),
		Year:       query.Get("year"),
		Status:     query.Get("status"),
		UploadedBy: query.Get("uploadedBy"),
		AssignedTo: query.Get("assignedTo"),
	}
	if raw := query.Get("validated"); raw != "" {
		validated := raw == "true"
		filter.Validated = &validated
	}
	filter.Limit, _ = strconv.Atoi(query.Get("limit"))
	filter.Offset, _ = strconv.Atoi(query.Get("offset"))

	payload, err := s.service.ListFiles(r.Context(), filter)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, session Session) {
	if !s.service.Can(session.Role, rbac.PermFileUpload) {
		s.forbid(w)
		return
	}

	maxBytes := s.service.cfg.MaxUploadBytes
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1024)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart form", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file field is required", nil)
		return
	}
	defer file.Close()

	payload, err := s.service.UploadFile(r.Context(), session, UploadInput{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		State:       r.FormValue("state"),
		Department:  r.FormValue("department"),
		Year:        r.FormValue("year"),
	}, file)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleExtractionResult(w http.ResponseWriter, r *http.Request, session Session, fileID string) {
	if !s.service.Can(session.Role, rbac.PermFileUpload) {
		s.forbid(w)
		return
	}
	var body struct {
		Status        string          `json:"status"`
		ExtractedJSON json.RawMessage `json:"extractedJson"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.SetExtractionResult(r.Context(), session, fileID, body.Status, body.ExtractedJSON)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, session Session, fileID string) {
	if !s.service.Can(session.Role, rbac.PermFileExport) {
		s.forbid(w)
		return
	}
	format := export.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = export.FormatPDF
	}
	result, err := s.service.ExportFile(r.Context(), fileID, r.URL.Query().Get("version"), format)
	if err != nil {
		switch {
		case errors.Is(err, export.ErrContentUnavailable):
			writeError(w, http.StatusConflict, "CONTENT_UNAVAILABLE", "file has no document to export", nil)
		case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
			writeError(w, http.StatusNotImplemented, "EXPORT_UNAVAILABLE", err.Error(), nil)
		default:
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
		}
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// ---- assignments ----

func (s *HTTPServer) handleFileAssignments(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if len(rest) == 1 && rest[0] == "mine" && r.Method == http.MethodGet {
		items, err := s.service.ListMyAssignments(r.Context(), session)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"assignments": items})
		return
	}

	// An assignee may update their own assignment status without the
	// assignment permission.
	if len(rest) == 2 && r.Method == http.MethodPut && rest[1] == session.UserID {
		s.handleAssignmentStatus(w, r, rest[0], rest[1])
		return
	}

	if !s.service.Can(session.Role, rbac.PermAssign) {
		s.forbid(w)
		return
	}

	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body struct {
			FileID string `json:"fileId"`
			UserID string `json:"userId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.FileID == "" || body.UserID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "fileId and userId are required", nil)
			return
		}
		payload, err := s.service.AssignFile(r.Context(), session, body.FileID, body.UserID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
	case len(rest) == 2 && r.Method == http.MethodPut:
		s.handleAssignmentStatus(w, r, rest[0], rest[1])
	case len(rest) == 2 && r.Method == http.MethodDelete:
		if err := s.service.UnassignFile(r.Context(), rest[0], rest[1]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleAssignmentStatus(w http.ResponseWriter, r *http.Request, fileID, userID string) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.UpdateAssignmentStatus(r.Context(), fileID, userID, body.Status); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ---- validation workspaces and drafts ----

func (s *HTTPServer) handleValidation(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if !s.service.Can(session.Role, rbac.PermValidate) {
		s.forbid(w)
		return
	}
	if len(rest) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch rest[0] {
	case "workspaces":
		s.handleWorkspaces(w, r, session, rest[1:])
	case "drafts":
		s.handleDrafts(w, r, session, rest[1:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleWorkspaces(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body struct {
			FileID string `json:"fileId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.FileID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "fileId is required", nil)
			return
		}
		payload, err := s.service.OpenWorkspace(r.Context(), session, body.FileID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
	case len(rest) == 1 && r.Method == http.MethodGet:
		payload, err := s.service.GetWorkspace(r.Context(), session, rest[0])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		if _, err := s.service.GetWorkspace(r.Context(), session, rest[0]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		s.service.CloseWorkspace(rest[0])
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case len(rest) == 2 && rest[1] == "feedback" && r.Method == http.MethodPost:
		var input FeedbackInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ApplyFeedback(r.Context(), session, rest[0], input)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case len(rest) == 2 && rest[1] == "save" && r.Method == http.MethodPost:
		var body struct {
			Message string `json:"message"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.SaveWorkspace(r.Context(), session, rest[0], body.Message)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleDrafts(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	fileID := rest[0]

	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.GetDraft(r.Context(), session, fileID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPut:
		var body struct {
			Rows     json.RawMessage `json:"rows"`
			Feedback json.RawMessage `json:"feedback"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SaveDraft(r.Context(), session, fileID, body.Rows, body.Feedback); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case http.MethodDelete:
		if err := s.service.DeleteDraft(r.Context(), session, fileID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

// ---- issue reports ----

func (s *HTTPServer) handleIssueReports(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		if !s.service.Can(session.Role, rbac.PermIssueReport) {
			s.forbid(w)
			return
		}
		var body struct {
			FileID      string `json:"fileId"`
			RowKey      string `json:"rowKey"`
			Description string `json:"description"`
			Severity    string `json:"severity"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.FileID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "fileId is required", nil)
			return
		}
		payload, err := s.service.ReportIssue(r.Context(), session, body.FileID, body.RowKey, body.Description, body.Severity)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
	case len(rest) == 0 && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.PermFileRead) {
			s.forbid(w)
			return
		}
		items, err := s.service.ListIssues(r.Context(), r.URL.Query().Get("fileId"), r.URL.Query().Get("status"))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reports": items})
	case len(rest) == 2 && rest[1] == "resolve" && r.Method == http.MethodPost:
		if !s.service.Can(session.Role, rbac.PermIssueResolve) {
			s.forbid(w)
			return
		}
		if err := s.service.ResolveIssue(r.Context(), session, rest[0]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// ---- activity, search, summary, filter options ----

func (s *HTTPServer) handleActivity(w http.ResponseWriter, r *http.Request, session Session) {
	if !s.service.Can(session.Role, rbac.PermActivityRead) {
		s.forbid(w)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	items, err := s.service.ListActivity(r.Context(), r.URL.Query().Get("fileId"), limit)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": items})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	if !s.service.Can(session.Role, rbac.PermFileRead) {
		s.forbid(w)
		return
	}
	query := r.URL.Query()
	q := search.Query{
		Text:             query.Get("q"),
		FilterState:      query.Get("state"),
		FilterDepartment: query.Get("department"),
		FilterYear:       query.Get("year"),
		ValidatedOnly:    query.Get("validated") == "true",
	}
	q.Limit, _ = strconv.Atoi(query.Get("limit"))
	q.Offset, _ = strconv.Atoi(query.Get("offset"))

	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), q))
}

func (s *HTTPServer) handleSummary(w http.ResponseWriter, r *http.Request, session Session) {
	if !s.service.Can(session.Role, rbac.PermFileRead) {
		s.forbid(w)
		return
	}
	payload, err := s.service.Summary(r.Context())
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleFilterOptions(w http.ResponseWriter, r *http.Request, session Session) {
	if !s.service.Can(session.Role, rbac.PermFileRead) {
		s.forbid(w)
		return
	}
	payload, err := s.service.FilterOptions(r.Context())
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// ---- auth handlers ----

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := authSvc.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		return
	}

	response := map[string]any{
		"userId":  resp.UserID,
		"message": "Please check your email to verify your account",
	}
	// Dev bypass: surface the verification token when no mailer is configured.
	if !s.service.SMTPConfigured() {
		response["devVerificationToken"] = resp.VerificationToken
		response["message"] = "Account created. Verify your email to continue."
	}

	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := authSvc.SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrAccountDeactivated) {
			writeError(w, http.StatusForbidden, "ACCOUNT_DEACTIVATED", "Account has been deactivated", nil)
			return
		}
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}

	if resp.RequiresVerify {
		writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
		return
	}

	session, err := s.service.CreateSession(r.Context(), resp.User.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusBadRequest, "VERIFICATION_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Email verified successfully",
	})
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	code, _ := authSvc.RequestPasswordReset(r.Context(), body.Email)

	response := map[string]any{
		"message": "If an account exists, a reset code has been sent",
	}
	// Dev bypass: surface the one-time code when no mailer is configured.
	if !s.service.SMTPConfigured() && code != "" {
		response["devResetCode"] = code
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email       string `json:"email"`
		Code        string `json:"code"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.ResetPassword(r.Context(), authpw.ResetPasswordRequest{
		Email:       body.Email,
		Code:        body.Code,
		NewPassword: body.NewPassword,
	}); err != nil {
		if errors.Is(err, authpw.ErrInvalidResetCode) {
			writeError(w, http.StatusBadRequest, "INVALID_RESET_CODE", "Invalid or expired reset code", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "RESET_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Password reset successfully",
	})
}

// ---- middleware and helpers ----

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = newRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)
		setCORSHeaders(w.Header(), s.corsOrigin)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID, r.Method, r.URL.Path, recorder.status, time.Since(start).Milliseconds())
	})
}

func newRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
