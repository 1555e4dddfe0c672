package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token, verification_expires_at)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, NULLIF($7, ''), $8)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role,
		user.IsEmailVerified, user.VerificationToken, user.VerificationExpiresAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userColumns = `id, display_name, email, COALESCE(password_hash, ''), role,
	is_email_verified, COALESCE(verification_token, ''), verification_expires_at,
	deactivated_at, created_at, updated_at`

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role,
		&user.IsEmailVerified, &user.VerificationToken, &user.VerificationExpiresAt,
		&user.DeactivatedAt, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email=LOWER($1)`, email))
}

func (s *PostgresStore) GetUserByVerificationToken(ctx context.Context, token string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE verification_token=$1`, token))
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role,
			&user.IsEmailVerified, &user.VerificationToken, &user.VerificationExpiresAt,
			&user.DeactivatedAt, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) MarkEmailVerified(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE id=$1
	`, userID)
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET role=$2, updated_at=NOW() WHERE id=$1`, userID, role)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeactivateUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET deactivated_at=NOW(), updated_at=NOW() WHERE id=$1`, userID)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	return nil
}

// ---- access token revocation ----

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- password reset OTPs ----

func (s *PostgresStore) CreatePasswordResetOTP(ctx context.Context, email, codeHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_reset_otps (email, code_hash, expires_at)
		VALUES (LOWER($1), $2, $3)
	`, email, codeHash, expiresAt)
	if err != nil {
		return fmt.Errorf("insert reset otp: %w", err)
	}
	return nil
}

// LatestPasswordResetOTP returns the newest unconsumed, unexpired code for an email.
func (s *PostgresStore) LatestPasswordResetOTP(ctx context.Context, email string) (PasswordResetOTP, error) {
	var otp PasswordResetOTP
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, code_hash, expires_at, consumed_at, created_at
		FROM password_reset_otps
		WHERE email=LOWER($1) AND consumed_at IS NULL AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1
	`, email).Scan(&otp.ID, &otp.Email, &otp.CodeHash, &otp.ExpiresAt, &otp.ConsumedAt, &otp.CreatedAt)
	if err != nil {
		return PasswordResetOTP{}, err
	}
	return otp, nil
}

func (s *PostgresStore) ConsumePasswordResetOTP(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE password_reset_otps SET consumed_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("consume reset otp: %w", err)
	}
	return nil
}

// ---- uploaded files ----

func (s *PostgresStore) CreateUploadedFile(ctx context.Context, file UploadedFile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO uploaded_files (id, file_name, object_key, content_type, size_bytes,
			state, department, year, status, extracted_json, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, '')::jsonb, $11)
	`, file.ID, file.FileName, file.ObjectKey, file.ContentType, file.SizeBytes,
		file.State, file.Department, file.Year, file.Status, string(file.ExtractedJSON), file.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert uploaded file: %w", err)
	}
	return nil
}

const fileColumns = `f.id, f.file_name, f.object_key, f.content_type, f.size_bytes,
	f.state, f.department, f.year, f.status, f.validated,
	COALESCE(f.extracted_json::text, ''), COALESCE(f.updated_json::text, ''),
	f.uploaded_by, f.validated_by, f.validated_at, f.created_at, f.updated_at`

func scanUploadedFile(scan func(dest ...any) error) (UploadedFile, error) {
	var file UploadedFile
	var extracted, updated string
	err := scan(&file.ID, &file.FileName, &file.ObjectKey, &file.ContentType, &file.SizeBytes,
		&file.State, &file.Department, &file.Year, &file.Status, &file.Validated,
		&extracted, &updated,
		&file.UploadedBy, &file.ValidatedBy, &file.ValidatedAt, &file.CreatedAt, &file.UpdatedAt)
	if err != nil {
		return UploadedFile{}, err
	}
	if extracted != "" {
		file.ExtractedJSON = []byte(extracted)
	}
	if updated != "" {
		file.UpdatedJSON = []byte(updated)
	}
	return file, nil
}

func (s *PostgresStore) GetUploadedFile(ctx context.Context, fileID string) (UploadedFile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM uploaded_files f WHERE f.id=$1`, fileID)
	return scanUploadedFile(row.Scan)
}

func (s *PostgresStore) ListUploadedFiles(ctx context.Context, filter FileFilter) ([]UploadedFile, int, error) {
	where := []string{"1=1"}
	args := []any{}
	argN := 1

	add := func(clause string, value any) {
		where = append(where, fmt.Sprintf(clause, argN))
		args = append(args, value)
		argN++
	}

	if filter.State != "" {
		add("f.state = $%d", filter.State)
	}
	if filter.Department != "" {
		add("f.department = $%d", filter.Department)
	}
	if filter.Year != "" {
		add("f.year = $%d", filter.Year)
	}
	if filter.Status != "" {
		add("f.status = $%d", filter.Status)
	}
	if filter.Validated != nil {
		add("f.validated = $%d", *filter.Validated)
	}
	if filter.UploadedBy != "" {
		add("f.uploaded_by = $%d", filter.UploadedBy)
	}
	if filter.AssignedTo != "" {
		add("EXISTS(SELECT 1 FROM file_assignments fa WHERE fa.file_id = f.id AND fa.user_id = $%d)", filter.AssignedTo)
	}

	whereSQL := strings.Join(where, " AND ")

	var total int
	countSQL := "SELECT count(*) FROM uploaded_files f WHERE " + whereSQL
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count uploaded files: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM uploaded_files f WHERE %s
		ORDER BY f.created_at DESC
		LIMIT %d OFFSET %d`, fileColumns, whereSQL, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list uploaded files: %w", err)
	}
	defer rows.Close()

	files := make([]UploadedFile, 0)
	for rows.Next() {
		file, err := scanUploadedFile(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("scan uploaded file: %w", err)
		}
		files = append(files, file)
	}
	return files, total, rows.Err()
}

func (s *PostgresStore) UpdateExtractionResult(ctx context.Context, fileID, status string, extractedJSON []byte) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE uploaded_files
		SET status=$2, extracted_json=NULLIF($3, '')::jsonb, updated_at=NOW()
		WHERE id=$1
	`, fileID, status, string(extractedJSON))
	if err != nil {
		return fmt.Errorf("update extraction result: %w", err)
	}
	return nil
}

// SaveValidatedJSON writes the corrected document copy and flips the
// validated flag. The original extracted_json stays untouched.
func (s *PostgresStore) SaveValidatedJSON(ctx context.Context, fileID string, updatedJSON []byte, validatedBy string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE uploaded_files
		SET updated_json=$2::jsonb, validated=TRUE, validated_by=$3, validated_at=NOW(), updated_at=NOW()
		WHERE id=$1
	`, fileID, string(updatedJSON), validatedBy)
	if err != nil {
		return fmt.Errorf("save validated json: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save validated json: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteUploadedFile(ctx context.Context, fileID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM uploaded_files WHERE id=$1`, fileID)
	if err != nil {
		return fmt.Errorf("delete uploaded file: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete uploaded file: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FilterOptions lists the distinct states, departments and years across all
// files, for populating dashboard dropdowns.
func (s *PostgresStore) FilterOptions(ctx context.Context) (states, departments, years []string, err error) {
	distinct := func(column string) ([]string, error) {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT DISTINCT %s FROM uploaded_files WHERE %s <> '' ORDER BY %s`, column, column, column))
		if err != nil {
			return nil, fmt.Errorf("distinct %s: %w", column, err)
		}
		defer rows.Close()
		values := make([]string, 0)
		for rows.Next() {
			var value string
			if err := rows.Scan(&value); err != nil {
				return nil, fmt.Errorf("scan %s: %w", column, err)
			}
			values = append(values, value)
		}
		return values, rows.Err()
	}

	if states, err = distinct("state"); err != nil {
		return nil, nil, nil, err
	}
	if departments, err = distinct("department"); err != nil {
		return nil, nil, nil, err
	}
	if years, err = distinct("year"); err != nil {
		return nil, nil, nil, err
	}
	return states, departments, years, nil
}

func (s *PostgresStore) SummaryCounts(ctx context.Context) (total, validated, pending, failed int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT count(*),
			count(*) FILTER (WHERE validated),
			count(*) FILTER (WHERE NOT validated AND status='extracted'),
			count(*) FILTER (WHERE status='failed')
		FROM uploaded_files
	`).Scan(&total, &validated, &pending, &failed)
	if err != nil {
		err = fmt.Errorf("summary counts: %w", err)
	}
	return
}

// ---- assignments ----

func (s *PostgresStore) CreateFileAssignment(ctx context.Context, assignment FileAssignment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_assignments (id, file_id, user_id, assigned_by, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (file_id, user_id) DO UPDATE SET assigned_by=EXCLUDED.assigned_by, status=EXCLUDED.status, assigned_at=NOW(), completed_at=NULL
	`, assignment.ID, assignment.FileID, assignment.UserID, assignment.AssignedBy, assignment.Status)
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

const assignmentColumns = `fa.id, fa.file_id, fa.user_id, fa.assigned_by, fa.status,
	fa.assigned_at, fa.completed_at, f.file_name, u.email, u.display_name`

const assignmentJoin = `FROM file_assignments fa
	JOIN uploaded_files f ON f.id = fa.file_id
	JOIN users u ON u.id = fa.user_id`

func scanAssignments(rows *sql.Rows) ([]FileAssignment, error) {
	assignments := make([]FileAssignment, 0)
	for rows.Next() {
		var a FileAssignment
		if err := rows.Scan(&a.ID, &a.FileID, &a.UserID, &a.AssignedBy, &a.Status,
			&a.AssignedAt, &a.CompletedAt, &a.FileName, &a.UserEmail, &a.UserName); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

func (s *PostgresStore) ListAssignmentsForUser(ctx context.Context, userID string) ([]FileAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assignmentColumns+` `+assignmentJoin+` WHERE fa.user_id=$1 ORDER BY fa.assigned_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list assignments for user: %w", err)
	}
	defer rows.Close()
	return scanAssignments(rows)
}

func (s *PostgresStore) ListAssignmentsForFile(ctx context.Context, fileID string) ([]FileAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assignmentColumns+` `+assignmentJoin+` WHERE fa.file_id=$1 ORDER BY fa.assigned_at DESC`, fileID)
	if err != nil {
		return nil, fmt.Errorf("list assignments for file: %w", err)
	}
	defer rows.Close()
	return scanAssignments(rows)
}

func (s *PostgresStore) UpdateAssignmentStatus(ctx context.Context, fileID, userID, status string) error {
	completed := "NULL"
	if status == "completed" {
		completed = "NOW()"
	}
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE file_assignments SET status=$3, completed_at=%s WHERE file_id=$1 AND user_id=$2
	`, completed), fileID, userID, status)
	if err != nil {
		return fmt.Errorf("update assignment status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update assignment status: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) IsFileAssignedTo(ctx context.Context, fileID, userID string) (bool, error) {
	var assigned bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM file_assignments WHERE file_id=$1 AND user_id=$2)`,
		fileID, userID).Scan(&assigned)
	if err != nil {
		return false, fmt.Errorf("check assignment: %w", err)
	}
	return assigned, nil
}

func (s *PostgresStore) DeleteAssignment(ctx context.Context, fileID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM file_assignments WHERE file_id=$1 AND user_id=$2`, fileID, userID)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	return nil
}

// ---- validation drafts ----

func (s *PostgresStore) UpsertDraft(ctx context.Context, draft ValidationDraft) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO validation_drafts (id, file_id, user_id, rows_json, feedback_json, saved_at)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, NOW())
		ON CONFLICT (file_id, user_id) DO UPDATE
			SET rows_json=EXCLUDED.rows_json, feedback_json=EXCLUDED.feedback_json, saved_at=NOW()
	`, draft.ID, draft.FileID, draft.UserID, string(draft.Rows), string(draft.Feedback))
	if err != nil {
		return fmt.Errorf("upsert draft: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDraft(ctx context.Context, fileID, userID string) (ValidationDraft, error) {
	var draft ValidationDraft
	var rowsJSON, feedbackJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, file_id, user_id, rows_json::text, feedback_json::text, saved_at, created_at
		FROM validation_drafts
		WHERE file_id=$1 AND user_id=$2
	`, fileID, userID).Scan(&draft.ID, &draft.FileID, &draft.UserID, &rowsJSON, &feedbackJSON, &draft.SavedAt, &draft.CreatedAt)
	if err != nil {
		return ValidationDraft{}, err
	}
	draft.Rows = []byte(rowsJSON)
	draft.Feedback = []byte(feedbackJSON)
	return draft, nil
}

func (s *PostgresStore) DeleteDraft(ctx context.Context, fileID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM validation_drafts WHERE file_id=$1 AND user_id=$2`, fileID, userID)
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// ---- issue reports ----

func (s *PostgresStore) CreateIssueReport(ctx context.Context, report IssueReport) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issue_reports (id, file_id, row_key, description, severity, status, reported_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, report.ID, report.FileID, report.RowKey, report.Description, report.Severity, report.Status, report.ReportedBy)
	if err != nil {
		return fmt.Errorf("insert issue report: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListIssueReports(ctx context.Context, fileID, status string) ([]IssueReport, error) {
	query := `
		SELECT id, file_id, row_key, description, severity, status, reported_by, created_at, resolved_by, resolved_at
		FROM issue_reports
		WHERE ($1 = '' OR file_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, fileID, status)
	if err != nil {
		return nil, fmt.Errorf("list issue reports: %w", err)
	}
	defer rows.Close()

	reports := make([]IssueReport, 0)
	for rows.Next() {
		var r IssueReport
		if err := rows.Scan(&r.ID, &r.FileID, &r.RowKey, &r.Description, &r.Severity, &r.Status,
			&r.ReportedBy, &r.CreatedAt, &r.ResolvedBy, &r.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan issue report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func (s *PostgresStore) ResolveIssueReport(ctx context.Context, reportID, resolvedBy string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE issue_reports SET status='resolved', resolved_by=$2, resolved_at=NOW()
		WHERE id=$1 AND status='open'
	`, reportID, resolvedBy)
	if err != nil {
		return fmt.Errorf("resolve issue report: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve issue report: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- activity log ----

func (s *PostgresStore) InsertActivity(ctx context.Context, entry ActivityEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal activity payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO activity_log (event_type, actor_id, actor_name, file_id, payload)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5::jsonb)
	`, entry.EventType, entry.ActorID, entry.ActorName, entry.FileID, string(payload))
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivity(ctx context.Context, fileID string, limit int) ([]ActivityEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT id, event_type, actor_id, actor_name, COALESCE(file_id, ''), payload::text, created_at
		FROM activity_log
		WHERE ($1 = '' OR file_id = $1)
		ORDER BY created_at DESC
		LIMIT %d
	`, limit)
	rows, err := s.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	entries := make([]ActivityEntry, 0)
	for rows.Next() {
		var e ActivityEntry
		var payload string
		if err := rows.Scan(&e.ID, &e.EventType, &e.ActorID, &e.ActorName, &e.FileID, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, fmt.Errorf("decode activity payload: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// IsUniqueViolation reports whether err is a Postgres unique constraint error.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key value")
}
