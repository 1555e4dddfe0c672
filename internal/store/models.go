package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// UploadedFile is one source document plus its extraction payloads.
// ExtractedJSON is the pipeline output and is never rewritten; UpdatedJSON
// holds the latest reviewer-corrected copy.
type UploadedFile struct {
	ID            string
	FileName      string
	ObjectKey     string
	ContentType   string
	SizeBytes     int64
	State         string
	Department    string
	Year          string
	Status        string
	Validated     bool
	ExtractedJSON []byte
	UpdatedJSON   []byte
	UploadedBy    string
	ValidatedBy   *string
	ValidatedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FileFilter narrows ListUploadedFiles. Zero values mean "any".
type FileFilter struct {
	State      string
	Department string
	Year       string
	Status     string
	Validated  *bool
	UploadedBy string
	AssignedTo string
	Limit      int
	Offset     int
}

type FileAssignment struct {
	ID          string
	FileID      string
	UserID      string
	AssignedBy  string
	Status      string
	AssignedAt  time.Time
	CompletedAt *time.Time
	// Joined fields for API responses
	FileName  string
	UserEmail string
	UserName  string
}

/// ValidationDraft is a parked review: the row snapshot and feedback map a
// reviewer saved without submitting.
type ValidationDraft struct {
	ID        string
	FileID    string
	UserID    string
	Rows      []byte
	Feedback  []byte
	SavedAt   time.Time
	CreatedAt time.Time
}

type IssueReport struct {
	ID          string
	FileID      string
	RowKey      string
	Description string
	Severity    string
	Status      string
	ReportedBy  string
	CreatedAt   time.Time
	ResolvedBy  *string
	ResolvedAt  *time.Time
}

type ActivityEntry struct {
	ID        int64
	EventType string
	ActorID   string
	ActorName string
	FileID    string
	Payload   map[string]any
	CreatedAt time.Time
}

type PasswordResetOTP struct {
	ID         int64
	Email      string
	CodeHash   string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}
