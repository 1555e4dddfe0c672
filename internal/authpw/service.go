// Package authpw provides email/password authentication with verification
// and one-time-code password resets.
package authpw

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"proofbox/api/internal/store"
	"proofbox/api/internal/util"

	"golang.org/x/crypto/bcrypt"
)

const (
	verificationTTL = 24 * time.Hour
	resetCodeTTL    = 10 * time.Minute
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidResetCode   = errors.New("invalid or expired reset code")
	ErrAccountDeactivated = errors.New("account deactivated")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	GetUserByVerificationToken(ctx context.Context, token string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	MarkEmailVerified(ctx context.Context, userID string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordResetOTP(ctx context.Context, email, codeHash string, expiresAt time.Time) error
	LatestPasswordResetOTP(ctx context.Context, email string) (store.PasswordResetOTP, error)
	ConsumePasswordResetOTP(ctx context.Context, id int64) error
}

// Mailer delivers verification and reset messages. Nil means tokens and
// codes are surfaced to the caller instead of being mailed.
type Mailer interface {
	SendVerificationEmail(to, userName, verificationURL string) error
	SendResetCodeEmail(to, userName, code string) error
}

// Service provides email/password authentication
type Service struct {
	store         UserStore
	mailer        Mailer
	verifyURLBase string
}

// NewService creates a new auth service
func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// SetMailer enables email delivery. verifyURLBase is the frontend page the
// verification link points at; the token is appended as a query parameter.
func (s *Service) SetMailer(mailer Mailer, verifyURLBase string) {
	s.mailer = mailer
	s.verifyURLBase = verifyURLBase
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
	Role        string
}

// SignUpResponse contains sign-up result
type SignUpResponse struct {
	UserID              string
	VerificationToken   string
	RequiresEmailVerify bool
}

// SignUp creates a new user account
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	if req.Email == "" || req.Password == "" || req.DisplayName == "" {
		return nil, errors.New("email, password, and display name are required")
	}

	if len(req.Password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}

	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	verificationToken, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}

	role := req.Role
	if role == "" {
		role = "viewer"
	}

	expiresAt := time.Now().Add(verificationTTL)
	user := store.User{
		ID:                    util.NewID("usr"),
		DisplayName:           req.DisplayName,
		Email:                 req.Email,
		PasswordHash:          string(hash),
		Role:                  role,
		IsEmailVerified:       false,
		VerificationToken:     verificationToken,
		VerificationExpiresAt: &expiresAt,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if s.mailer != nil {
		// Delivery is best-effort; the token stays valid either way.
		_ = s.mailer.SendVerificationEmail(user.Email, user.DisplayName, s.verifyURLBase+"?token="+verificationToken)
	}

	return &SignUpResponse{
		UserID:              user.ID,
		VerificationToken:   verificationToken,
		RequiresEmailVerify: true,
	}, nil
}

// SignInRequest contains sign-in parameters
type SignInRequest struct {
	Email    string
	Password string
}

// SignInResponse contains sign-in result
type SignInResponse struct {
	User           store.User
	RequiresVerify bool
}

// SignIn authenticates a user
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (*SignInResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, errors.New("email and password are required")
	}

	user, err := s.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if user.DeactivatedAt != nil {
		return nil, ErrAccountDeactivated
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if !user.IsEmailVerified {
		return &SignInResponse{
			User:           user,
			RequiresVerify: true,
		}, nil
	}

	return &SignInResponse{
		User:           user,
		RequiresVerify: false,
	}, nil
}

// VerifyEmail verifies an email address using a token
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("verification token required")
	}

	user, err := s.store.GetUserByVerificationToken(ctx, token)
	if err != nil {
		return errors.New("invalid or expired verification token")
	}
	if user.VerificationExpiresAt != nil && time.Now().After(*user.VerificationExpiresAt) {
		return errors.New("invalid or expired verification token")
	}

	return s.store.MarkEmailVerified(ctx, user.ID)
}

// RequestPasswordReset creates a one-time reset code for the account.
// The code is returned for delivery by mail; the empty string means the
// email is unknown and nothing should be sent (without telling the caller).
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		// Don't reveal if email exists
		return "", nil
	}

	code, err := generateResetCode()
	if err != nil {
		return "", err
	}

	expiresAt := time.Now().Add(resetCodeTTL)
	if err := s.store.CreatePasswordResetOTP(ctx, user.Email, hashCode(code), expiresAt); err != nil {
		return "", err
	}

	if s.mailer != nil {
		_ = s.mailer.SendResetCodeEmail(user.Email, user.DisplayName, code)
	}

	return code, nil
}

// ResetPasswordRequest contains password reset parameters
type ResetPasswordRequest struct {
	Email       string
	Code        string
	NewPassword string
}

// ResetPassword sets a new password after checking the one-time code.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if req.Email == "" || req.Code == "" || req.NewPassword == "" {
		return errors.New("email, code, and new password are required")
	}

	if len(req.NewPassword) < 8 {
		return errors.New("password must be at least 8 characters")
	}

	otp, err := s.store.LatestPasswordResetOTP(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidResetCode
		}
		return fmt.Errorf("lookup reset code: %w", err)
	}

	if !hmac.Equal([]byte(otp.CodeHash), []byte(hashCode(req.Code))) {
		return ErrInvalidResetCode
	}

	user, err := s.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return ErrInvalidResetCode
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.store.UpdateUserPassword(ctx, user.ID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if err := s.store.ConsumePasswordResetOTP(ctx, otp.ID); err != nil {
		return fmt.Errorf("consume reset code: %w", err)
	}

	return nil
}

// generateToken creates a secure random token
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// generateResetCode creates a 6-digit numeric code.
func generateResetCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
