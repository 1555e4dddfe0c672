package app

import (
	"net/http"
	"testing"
)

func TestSignUpVerifySignInFlow(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":       "asha@example.com",
		"password":    "correct-horse",
		"displayName": "Asha Nair",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeResponse(t, recorder)
	verificationToken, _ := payload["devVerificationToken"].(string)
	if verificationToken == "" {
		t.Fatal("expected dev verification token when no mailer is configured")
	}

	// Signing in before verification is rejected.
	recorder = env.do(t, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    "asha@example.com",
		"password": "correct-horse",
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("unverified signin status = %d", recorder.Code)
	}

	recorder = env.do(t, http.MethodPost, "/api/auth/verify-email", "", map[string]any{
		"token": verificationToken,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("verify status = %d, body %s", recorder.Code, recorder.Body.String())
	}

	recorder = env.do(t, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    "asha@example.com",
		"password": "correct-horse",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("signin status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	payload = decodeResponse(t, recorder)
	accessToken, _ := payload["accessToken"].(string)
	if accessToken == "" {
		t.Fatal("expected access token")
	}

	recorder = env.do(t, http.MethodGet, "/api/users/me", accessToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("me status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	me := decodeResponse(t, recorder)
	if me["email"] != "asha@example.com" {
		t.Fatalf("me email = %v", me["email"])
	}
	if me["role"] != "viewer" {
		t.Fatalf("new accounts default to viewer, got %v", me["role"])
	}
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":       "ravi@example.com",
		"password":    "first-password",
		"displayName": "Ravi Menon",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("signup status = %d", recorder.Code)
	}
	verificationToken := decodeResponse(t, recorder)["devVerificationToken"].(string)
	if recorder = env.do(t, http.MethodPost, "/api/auth/verify-email", "", map[string]any{"token": verificationToken}); recorder.Code != http.StatusOK {
		t.Fatalf("verify status = %d", recorder.Code)
	}

	recorder = env.do(t, http.MethodPost, "/api/auth/reset-password/request", "", map[string]any{
		"email": "ravi@example.com",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("request reset status = %d", recorder.Code)
	}
	code, _ := decodeResponse(t, recorder)["devResetCode"].(string)
	if code == "" {
		t.Fatal("expected dev reset code when no mailer is configured")
	}

	recorder = env.do(t, http.MethodPost, "/api/auth/reset-password/confirm", "", map[string]any{
		"email":       "ravi@example.com",
		"code":        code,
		"newPassword": "second-password",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("confirm reset status = %d, body %s", recorder.Code, recorder.Body.String())
	}

	// Old password no longer works, new one does.
	recorder = env.do(t, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    "ravi@example.com",
		"password": "first-password",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("old password signin status = %d", recorder.Code)
	}
	recorder = env.do(t, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    "ravi@example.com",
		"password": "second-password",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("new password signin status = %d", recorder.Code)
	}

	// The code is single-use.
	recorder = env.do(t, http.MethodPost, "/api/auth/reset-password/confirm", "", map[string]any{
		"email":       "ravi@example.com",
		"code":        code,
		"newPassword": "third-password",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("reused code status = %d", recorder.Code)
	}
}

func TestUnknownEmailResetDoesNotLeak(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodPost, "/api/auth/reset-password/request", "", map[string]any{
		"email": "nobody@example.com",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if _, ok := decodeResponse(t, recorder)["devResetCode"]; ok {
		t.Fatal("unknown email must not yield a reset code")
	}
}

func TestRequestsWithoutTokenRejected(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/users/me", "/api/uploaded-files", "/api/activity", "/api/search"} {
		recorder := env.do(t, http.MethodGet, path, "", nil)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("GET %s without token: status = %d", path, recorder.Code)
		}
	}
}

func TestRefreshRotatesSession(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "usr-1", "Asha Nair", "reviewer")

	session, err := env.service.CreateSession(t.Context(), "usr-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	recorder := env.do(t, http.MethodPost, "/api/session/refresh", "", map[string]any{
		"refreshToken": session.RefreshToken,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeResponse(t, recorder)
	if payload["accessToken"] == "" {
		t.Fatal("expected new access token")
	}

	// The old refresh token is revoked on use.
	recorder = env.do(t, http.MethodPost, "/api/session/refresh", "", map[string]any{
		"refreshToken": session.RefreshToken,
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh token status = %d", recorder.Code)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "usr-1", "Asha Nair", "reviewer")
	token := env.token(t, "usr-1")

	recorder := env.do(t, http.MethodPost, "/api/session/logout", token, map[string]any{})
	if recorder.Code != http.StatusOK {
		t.Fatalf("logout status = %d", recorder.Code)
	}

	recorder = env.do(t, http.MethodGet, "/api/users/me", token, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token status = %d", recorder.Code)
	}
}
