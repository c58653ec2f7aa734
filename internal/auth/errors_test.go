package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/local-auth/internal/password"
	"github.com/yourusername/local-auth/internal/users"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"input", &InputError{Message: "bad"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"empty password", password.ErrEmptyPassword, http.StatusBadRequest, "INVALID_INPUT"},
		{"duplicate", fmt.Errorf("insert: %w", users.ErrUsernameTaken), http.StatusConflict, "USERNAME_TAKEN"},
		{"unknown user", &CredentialsError{Reason: ErrUnknownUser}, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"wrong password", &CredentialsError{Reason: ErrPasswordMismatch}, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"current password", ErrCurrentPasswordMismatch, http.StatusForbidden, "INVALID_CURRENT_PASSWORD"},
		{"locked", &LockedError{RetryAfter: time.Minute}, http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS"},
		{"canceled", context.Canceled, http.StatusRequestTimeout, "REQUEST_CANCELED"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, message := classify(tt.err)
			if status != tt.wantStatus || code != tt.wantCode {
				t.Fatalf("classify(%v) = %d %s, want %d %s", tt.err, status, code, tt.wantStatus, tt.wantCode)
			}
			if message == "" {
				t.Fatal("message should not be empty")
			}
		})
	}
}

func TestClassifyHidesFailureReason(t *testing.T) {
	_, _, unknown := classify(&CredentialsError{Reason: ErrUnknownUser})
	_, _, mismatch := classify(&CredentialsError{Reason: ErrPasswordMismatch})
	if unknown != mismatch {
		t.Fatalf("messages differ: %q vs %q", unknown, mismatch)
	}
}

func TestRespondWithErrorSetsRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, tt := range []struct {
		retryAfter time.Duration
		want       string
	}{
		{90 * time.Second, "90"},
		{200 * time.Millisecond, "1"},
	} {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		c.Request = httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)

		respondWithError(c, &LockedError{RetryAfter: tt.retryAfter})

		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", rec.Code)
		}
		if got := rec.Header().Get("Retry-After"); got != tt.want {
			t.Fatalf("Retry-After = %q, want %q", got, tt.want)
		}
	}
}
