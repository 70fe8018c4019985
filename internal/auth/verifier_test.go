package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestVerifyToken(t *testing.T) {
	v := NewVerifier("test-secret")
	userID := uuid.New()

	token, err := v.IssueToken(userID, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	got, err := v.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if got != userID {
		t.Errorf("subject = %s, want %s", got, userID)
	}
}

func TestVerifyTokenRejectsBadInput(t *testing.T) {
	v := NewVerifier("test-secret")
	userID := uuid.New()

	expired, err := v.IssueToken(userID, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	otherSecret, err := NewVerifier("other-secret").IssueToken(userID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong secret": otherSecret,
		"garbage":      "not.a.token",
		"empty":        "",
	} {
		if _, err := v.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: got %v, want ErrInvalidToken", name, err)
		}
	}
}
