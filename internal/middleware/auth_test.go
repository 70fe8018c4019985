package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/docvivid/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubVerifier struct {
	userID uuid.UUID
	err    error
}

func (s stubVerifier) VerifyToken(string) (uuid.UUID, error) {
	return s.userID, s.err
}

type stubUsers struct {
	user *models.User
	err  error
}

func (s stubUsers) GetByID(context.Context, uuid.UUID) (*models.User, error) {
	return s.user, s.err
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestBearerAuth(t *testing.T) {
	userID := uuid.New()
	user := &models.User{ID: userID, Email: "a@b.c"}

	var seen *models.User
	handler := BearerAuth(stubVerifier{userID: userID}, stubUsers{user: user})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = UserFromCtx(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos", nil)
	req.Header.Set("Authorization", "Bearer sometoken")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen == nil || seen.ID != userID {
		t.Errorf("user in context = %+v, want id %s", seen, userID)
	}
}

func TestBearerAuthRejects(t *testing.T) {
	userID := uuid.New()
	cases := []struct {
		name     string
		header   string
		verifier stubVerifier
		users    stubUsers
	}{
		{"missing header", "", stubVerifier{userID: userID}, stubUsers{user: &models.User{ID: userID}}},
		{"not bearer", "Basic abc", stubVerifier{userID: userID}, stubUsers{user: &models.User{ID: userID}}},
		{"bad token", "Bearer bad", stubVerifier{err: errors.New("invalid")}, stubUsers{user: &models.User{ID: userID}}},
		{"unknown user", "Bearer ok", stubVerifier{userID: userID}, stubUsers{err: errors.New("no rows")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			handler := BearerAuth(tc.verifier, tc.users)(okHandler(&called))
			req := httptest.NewRequest(http.MethodGet, "/api/v1/videos", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
			if called {
				t.Error("inner handler must not run")
			}
		})
	}
}

func TestAdminOnly(t *testing.T) {
	called := false
	handler := AdminOnly(okHandler(&called))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/credits/grant", nil)
	req = req.WithContext(WithUser(req.Context(), &models.User{ID: uuid.New(), IsAdmin: false}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden || called {
		t.Errorf("non-admin: status = %d called=%v, want 403 and not called", rec.Code, called)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/credits/grant", nil)
	req = req.WithContext(WithUser(req.Context(), &models.User{ID: uuid.New(), IsAdmin: true}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !called {
		t.Errorf("admin: status = %d called=%v, want 200 and called", rec.Code, called)
	}
}
