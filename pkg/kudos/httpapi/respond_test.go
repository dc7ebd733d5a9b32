package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/config"
	"github.com/kudos-app/kudos/pkg/kudos/store"
	"github.com/kudos-app/kudos/pkg/kudos/token"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		JWTSecretKey:             "test-secret",
		JWTAlgorithm:             "HS256",
		JWTIssuer:                "kudos",
		JWTAudience:              "kudos",
		AccessTokenExpireMinutes: 15,
		RequestTimeoutSeconds:    30,
	}
	tokens, err := token.NewService(nil, cfg, token.NewMemoryBlacklist(), nil)
	require.NoError(t, err)
	return &Server{
		cfg:      cfg,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		tokens:   tokens,
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  *apperr.Error
		want int
	}{
		{"validation", apperr.Validation("error.validation"), http.StatusBadRequest},
		{"business rule", apperr.BusinessRule("last_admin", "error.last_admin"), http.StatusBadRequest},
		{"dependency cycle", apperr.BusinessRule("dependency_cycle", "error.dependency_cycle"), http.StatusUnprocessableEntity},
		{"group cycle", apperr.BusinessRule("group_cycle", "error.dependency_cycle"), http.StatusUnprocessableEntity},
		{"auth", apperr.ErrInvalidToken, http.StatusUnauthorized},
		{"forbidden", apperr.Forbidden("task.approve", "error.denied"), http.StatusForbidden},
		{"not found", apperr.ErrNotFound, http.StatusNotFound},
		{"conflict", apperr.Conflict("duplicate_member", "error.duplicate_member"), http.StatusConflict},
		{"internal", apperr.ErrInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, statusFor(tc.err))
		})
	}
}

func TestWriteError_Envelope(t *testing.T) {
	t.Parallel()
	s := testServer(t)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	w := httptest.NewRecorder()
	s.writeError(w, r, apperr.ErrNotFound)

	require.Equal(t, http.StatusNotFound, w.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Equal(t, "not_found", env.Code)
	// Default language is ukrainian.
	require.Equal(t, "ресурс не знайдено", env.Detail)
}

func TestWriteError_UnknownErrorBecomes500(t *testing.T) {
	t.Parallel()
	s := testServer(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.writeError(w, r, io.ErrUnexpectedEOF)

	require.Equal(t, http.StatusInternalServerError, w.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Equal(t, "internal_error", env.Code)
	// The cause must never leak into the envelope.
	require.NotContains(t, env.Detail, "EOF")
}

func TestNegotiateLanguage_SetsContentLanguage(t *testing.T) {
	t.Parallel()
	s := testServer(t)

	handler := s.negotiateLanguage(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, apperr.ErrNotFound)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Accept-Language", "en-US")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, "en", w.Header().Get("Content-Language"))

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Equal(t, "resource not found", env.Detail)
}

func TestRequireAuth(t *testing.T) {
	t.Parallel()
	s := testServer(t)

	var gotActor string
	handler := s.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotActor = actorFrom(r.Context()).UserID
		w.WriteHeader(http.StatusNoContent)
	}))

	// No header.
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Malformed scheme.
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Basic abc")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Valid token passes and the actor lands in the context.
	access, err := s.tokens.IssueAccess("user-42", "user")
	require.NoError(t, err)
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+access)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "user-42", gotActor)
}

func TestPageFrom(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/?page=3&size=50", nil)
	require.Equal(t, store.Page{Number: 3, Size: 50}, pageFrom(r))

	r = httptest.NewRequest(http.MethodGet, "/?page=abc&size=", nil)
	require.Equal(t, store.Page{}, pageFrom(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	require.Equal(t, store.Page{}, pageFrom(r))
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	s := testServer(t)

	type body struct {
		Name string `json:"name" validate:"required"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", jsonBody(`{"name":"x","surprise":true}`))
	var b body
	err := s.decode(r, &b)
	require.Error(t, err)

	e, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, "validation_error", e.Code)
}

func TestDecode_ValidationFailure(t *testing.T) {
	t.Parallel()
	s := testServer(t)

	type body struct {
		Email string `json:"email" validate:"required,email"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", jsonBody(`{"email":"not-an-email"}`))
	var b body
	err := s.decode(r, &b)
	require.Error(t, err)

	e, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, "email", e.Meta["field"])
}

func jsonBody(s string) io.Reader { return strings.NewReader(s) }
