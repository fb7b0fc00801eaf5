package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matiasleandrokruk/nerve/internal/api/ctxkeys"
	"github.com/matiasleandrokruk/nerve/internal/api/middleware"
	pkgauth "github.com/matiasleandrokruk/nerve/pkg/auth"
)

func newIssuer(t *testing.T, secret string) *pkgauth.Issuer {
	t.Helper()
	iss, err := pkgauth.NewIssuer(secret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return iss
}

func TestAuth_RejectsMissingAndInvalidTokens(t *testing.T) {
	t.Parallel()
	iss := newIssuer(t, "secret")
	foreign, _, _ := newIssuer(t, "other").Issue("x", "")

	cases := map[string]string{
		"no header":    "",
		"wrong scheme": "Basic abc",
		"empty bearer": "Bearer ",
		"garbage":      "Bearer nope",
		"wrong secret": "Bearer " + foreign,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			called := false
			h := middleware.Auth(iss)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

			req := httptest.NewRequest(http.MethodGet, "/v1/capabilities", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rr.Code)
			}
			if called {
				t.Error("next handler called")
			}
			var body map[string]any
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["code"] != "unauthorized" {
				t.Errorf("code = %v", body["code"])
			}
		})
	}
}

func TestAuth_ValidToken_InjectsSubject(t *testing.T) {
	t.Parallel()
	iss := newIssuer(t, "secret")
	token, _, err := iss.Issue("cli", "tasks")
	if err != nil {
		t.Fatal(err)
	}

	var subject, scope string
	h := middleware.Auth(iss)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ = ctxkeys.String(r.Context(), ctxkeys.Subject)
		scope, _ = ctxkeys.String(r.Context(), ctxkeys.Scope)
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/capabilities", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
	if subject != "cli" || scope != "tasks" {
		t.Errorf("subject/scope = %q/%q", subject, scope)
	}
}
