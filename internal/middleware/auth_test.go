package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"connect/internal/auth"
)

type fakeVerifier struct {
	accept string
	id     auth.Identity
}

func (f *fakeVerifier) Verify(credential string) (auth.Identity, error) {
	if credential == f.accept {
		return f.id, nil
	}
	return auth.Identity{}, auth.ErrInvalidCredential
}

func newGuarded(v TokenVerifier) http.Handler {
	return NewAuth(v).Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			http.Error(w, "no identity", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(id.DisplayName))
	}))
}

func TestAuthHeader(t *testing.T) {
	h := newGuarded(&fakeVerifier{accept: "good", id: auth.Identity{UserID: 1, DisplayName: "alice"}})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "alice" {
		t.Errorf("body = %q, want alice", rec.Body.String())
	}
}

func TestAuthQueryFallback(t *testing.T) {
	h := newGuarded(&fakeVerifier{accept: "good", id: auth.Identity{UserID: 1}})

	req := httptest.NewRequest(http.MethodGet, "/ws?token=good", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthRejects(t *testing.T) {
	h := newGuarded(&fakeVerifier{accept: "good"})

	cases := []struct {
		name  string
		setup func(*http.Request)
	}{
		{"missing", func(r *http.Request) {}},
		{"invalid header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer bad") }},
		{"invalid query", func(r *http.Request) { r.URL.RawQuery = "token=bad" }},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		tc.setup(req)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", tc.name, rec.Code)
		}
	}
}
