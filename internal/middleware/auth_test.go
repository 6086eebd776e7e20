package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/registry/internal/auth"
)

func tokenHandler(t *testing.T, hash string) (http.Handler, *auth.Actor) {
	t.Helper()
	var got auth.Actor
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RequireToken(auth.NewVerifier(hash), logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, ok := auth.FromContext(r.Context())
		if !ok {
			t.Fatal("expected Actor in request context")
		}
		got = a
		w.WriteHeader(http.StatusOK)
	}))
	return h, &got
}

func TestRequireTokenMissing(t *testing.T) {
	hash, err := auth.HashToken("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h, _ := tokenHandler(t, hash)

	req := httptest.NewRequest("POST", "/api/groups", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestRequireTokenWrong(t *testing.T) {
	hash, _ := auth.HashToken("s3cret")
	h, _ := tokenHandler(t, hash)

	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireTokenValid(t *testing.T) {
	hash, _ := auth.HashToken("s3cret")

	for _, set := range []func(*http.Request){
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer s3cret") },
		func(r *http.Request) { r.Header.Set(TokenHeader, "s3cret") },
	} {
		h, got := tokenHandler(t, hash)
		req := httptest.NewRequest("POST", "/", nil)
		set(req)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if got.Name != "admin" || !got.Admin {
			t.Errorf("actor = %+v, want admin", *got)
		}
	}
}

func TestRequireTokenDisabled(t *testing.T) {
	h, got := tokenHandler(t, "")

	req := httptest.NewRequest("POST", "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !got.Admin {
		t.Error("expected open API to grant admin")
	}
}
