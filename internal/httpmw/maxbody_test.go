package httpmw

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMaxBody_DeclaredOversizeRejected(t *testing.T) {
	called := false
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("0123456789")))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if called {
		t.Fatal("handler should not run for a declared oversize body")
	}
}

func TestMaxBody_UndeclaredOversizeFailsRead(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	r := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("0123456789"))
	r.ContentLength = -1
	h.ServeHTTP(httptest.NewRecorder(), r)

	var mbe *http.MaxBytesError
	if !errors.As(readErr, &mbe) {
		t.Fatalf("read error = %v, want *http.MaxBytesError", readErr)
	}
	if mbe.Limit != 8 {
		t.Fatalf("limit = %d", mbe.Limit)
	}
}

func TestMaxBody_WithinLimit(t *testing.T) {
	var body string
	h := MaxBody(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("site.zip")))

	if rec.Code != http.StatusOK || body != "site.zip" {
		t.Fatalf("status %d body %q", rec.Code, body)
	}
}
