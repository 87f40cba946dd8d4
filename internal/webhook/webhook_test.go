package webhook

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

func newTestServer(secret string, cb UpdateCallback) *Server {
	return New(Config{Threads: 4, PoolSize: 4, Secret: secret}, cb, zerolog.Nop())
}

func TestHandleSuccess(t *testing.T) {
	var calls int32
	s := newTestServer("shh", func(tree any) { atomic.AddInt32(&calls, 1) })

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"update_id":3,"message":{"text":"hi"}}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set(secretHeader, "shh")
	rec := httptest.NewRecorder()

	s.handle(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("callback invocations = %d, want 1", got)
	}
}

func TestHandleMissingSecret(t *testing.T) {
	var calls int32
	s := newTestServer("shh", func(tree any) { atomic.AddInt32(&calls, 1) })

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.handle(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("callback invocations = %d, want 0", got)
	}
}

func TestHandleOversizedBody(t *testing.T) {
	s := newTestServer("", func(tree any) {})

	body := bytes.Repeat([]byte("x"), 600*1024)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.handle(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestHandleWrongPathOrMethod(t *testing.T) {
	s := newTestServer("", func(tree any) {})

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	s.handle(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleBadContentType(t *testing.T) {
	s := newTestServer("", func(tree any) {})

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	s.handle(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", rec.Code)
	}
}

func TestHandleUnparseableBodyDropsSilently(t *testing.T) {
	var calls int32
	s := newTestServer("", func(tree any) { atomic.AddInt32(&calls, 1) })

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`not json`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handle(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("callback invocations = %d, want 0", got)
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !constantTimeEqual("abc", "abc") {
		t.Fatal("equal strings should match")
	}
	if constantTimeEqual("abc", "abd") {
		t.Fatal("differing strings should not match")
	}
	if constantTimeEqual("abc", "abcd") {
		t.Fatal("differing lengths should not match")
	}
}

func TestBufferPoolFallback(t *testing.T) {
	p := newBufferPool(1)
	b1, pooled1 := p.acquire()
	if !pooled1 {
		t.Fatal("first acquire should come from the pool")
	}
	b2, pooled2 := p.acquire()
	if pooled2 {
		t.Fatal("second acquire should fall back to heap")
	}
	p.release(b1, pooled1)
	p.release(b2, pooled2)

	b3, pooled3 := p.acquire()
	if !pooled3 {
		t.Fatal("released buffer should be returned to the pool")
	}
	_ = b3
}
