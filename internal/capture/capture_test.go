package capture

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/pantrysync/internal/logging"
)

func TestCaptureReturnsMockItems(t *testing.T) {
	h := NewHandler(0, logging.Discard())
	req := httptest.NewRequest(http.MethodPost, "/api/capture-inventory",
		strings.NewReader(`{"image":"data:image/jpeg;base64,AAAA","householdId":"h1"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || len(resp.Items) != 5 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Message != "Successfully detected 5 items" {
		t.Errorf("message = %q", resp.Message)
	}
	if resp.Items[0].Name != "Organic Milk" || resp.Items[0].Confidence != 0.95 {
		t.Errorf("first item = %+v", resp.Items[0])
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q, want *", got)
	}
}

func TestCaptureMissingFields(t *testing.T) {
	h := NewHandler(time.Hour, logging.Discard())

	for _, body := range []string{`{}`, `{"image":"x"}`, `{"householdId":"h1"}`} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rec.Code)
		}
		var resp Response
		json.NewDecoder(rec.Body).Decode(&resp)
		if resp.Success || resp.Error != "Missing image or householdId" {
			t.Errorf("%s: resp = %+v", body, resp)
		}
	}
}

func TestCaptureWaitsForDelay(t *testing.T) {
	h := NewHandler(50*time.Millisecond, logging.Discard())
	start := time.Now()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"image":"x","householdId":"h1"}`)))
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("answered after %v, want at least 50ms", elapsed)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestCaptureCancelledRequest(t *testing.T) {
	h := NewHandler(time.Hour, logging.Discard())
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"image":"x","householdId":"h1"}`)).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(httptest.NewRecorder(), req)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler kept waiting after the client went away")
	}
}

func TestCaptureGetAndOptions(t *testing.T) {
	h := NewHandler(0, logging.Discard())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Inventory capture API endpoint") {
		t.Errorf("GET = %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Errorf("OPTIONS = %d %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "POST, OPTIONS" {
		t.Errorf("allow-methods = %q", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE = %d, want 405", rec.Code)
	}
}

func TestCaptureRejectsOversizedBody(t *testing.T) {
	h := NewHandler(0, logging.Discard())
	body := `{"householdId":"h1","image":"` + strings.Repeat("A", MaxBodySize) + `"}`

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
	var resp Response
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Success || len(resp.Items) != 0 {
		t.Errorf("resp = %+v, want failure without items", resp)
	}
}
