package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFromErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	FromError(rec, http.StatusInternalServerError, "failed", errors.New("dsn=secret"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", rec.Code)
	}
	var body APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "error" || body.Error != "" || body.Message != "failed" {
		t.Errorf("body = %+v", body)
	}
}

func TestFromErrorKeepsClientDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	FromError(rec, http.StatusBadRequest, "invalid", errors.New("title is required"))

	var body APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusBadRequest || body.Error != "title is required" {
		t.Errorf("code = %d, body = %+v", rec.Code, body)
	}
	if rec.Header().Get("Retry-After") != "" {
		t.Error("Retry-After set on a client error")
	}
}

func TestFromErrorRetryable(t *testing.T) {
	rec := httptest.NewRecorder()
	FromError(rec, http.StatusServiceUnavailable, "try again", errors.New("contention"))
	if rec.Code != http.StatusServiceUnavailable || rec.Header().Get("Retry-After") == "" {
		t.Errorf("code = %d, headers = %v", rec.Code, rec.Header())
	}
}
