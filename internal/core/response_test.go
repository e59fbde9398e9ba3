package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"capacityd/internal/types"
)

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	return resp.Error
}

func TestErrorMapsAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "req-123"))

	Error(rec, req, types.NewAppError(types.ErrCodeNotFoundSession, "unknown session", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	detail := decodeErrorBody(t, rec)
	if detail.Code != string(types.ErrCodeNotFoundSession) {
		t.Errorf("code = %q, want %q", detail.Code, types.ErrCodeNotFoundSession)
	}
	if detail.RequestID != "req-123" {
		t.Errorf("request_id = %q, want req-123", detail.RequestID)
	}
}

func TestErrorMapsWrappedAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	inner := types.NewAppError(types.ErrCodeUpstreamAuth, "credentials rejected", nil)
	Error(rec, req, errors.Join(errors.New("outer"), inner))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestErrorOpaque500ForUnknownErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	Error(rec, req, errors.New("pq: relation does not exist"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	detail := decodeErrorBody(t, rec)
	// Internal error text must never leak to clients.
	if strings.Contains(detail.Message, "relation") {
		t.Errorf("internal error text leaked: %q", detail.Message)
	}
}

func TestDecodeJSONAcceptsValidBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"action":"resume"}`))

	var dst struct {
		Action string `json:"action"`
	}
	if err := DecodeJSON(rec, req, &dst); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if dst.Action != "resume" {
		t.Errorf("action = %q, want resume", dst.Action)
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"action":"resume","force":true}`))

	var dst struct {
		Action string `json:"action"`
	}
	err := DecodeJSON(rec, req, &dst)

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("err = %v, want AppError", err)
	}
	if appErr.Code != types.ErrCodeValidationInvalidJSON {
		t.Errorf("code = %s, want %s", appErr.Code, types.ErrCodeValidationInvalidJSON)
	}
}

func TestDecodeJSONRejectsTrailingData(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"action":"resume"}{"action":"suspend"}`))

	var dst struct {
		Action string `json:"action"`
	}
	if err := DecodeJSON(rec, req, &dst); err == nil {
		t.Errorf("DecodeJSON err = nil for trailing data, want error")
	}
}

func TestDecodeJSONRejectsMalformedBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))

	var dst map[string]any
	if err := DecodeJSON(rec, req, &dst); err == nil {
		t.Errorf("DecodeJSON err = nil for malformed body, want error")
	}
}

func TestJSONWritesEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	JSON(rec, req, http.StatusOK, APIResponse{Data: map[string]string{"state": "on"}})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var resp struct {
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Data["state"] != "on" {
		t.Errorf("data = %v, want state=on", resp.Data)
	}
}
