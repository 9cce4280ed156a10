package client

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{400, ErrorClassClient},
		{404, ErrorClassClient},
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{503, ErrorClassServer},
		{304, ErrorClassProtocol},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestStatusMessage(t *testing.T) {
	tests := []struct {
		status    int
		serverMsg string
		want      string
	}{
		{400, "", "Invalid request."},
		{400, "bad date", "Invalid request: bad date"},
		{401, "token expired", "Your session has expired. Please log in again."},
		{403, "", "You do not have permission to perform this action."},
		{404, "", "The requested resource was not found."},
		{409, "", "Conflict: the resource was modified by someone else."},
		{409, "duplicate", "Conflict: duplicate"},
		{429, "", "Too many requests. Please wait a moment and try again."},
		{500, "", "Server error. Please try again later."},
		{504, "upstream", "Server error. Please try again later."},
		{422, "", "Request failed with status 422."},
		{422, "unprocessable", "unprocessable"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", tt.status, tt.serverMsg), func(t *testing.T) {
			if got := StatusMessage(tt.status, tt.serverMsg); got != tt.want {
				t.Errorf("StatusMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("fetch members: %w", newNetworkError("https://portal/api/members", cause))

	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatal("errors.As should find APIError")
	}
	if apiErr.Detail() == "" {
		t.Error("Detail() should not be empty")
	}
}

func TestStatusOf(t *testing.T) {
	if StatusOf(nil) != 0 {
		t.Error("StatusOf(nil) should be 0")
	}
	if StatusOf(errors.New("x")) != 0 {
		t.Error("StatusOf(plain) should be 0")
	}
	if !IsStatus(fmt.Errorf("wrapped: %w", newHTTPError(403, "u", "")), 403) {
		t.Error("IsStatus should see through wrapping")
	}
}

func TestParseErrorBody(t *testing.T) {
	tests := []struct {
		body   string
		want   string
		wantOK bool
	}{
		{`{"error":{"message":"nope"}}`, "nope", true},
		{`{"error":"flat"}`, "flat", true},
		{`{"message":"top"}`, "top", true},
		{`{"detail":"fastapi"}`, "fastapi", true},
		{`{"success":false,"error":{"message":"wrapped"}}`, "wrapped", true},
		{`{}`, "", true},
		{`Bad Gateway`, "", false},
		{``, "", false},
	}

	for _, tt := range tests {
		got, ok := parseErrorBody([]byte(tt.body))
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("parseErrorBody(%q) = (%q, %v), want (%q, %v)", tt.body, got, ok, tt.want, tt.wantOK)
		}
	}
}
