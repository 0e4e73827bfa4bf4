package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestCreateSessionSendsVendorPayload(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "bp-sess-1", "status": "starting"})
	}))
	defer ts.Close()

	client, err := NewClient(Config{BaseURL: ts.URL, APIKey: "vendor-key"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	session, err := client.CreateSession(context.Background(), CreateSessionRequest{
		AvatarID: "avatar-7",
		RoomName: "room-42",
		URL:      "wss://rooms.example.com",
		Token:    "tok",
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if session.ID != "bp-sess-1" || session.Status != "starting" {
		t.Fatalf("session = %+v, want id bp-sess-1 status starting", session)
	}

	if gotPath != "/v1/sessions" {
		t.Fatalf("path = %q, want /v1/sessions", gotPath)
	}
	if gotKey != "vendor-key" {
		t.Fatalf("x-api-key = %q, want vendor-key", gotKey)
	}
	if gotBody["avatar_id"] != "avatar-7" {
		t.Fatalf("avatar_id = %v, want avatar-7", gotBody["avatar_id"])
	}
	if gotBody["livekit_room"] != "room-42" {
		t.Fatalf("livekit_room = %v, want room-42", gotBody["livekit_room"])
	}
	if gotBody["auto_start"] != true {
		t.Fatalf("auto_start = %v, want true", gotBody["auto_start"])
	}
	if _, present := gotBody["session_config"]; present {
		t.Fatalf("session_config should be omitted when empty")
	}
}

func TestCreateSessionSurfacesVendorError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad avatar"}`, http.StatusUnprocessableEntity)
	}))
	defer ts.Close()

	client, err := NewClient(Config{BaseURL: ts.URL, APIKey: "vendor-key"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = client.CreateSession(context.Background(), CreateSessionRequest{
		AvatarID: "avatar-7",
		RoomName: "room-42",
		URL:      "wss://rooms.example.com",
		Token:    "tok",
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", apiErr.StatusCode)
	}
	if apiErr.Body == "" {
		t.Fatalf("error body is empty, want vendor body text")
	}
}

func TestCreateSessionSingleAttemptByDefault(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	client, err := NewClient(Config{BaseURL: ts.URL, APIKey: "vendor-key"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if _, err := client.CreateSession(context.Background(), CreateSessionRequest{
		AvatarID: "a", RoomName: "r", URL: "u", Token: "t",
	}); err == nil {
		t.Fatalf("CreateSession() error = nil, want vendor error")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("vendor calls = %d, want 1 (retries disabled by default)", got)
	}
}

func TestCreateSessionRetriesWhenEnabled(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "bp-sess-2", "status": "starting"})
	}))
	defer ts.Close()

	client, err := NewClient(Config{BaseURL: ts.URL, APIKey: "vendor-key", MaxRetries: 2})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	session, err := client.CreateSession(context.Background(), CreateSessionRequest{
		AvatarID: "a", RoomName: "r", URL: "u", Token: "t",
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if session.ID != "bp-sess-2" {
		t.Fatalf("session id = %q, want bp-sess-2", session.ID)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("vendor calls = %d, want 2", got)
	}
}

func TestGetSession(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sessions/bp-sess-1" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "bp-sess-1", "status": "active"})
	}))
	defer ts.Close()

	client, err := NewClient(Config{BaseURL: ts.URL, APIKey: "vendor-key"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	session, err := client.GetSession(context.Background(), "bp-sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if session.Status != "active" {
		t.Fatalf("status = %q, want active", session.Status)
	}
}
