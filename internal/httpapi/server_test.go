package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avierra/avatarbridge/internal/config"
	"github.com/avierra/avatarbridge/internal/coordinator"
)

type fakeCoordinator struct {
	startReq    coordinator.StartRequest
	startResult coordinator.StartResult
	startErr    error
	stopRoom    string
	stopResult  coordinator.StopResult
	health      coordinator.HealthInfo
}

func (f *fakeCoordinator) Start(req coordinator.StartRequest) (coordinator.StartResult, error) {
	f.startReq = req
	if f.startErr != nil {
		return coordinator.StartResult{}, f.startErr
	}
	return f.startResult, nil
}

func (f *fakeCoordinator) Stop(roomName string) coordinator.StopResult {
	f.stopRoom = roomName
	return f.stopResult
}

func (f *fakeCoordinator) Health() coordinator.HealthInfo {
	return f.health
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	res, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	coord := &fakeCoordinator{health: coordinator.HealthInfo{ActiveSessions: 3, Uptime: 42 * time.Second}}
	srv := New(config.Config{}, coord)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", res.StatusCode)
	}
	body := decodeBody(t, res)
	if body["status"] != "ok" {
		t.Fatalf("status = %v, want ok", body["status"])
	}
	if body["activeSessions"] != float64(3) {
		t.Fatalf("activeSessions = %v, want 3", body["activeSessions"])
	}
	if body["uptime"] != float64(42) {
		t.Fatalf("uptime = %v, want 42", body["uptime"])
	}
}

func TestHealthStaysUpWithoutBridgeConfig(t *testing.T) {
	srv := New(config.Config{}, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", res.StatusCode)
	}
	body := decodeBody(t, res)
	if body["status"] != "ok" {
		t.Fatalf("status = %v, want ok", body["status"])
	}
}

func TestStartAvatar(t *testing.T) {
	coord := &fakeCoordinator{
		startResult: coordinator.StartResult{Status: coordinator.ResultStarted, RoomName: "room-42", ExternalSessionID: "sess-1"},
	}
	srv := New(config.Config{}, coord)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res := postJSON(t, ts.URL+"/start-avatar", map[string]string{
		"roomName":  "room-42",
		"avatarId":  "avatar-7",
		"sessionId": "sess-1",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want 200", res.StatusCode)
	}
	body := decodeBody(t, res)
	if body["success"] != true {
		t.Fatalf("success = %v, want true", body["success"])
	}
	if body["status"] != coordinator.ResultStarted {
		t.Fatalf("status = %v, want started", body["status"])
	}
	if body["roomName"] != "room-42" || body["sessionId"] != "sess-1" {
		t.Fatalf("body = %v, want room-42/sess-1", body)
	}
	if coord.startReq.RoomName != "room-42" || coord.startReq.AvatarID != "avatar-7" {
		t.Fatalf("coordinator request = %+v", coord.startReq)
	}
}

func TestStartAvatarUsesDefaultAvatarID(t *testing.T) {
	coord := &fakeCoordinator{
		startResult: coordinator.StartResult{Status: coordinator.ResultStarted, RoomName: "room-42"},
	}
	srv := New(config.Config{DefaultAvatarID: "avatar-default"}, coord)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res := postJSON(t, ts.URL+"/start-avatar", map[string]string{"roomName": "room-42"})
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want 200", res.StatusCode)
	}
	if coord.startReq.AvatarID != "avatar-default" {
		t.Fatalf("avatar id = %q, want configured default", coord.startReq.AvatarID)
	}
}

func TestStartAvatarValidation(t *testing.T) {
	coord := &fakeCoordinator{}
	srv := New(config.Config{}, coord)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res := postJSON(t, ts.URL+"/start-avatar", map[string]string{"avatarId": "avatar-7"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing roomName status = %d, want 400", res.StatusCode)
	}
	body := decodeBody(t, res)
	if msg, _ := body["error"].(string); msg == "" {
		t.Fatalf("missing error field in 400 body: %v", body)
	}

	// No avatarId in the request and no configured default.
	res = postJSON(t, ts.URL+"/start-avatar", map[string]string{"roomName": "room-42"})
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing avatarId status = %d, want 400", res.StatusCode)
	}
	if coord.startReq.RoomName != "" {
		t.Fatalf("coordinator called despite invalid request: %+v", coord.startReq)
	}
}

func TestStartAvatarWithoutBridgeConfig(t *testing.T) {
	srv := New(config.Config{}, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res := postJSON(t, ts.URL+"/start-avatar", map[string]string{"roomName": "room-42", "avatarId": "a"})
	defer res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unconfigured start status = %d, want 503", res.StatusCode)
	}
}

func TestStopAvatar(t *testing.T) {
	coord := &fakeCoordinator{
		stopResult: coordinator.StopResult{Status: coordinator.ResultStopped, RoomName: "room-42"},
	}
	srv := New(config.Config{}, coord)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res := postJSON(t, ts.URL+"/stop-avatar", map[string]string{"roomName": "room-42"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", res.StatusCode)
	}
	body := decodeBody(t, res)
	if body["status"] != coordinator.ResultStopped || body["roomName"] != "room-42" {
		t.Fatalf("stop body = %v", body)
	}
	if coord.stopRoom != "room-42" {
		t.Fatalf("coordinator stop room = %q, want room-42", coord.stopRoom)
	}
}

func TestStopAvatarNotFoundPassthrough(t *testing.T) {
	coord := &fakeCoordinator{
		stopResult: coordinator.StopResult{Status: coordinator.ResultNotFound, RoomName: "room-42"},
	}
	srv := New(config.Config{}, coord)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res := postJSON(t, ts.URL+"/stop-avatar", map[string]string{"roomName": "room-42"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", res.StatusCode)
	}
	body := decodeBody(t, res)
	if body["status"] != coordinator.ResultNotFound {
		t.Fatalf("stop status field = %v, want not_found", body["status"])
	}
}

func TestStopAvatarValidation(t *testing.T) {
	coord := &fakeCoordinator{}
	srv := New(config.Config{}, coord)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res := postJSON(t, ts.URL+"/stop-avatar", map[string]string{})
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing roomName status = %d, want 400", res.StatusCode)
	}
}
