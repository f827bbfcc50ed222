package controllers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/econexo/backend/internal/rooms"
)

type testEnv struct {
	manager *rooms.Manager
	router  *mux.Router
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	env.manager = rooms.NewManager(rooms.WithClock(func() time.Time { return env.now }))
	env.router = mux.NewRouter()

	(&RoomController{Rooms: env.manager}).Register(env.router)
	return env
}

func (env *testEnv) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateRoomEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/rooms", `{"name":"repair cafe","lifetimeMinutes":30}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ID                   string `json:"id"`
		Name                 string `json:"name"`
		Active               bool   `json:"active"`
		TimeRemainingSeconds int64  `json:"timeRemainingSeconds"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID == "" || resp.Name != "repair cafe" || !resp.Active {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.TimeRemainingSeconds != 30*60 {
		t.Fatalf("timeRemainingSeconds = %d, want 1800", resp.TimeRemainingSeconds)
	}

	if rec.Header().Get("Set-Cookie") == "" {
		t.Fatal("expected a session cookie to be minted")
	}
}

func TestCreateRoomRejectsMissingName(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.request(t, http.MethodPost, "/api/rooms", `{"lifetimeMinutes":30}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
	if rec := env.request(t, http.MethodPost, "/api/rooms", `not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: status %d, want 400", rec.Code)
	}
}

func TestGetRoomStatusMapping(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.request(t, http.MethodGet, "/api/rooms/unknown", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown room: status %d, want 404", rec.Code)
	}

	room, err := env.manager.Create("repair cafe", "", "alice", 30)
	if err != nil {
		t.Fatal(err)
	}

	if rec := env.request(t, http.MethodGet, "/api/rooms/"+room.ID, ""); rec.Code != http.StatusOK {
		t.Fatalf("live room: status %d, want 200", rec.Code)
	}

	env.now = env.now.Add(time.Hour)

	rec := env.request(t, http.MethodGet, "/api/rooms/"+room.ID, "")
	if rec.Code != http.StatusGone {
		t.Fatalf("expired room: status %d, want 410", rec.Code)
	}
	// The snapshot rides along so the UI can explain the self-destruction.
	if !strings.Contains(rec.Body.String(), room.ID) {
		t.Fatalf("expired response lacks room snapshot: %s", rec.Body.String())
	}
}

func TestSendAndListMessages(t *testing.T) {
	env := newTestEnv(t)

	room, err := env.manager.Create("repair cafe", "", "alice", 30)
	if err != nil {
		t.Fatal(err)
	}

	rec := env.request(t, http.MethodPost, "/api/rooms/"+room.ID+"/messages", `{"senderName":"Bob","message":"hello"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d, want 201: %s", rec.Code, rec.Body.String())
	}

	rec = env.request(t, http.MethodPost, "/api/rooms/"+room.ID+"/messages", `{"senderName":"Bob","message":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty message: status %d, want 400", rec.Code)
	}

	rec = env.request(t, http.MethodGet, "/api/rooms/"+room.ID+"/messages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}

	var msgs []rooms.Message
	if err = json.NewDecoder(rec.Body).Decode(&msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "hello" || msgs[0].SenderName != "Bob" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestJoinExpiredRoom(t *testing.T) {
	env := newTestEnv(t)

	room, err := env.manager.Create("repair cafe", "", "alice", 30)
	if err != nil {
		t.Fatal(err)
	}
	env.now = env.now.Add(time.Hour)

	if rec := env.request(t, http.MethodPost, "/api/rooms/"+room.ID+"/join", ""); rec.Code != http.StatusGone {
		t.Fatalf("status %d, want 410", rec.Code)
	}
}

func TestListRoomsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.manager.Create("one", "", "alice", 30); err != nil {
		t.Fatal(err)
	}
	if _, err := env.manager.Create("two", "", "bob", 30); err != nil {
		t.Fatal(err)
	}

	rec := env.request(t, http.MethodGet, "/api/rooms", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}

	var list []json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d rooms, want 2", len(list))
	}
}
