package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/econexo/backend/internal/cctx"
	"github.com/econexo/backend/internal/rooms"
	"github.com/econexo/backend/internal/router"
)

var _ router.Controller = (*RoomController)(nil)

var wsPool = new(sync.Pool)

// RoomController exposes the room lifecycle manager over HTTP and a
// websocket live feed, identifying callers by their session cookie.
type RoomController struct {
	Rooms         *rooms.Manager
	SessionSecret string

	sessions sessionIssuer
	upgrader *websocket.Upgrader
}

type createRoomRequest struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	LifetimeMinutes int    `json:"lifetimeMinutes"`
}

type sendMessageRequest struct {
	SenderName string `json:"senderName"`
	Message    string `json:"message"`
}

type roomResponse struct {
	rooms.Room
	TimeRemainingSeconds int64 `json:"timeRemainingSeconds"`
}

func roomFromSnapshot(room rooms.Room) roomResponse {
	return roomResponse{
		Room:                 room,
		TimeRemainingSeconds: int64(room.TimeRemaining / time.Second),
	}
}

func (c *RoomController) Register(router *mux.Router) {
	c.sessions.init(c.SessionSecret)

	c.upgrader = &websocket.Upgrader{
		HandshakeTimeout:  10 * time.Second,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		WriteBufferPool:   wsPool,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			// TODO: need allowed domains from the configuration
			return true
		},
	}

	api := router.PathPrefix("/api/rooms").Subrouter()
	api.HandleFunc("", c.sessions.wrap(c.handleCreate)).Methods(http.MethodPost)
	api.HandleFunc("", c.sessions.wrap(c.handleList)).Methods(http.MethodGet)
	api.HandleFunc("/{id}", c.sessions.wrap(c.handleGet)).Methods(http.MethodGet)
	api.HandleFunc("/{id}/join", c.sessions.wrap(c.handleJoin)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/leave", c.sessions.wrap(c.handleLeave)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/messages", c.sessions.wrap(c.handleSendMessage)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/messages", c.sessions.wrap(c.handleMessages)).Methods(http.MethodGet)
	api.HandleFunc("/{id}/ws", c.sessions.wrap(c.handleWebsocket)).Methods(http.MethodGet)
}

func (c *RoomController) handleCreate(w http.ResponseWriter, r *http.Request) {
	sid := cctx.SessionIDFrom(r.Context())

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	room, err := c.Rooms.Create(req.Name, req.Description, sid, req.LifetimeMinutes)
	if err != nil {
		writeRoomError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, roomFromSnapshot(room))
}

func (c *RoomController) handleList(w http.ResponseWriter, r *http.Request) {
	var filter rooms.Filter
	if r.URL.Query().Get("mine") != "" {
		filter.Participant = cctx.SessionIDFrom(r.Context())
	}

	list := c.Rooms.List(filter)

	out := make([]roomResponse, 0, len(list))
	for _, room := range list {
		out = append(out, roomFromSnapshot(room))
	}

	writeJSON(w, http.StatusOK, out)
}

func (c *RoomController) handleGet(w http.ResponseWriter, r *http.Request) {
	room, err := c.Rooms.Get(mux.Vars(r)["id"])
	if errors.Is(err, rooms.ErrRoomExpired) {
		// Still hand back the snapshot so the UI can explain that this
		// room self-destructed rather than never existed.
		writeJSON(w, http.StatusGone, map[string]interface{}{
			"error": "room expired",
			"room":  roomFromSnapshot(room),
		})
		return
	}
	if err != nil {
		writeRoomError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, roomFromSnapshot(room))
}

func (c *RoomController) handleJoin(w http.ResponseWriter, r *http.Request) {
	room, err := c.Rooms.Join(mux.Vars(r)["id"], cctx.SessionIDFrom(r.Context()))
	if err != nil {
		writeRoomError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, roomFromSnapshot(room))
}

func (c *RoomController) handleLeave(w http.ResponseWriter, r *http.Request) {
	room, err := c.Rooms.Leave(mux.Vars(r)["id"], cctx.SessionIDFrom(r.Context()))
	if err != nil {
		writeRoomError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, roomFromSnapshot(room))
}

func (c *RoomController) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sid := cctx.SessionIDFrom(r.Context())

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := c.Rooms.SendMessage(mux.Vars(r)["id"], sid, req.SenderName, req.Message)
	if err != nil {
		writeRoomError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (c *RoomController) handleMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := c.Rooms.Messages(mux.Vars(r)["id"])
	if err != nil {
		writeRoomError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messages)
}

// handleWebsocket streams the room's history followed by live messages. The
// connection closes when the room expires or the client goes away.
func (c *RoomController) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]

	watcher, err := c.Rooms.Watch(roomID)
	if err != nil {
		writeRoomError(w, err)
		return
	}
	defer watcher.Close()

	history, err := c.Rooms.Messages(roomID)
	if err != nil {
		writeRoomError(w, err)
		return
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	// Reader goroutine only notices the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, msg := range history {
		if err = conn.WriteJSON(msg); err != nil {
			return
		}
	}

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case msg, ok := <-watcher.C():
			if !ok {
				// Room expired under us.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "room expired"),
					time.Now().Add(time.Second))
				return
			}
			if err = conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
