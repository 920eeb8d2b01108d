// Package chattest is an in-process stand-in for the marketplace chat
// backend: the room REST API plus a websocket broker with topic fan-out.
// It exists for tests and local development; nothing in it is shipped to
// a real deployment.
package chattest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"homechat/rest"
	"homechat/wire"
)

// signing secret for minted test tokens, never used outside this stub
const tokenSecret = "chattest-secret"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Server struct {
	logger *log.Logger
	hub    *Hub
	mux    *http.ServeMux

	mu       sync.Mutex
	rooms    map[string]*roomState
	order    []string
	statuses map[string]string // messageID -> status, forward-only
}

type roomState struct {
	rec      rest.Room
	buyerID  string
	messages []rest.MessageRecord
}

func NewServer(logger *log.Logger) *Server {
	s := &Server{
		logger:   logger,
		hub:      NewHub(logger),
		mux:      http.NewServeMux(),
		rooms:    make(map[string]*roomState),
		statuses: make(map[string]string),
	}
	go s.hub.Run()

	s.mux.HandleFunc("GET /api/chat/rooms", s.requireUser(s.handleMyRooms))
	s.mux.HandleFunc("GET /api/chat/rooms/all", s.requireUser(s.handleAllRooms))
	s.mux.HandleFunc("GET /api/chat/rooms/property/{propertyID}", s.requireUser(s.handlePropertyRooms))
	s.mux.HandleFunc("POST /api/chat/rooms", s.requireUser(s.handleCreateRoom))
	s.mux.HandleFunc("GET /api/chat/rooms/{id}", s.requireUser(s.handleRoom))
	s.mux.HandleFunc("GET /api/chat/rooms/{id}/messages", s.requireUser(s.handleHistory))
	s.mux.HandleFunc("POST /api/chat/rooms/{id}/messages", s.requireUser(s.handlePostMessage))
	s.mux.HandleFunc("PATCH /api/chat/messages/{id}/status", s.requireUser(s.handleStatus))
	s.mux.HandleFunc("GET /ws/chat", s.handleWebsocket)

	return s
}

// Handler is the root handler, wrapped in request logging the same way the
// production mux would be.
func (s *Server) Handler() http.Handler {
	return logRequests(s.logger, s.mux)
}

func (s *Server) Close() {
	s.hub.Stop()
}

// MintToken issues a signed bearer token for a test user.
func MintToken(userID, name string) string {
	claims := jwt.MapClaims{
		"sub":  userID,
		"name": name,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(tokenSecret))
	if err != nil {
		panic("failed to mint test token: " + err.Error())
	}
	return token
}

// ExpiredToken issues a token whose exp is already in the past.
func ExpiredToken(userID, name string) string {
	claims := jwt.MapClaims{
		"sub":  userID,
		"name": name,
		"iat":  time.Now().Add(-2 * time.Hour).Unix(),
		"exp":  time.Now().Add(-time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(tokenSecret))
	if err != nil {
		panic("failed to mint test token: " + err.Error())
	}
	return token
}

type tokenUser struct {
	ID   string
	Name string
}

func verifyToken(raw string) (tokenUser, error) {
	var claims jwt.MapClaims = make(jwt.MapClaims)
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return []byte(tokenSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return tokenUser{}, err
	}
	sub, _ := claims["sub"].(string)
	name, _ := claims["name"].(string)
	return tokenUser{ID: sub, Name: name}, nil
}

type userHandler func(w http.ResponseWriter, r *http.Request, user tokenUser)

func (s *Server) requireUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		user, err := verifyToken(raw)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r, user)
	}
}

func (s *Server) handleMyRooms(w http.ResponseWriter, r *http.Request, user tokenUser) {
	s.mu.Lock()
	out := make([]rest.Room, 0)
	for _, id := range s.order {
		room := s.rooms[id]
		if room.buyerID == user.ID || room.rec.Counterpart.ID == user.ID {
			out = append(out, s.viewLocked(room, user.ID))
		}
	}
	s.mu.Unlock()
	writeJSON(w, out)
}

func (s *Server) handleAllRooms(w http.ResponseWriter, r *http.Request, user tokenUser) {
	s.mu.Lock()
	out := make([]rest.Room, 0)
	for _, id := range s.order {
		out = append(out, s.viewLocked(s.rooms[id], user.ID))
	}
	s.mu.Unlock()
	writeJSON(w, out)
}

func (s *Server) handlePropertyRooms(w http.ResponseWriter, r *http.Request, user tokenUser) {
	propertyID := r.PathValue("propertyID")
	s.mu.Lock()
	out := make([]rest.Room, 0)
	for _, id := range s.order {
		room := s.rooms[id]
		if room.rec.PropertyID == propertyID {
			out = append(out, s.viewLocked(room, user.ID))
		}
	}
	s.mu.Unlock()
	writeJSON(w, out)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request, user tokenUser) {
	var req struct {
		PropertyID     string `json:"propertyId"`
		Title          string `json:"title"`
		InitialMessage string `json:"initialMessage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.PropertyID == "" {
		http.Error(w, "propertyId is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	// one room per user+property, reused on repeat creates
	for _, id := range s.order {
		room := s.rooms[id]
		if room.buyerID == user.ID && room.rec.PropertyID == req.PropertyID {
			out := s.viewLocked(room, user.ID)
			s.mu.Unlock()
			writeJSON(w, out)
			return
		}
	}

	room := &roomState{
		rec: rest.Room{
			ID:         uuid.NewString(),
			Title:      req.Title,
			PropertyID: req.PropertyID,
		},
		buyerID: user.ID,
	}
	if req.InitialMessage != "" {
		room.messages = append(room.messages, rest.MessageRecord{
			ID:         uuid.NewString(),
			ChatRoomID: room.rec.ID,
			SenderID:   user.ID,
			SenderName: user.Name,
			Content:    req.InitialMessage,
			Status:     "SENT",
			CreatedAt:  time.Now(),
		})
	}
	s.rooms[room.rec.ID] = room
	s.order = append(s.order, room.rec.ID)
	out := s.viewLocked(room, user.ID)
	s.mu.Unlock()

	writeJSON(w, out)
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request, user tokenUser) {
	s.mu.Lock()
	room, ok := s.rooms[r.PathValue("id")]
	if !ok {
		s.mu.Unlock()
		http.NotFound(w, r)
		return
	}
	out := s.viewLocked(room, user.ID)
	s.mu.Unlock()
	writeJSON(w, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, user tokenUser) {
	s.mu.Lock()
	room, ok := s.rooms[r.PathValue("id")]
	if !ok {
		s.mu.Unlock()
		http.NotFound(w, r)
		return
	}
	out := make([]rest.MessageRecord, 0, len(room.messages))
	for _, rec := range room.messages {
		out = append(out, s.messageViewLocked(rec, user.ID))
	}
	s.mu.Unlock()
	writeJSON(w, out)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request, user tokenUser) {
	var req struct {
		Content         string `json:"content"`
		ParentMessageID string `json:"parentMessageId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	room, ok := s.rooms[r.PathValue("id")]
	if !ok {
		s.mu.Unlock()
		http.NotFound(w, r)
		return
	}
	rec := rest.MessageRecord{
		ID:         uuid.NewString(),
		ChatRoomID: room.rec.ID,
		SenderID:   user.ID,
		SenderName: user.Name,
		Content:    req.Content,
		Status:     "SENT",
		CreatedAt:  time.Now(),
	}
	room.messages = append(room.messages, rec)
	out := s.messageViewLocked(rec, user.ID)
	s.mu.Unlock()

	writeJSON(w, out)
}

var statusRank = map[string]int{"SENT": 0, "DELIVERED": 1, "READ": 2}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, user tokenUser) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if _, ok := statusRank[req.Status]; !ok {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}

	messageID := r.PathValue("id")

	s.mu.Lock()
	var roomID, stored string
	for _, id := range s.order {
		room := s.rooms[id]
		for i := range room.messages {
			if room.messages[i].ID == messageID {
				roomID = room.rec.ID
				if statusRank[req.Status] > statusRank[room.messages[i].Status] {
					room.messages[i].Status = req.Status
				}
				// broadcast what was stored, which on a refused
				// regression is not what was requested
				stored = room.messages[i].Status
			}
		}
	}
	s.mu.Unlock()

	if roomID == "" {
		http.NotFound(w, r)
		return
	}

	body, _ := json.Marshal(wire.StatusUpdateEvent{
		ChatRoomID: roomID,
		MessageID:  messageID,
		Status:     stored,
	})
	s.hub.Broadcast(wire.Envelope{
		Type:        wire.TypeStatusUpdate,
		Destination: "/topic/chat/" + roomID,
		Body:        body,
	})

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("access_token")
	if raw == "" {
		header := r.Header.Get("Authorization")
		raw, _ = strings.CutPrefix(header, "Bearer ")
	}
	if _, err := verifyToken(raw); err != nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("websocket upgrade failed: %v", err)
		return
	}

	c := &client{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan wire.Envelope, 256),
		topics: make(map[string]bool),
	}
	c.hub.register <- c

	go c.writePump()
	go c.readPump()
}

// viewLocked renders a room record for one viewer: unread counts and mine
// flags are viewer-relative. Callers hold s.mu.
func (s *Server) viewLocked(room *roomState, viewerID string) rest.Room {
	out := room.rec
	unread := 0
	for i := range room.messages {
		rec := room.messages[i]
		if rec.SenderID != viewerID && rec.Status != "READ" {
			unread++
		}
	}
	out.UnreadCount = unread
	if n := len(room.messages); n > 0 {
		last := s.messageViewLocked(room.messages[n-1], viewerID)
		out.LastMessage = &last
	}
	return out
}

func (s *Server) messageViewLocked(rec rest.MessageRecord, viewerID string) rest.MessageRecord {
	rec.Mine = rec.SenderID == viewerID
	return rec
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// statusResponseWriter captures the status code a handler wrote; we only
// get it after the handler returns. Hijack passes through so the websocket
// upgrade still works under the logging wrapper.
type statusResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srw := &statusResponseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(srw, r)
		logger.Printf("[REQUEST] [%s %s] [Status: %d] [Duration: %v]", r.Method, r.URL.Path, srw.status, time.Since(start))
	})
}
