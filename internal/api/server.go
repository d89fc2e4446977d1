// Package api exposes a thin REST surface next to the websocket
// endpoint: health, room listing and creation, and room history. No
// business logic lives here, only HTTP handling and JSON shaping.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"parley/internal/store"
	"parley/pkg/types"
)

const historyLimit = 100

// RoomStats reports live room and connection counts.
type RoomStats interface {
	Stats() map[string]int
}

type Server struct {
	store  *store.Manager
	rooms  RoomStats
	router *http.ServeMux
}

func NewServer(st *store.Manager, rooms RoomStats) *Server {
	s := &Server{
		store:  st,
		rooms:  rooms,
		router: http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/rooms", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRooms))))
	s.router.Handle("/api/rooms/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRoomByID))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createRoom(w, r)
	case http.MethodGet:
		s.listRooms(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRoomByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	parts := strings.Split(path, "/")
	roomID := parts[0]
	if roomID == "" {
		s.sendError(w, "Room ID required", http.StatusBadRequest)
		return
	}

	switch {
	case r.Method == http.MethodGet && len(parts) > 1 && parts[1] == "messages":
		s.roomMessages(w, r, roomID)
	case r.Method == http.MethodGet && len(parts) == 1:
		s.getRoom(w, r, roomID)
	case r.Method == http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type CreateRoomRequest struct {
	Name string `json:"name"`
}

type RoomResponse struct {
	Room *types.Room `json:"room"`
}

type ListRoomsResponse struct {
	Rooms []*types.Room `json:"rooms"`
}

type MessagesResponse struct {
	Messages []*types.Message `json:"messages"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		s.sendError(w, "Room name required", http.StatusBadRequest)
		return
	}

	room, err := s.store.CreateRoom(r.Context(), req.Name)
	if err != nil {
		s.sendError(w, "Failed to create room", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(RoomResponse{Room: room})
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.store.ListRooms(r.Context())
	if err != nil {
		s.sendError(w, "Failed to list rooms", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(ListRoomsResponse{Rooms: rooms})
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request, roomID string) {
	room, err := s.store.GetRoom(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			s.sendError(w, "Room not found", http.StatusNotFound)
			return
		}
		s.sendError(w, "Failed to load room", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(RoomResponse{Room: room})
}

// roomMessages returns the room's recent history in chronological
// order, matching what a websocket client receives on attach.
func (s *Server) roomMessages(w http.ResponseWriter, r *http.Request, roomID string) {
	messages, err := s.store.ListRecentMessages(r.Context(), roomID, historyLimit)
	if err != nil {
		s.sendError(w, "Failed to load messages", http.StatusInternalServerError)
		return
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	if messages == nil {
		messages = []*types.Message{}
	}
	json.NewEncoder(w).Encode(MessagesResponse{Messages: messages})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.rooms.Stats(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
