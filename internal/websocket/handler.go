package websocket

import (
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"parley/internal/room"
	"parley/pkg/types"
)

// maxFrameSize bounds an inbound frame; content limits are far below it.
const maxFrameSize = 8192

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients are served from arbitrary origins.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades HTTP requests to websockets and bridges the socket's
// read side into the room actor. The per-IP cap is enforced before the
// upgrade so a refused client gets a plain HTTP 429.
type Handler struct {
	rooms *room.Manager
}

func NewHandler(rooms *room.Manager) *Handler {
	return &Handler{rooms: rooms}
}

// ServeHTTP handles GET /ws?room=<id>.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		http.Error(w, "Missing required query parameter: room", http.StatusBadRequest)
		return
	}

	ip := clientIP(r)

	actor, err := h.reserve(roomID, ip)
	if err != nil {
		if errors.Is(err, room.ErrConnectionLimit) {
			http.Error(w, "Too many connections from this address", http.StatusTooManyRequests)
			return
		}
		http.Error(w, "Room unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade failures write their own response; give the slot back.
		actor.Release(ip)
		log.Printf("websocket: upgrade failed for room %s: %v", roomID, err)
		return
	}

	conn := NewConnection(ws)
	if err := actor.Attach(conn, ip); err != nil {
		actor.Release(ip)
		conn.Close()
		return
	}

	h.readLoop(actor, conn, ws, roomID)
}

// reserve claims a connection slot, retrying once when the idle sweeper
// evicted the actor between lookup and reservation.
func (h *Handler) reserve(roomID, ip string) (*room.Actor, error) {
	for attempt := 0; attempt < 2; attempt++ {
		actor := h.rooms.Get(roomID)
		err := actor.Reserve(ip)
		if err == nil {
			return actor, nil
		}
		if !errors.Is(err, room.ErrRoomClosed) {
			return nil, err
		}
	}
	return nil, room.ErrRoomClosed
}

// readLoop decodes inbound frames and forwards them to the actor until
// the socket closes. A malformed frame is logged and dropped; it never
// tears the connection down.
func (h *Handler) readLoop(actor *room.Actor, conn *Connection, ws *websocket.Conn, roomID string) {
	defer actor.Detach(conn.ID())

	ws.SetReadLimit(maxFrameSize)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("websocket: room %s conn %s read error: %v", roomID, conn.ID(), err)
			}
			return
		}

		frame, err := types.DecodeFrame(data)
		if err != nil {
			log.Printf("websocket: room %s conn %s dropped frame: %v", roomID, conn.ID(), err)
			continue
		}

		if err := actor.HandleFrame(conn.ID(), frame); err != nil {
			// The room shut down underneath us.
			return
		}
	}
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// socket's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
