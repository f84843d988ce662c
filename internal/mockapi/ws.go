package mockapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

type socketConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *socketConn) write(raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *socketConn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = c.conn.Close()
}

// hub tracks open sockets per user.
type hub struct {
	mu    sync.Mutex
	conns map[uuid.UUID]map[*socketConn]struct{}
}

func newHub() *hub {
	return &hub{conns: make(map[uuid.UUID]map[*socketConn]struct{})}
}

func (h *hub) add(userID uuid.UUID, c *socketConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*socketConn]struct{})
	}
	h.conns[userID][c] = struct{}{}
}

func (h *hub) remove(userID uuid.UUID, c *socketConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[userID], c)
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
}

func (h *hub) snapshot(userID uuid.UUID) []*socketConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*socketConn, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		out = append(out, c)
	}
	return out
}

func (h *hub) all() []*socketConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*socketConn
	for _, set := range h.conns {
		for c := range set {
			out = append(out, c)
		}
	}
	return out
}

func (h *hub) send(userID uuid.UUID, raw []byte) {
	for _, c := range h.snapshot(userID) {
		_ = c.write(raw)
	}
}

func (h *hub) drop() {
	for _, c := range h.all() {
		_ = c.conn.Close()
	}
}

func (h *hub) closeAll(code int, reason string) {
	for _, c := range h.all() {
		c.close(code, reason)
	}
}

func (h *hub) count(userID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}

// fanOut delivers m to the sender's and the receiver's sockets.
func (s *Server) fanOut(m Message) {
	raw, err := json.Marshal(m)
	if err != nil {
		s.logger.Err(err).Msg("Failed to encode message frame")
		return
	}
	s.hub.send(m.SenderID, raw)
	if m.ReceiverID != m.SenderID {
		s.hub.send(m.ReceiverID, raw)
	}
}

// SocketHandler authenticates the token path segment before upgrading. A bad
// token is refused with 403 and no socket is opened.
func (s *Server) SocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := mux.Vars(r)["token"]
		s.lock.Lock()
		s.socketTokens = append(s.socketTokens, token)
		s.lock.Unlock()

		userID, err := s.tokens.verify(token, accessType)
		if err != nil {
			writeDetail(w, http.StatusForbidden, "Invalid token")
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Err(err).Msg("Socket upgrade failed")
			return
		}
		c := &socketConn{conn: conn}
		s.hub.add(userID, c)
		defer func() {
			s.hub.remove(userID, c)
			_ = conn.Close()
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var in messageCreate
			if err := json.Unmarshal(data, &in); err != nil || !in.valid() {
				s.logger.Warn().Err(err).Str("user", userID.String()).Msg("Ignoring malformed socket frame")
				continue
			}
			s.fanOut(s.storeMessage(userID, in))
		}
	}
}
