// Package mockapi is an in-process stand-in for the coaching backend. It
// serves the auth, profile, notification and messaging endpoints under /api
// and exposes controls for driving token expiry, refresh failure and socket
// drops from tests.
package mockapi

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const APIPrefix = "/api"

type Server struct {
	env    string
	router *mux.Router
	routes []string
	tokens *tokenIssuer
	hub    *hub
	logger zerolog.Logger

	upgrader websocket.Upgrader

	lock          sync.RWMutex
	accounts      map[uuid.UUID]*account
	byEmail       map[string]uuid.UUID
	notifications map[uuid.UUID][]*Notification
	messages      []*Message
	socketTokens  []string
	bearers       []string

	refreshCalls atomic.Int64
	refreshDelay atomic.Int64
}

type Option func(*Server)

// WithEnv enables per-request route logging when env is "DEV".
func WithEnv(env string) Option {
	return func(s *Server) { s.env = env }
}

// WithTokenTTL overrides the lifetimes of issued tokens.
func WithTokenTTL(access, refresh time.Duration) Option {
	return func(s *Server) {
		s.tokens.accessTTL = access
		s.tokens.refreshTTL = refresh
	}
}

func New(opts ...Option) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		tokens:        newTokenIssuer([]byte(uuid.NewString()), 30*time.Minute, 7*24*time.Hour),
		hub:           newHub(),
		logger:        log.With().Str("component", "mockapi").Logger(),
		accounts:      make(map[uuid.UUID]*account),
		byEmail:       make(map[string]uuid.UUID),
		notifications: make(map[uuid.UUID][]*Notification),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.initRoutes()
	s.logRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// AddUser registers an account and returns its id.
func (s *Server) AddUser(email, password, fullName, role string) (uuid.UUID, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	s.lock.Lock()
	defer s.lock.Unlock()
	s.accounts[id] = &account{
		User: User{
			ID:        id,
			Email:     email,
			FullName:  fullName,
			Role:      role,
			CreatedAt: NowTimeFunc().UTC(),
		},
		passwordHash: hash,
	}
	s.byEmail[email] = id
	return id, nil
}

// AddNotification queues an unread notification for userID.
func (s *Server) AddNotification(userID uuid.UUID, title, content string) Notification {
	n := &Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		Content:   content,
		CreatedAt: NowTimeFunc().UTC(),
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	// newest first, as the listing returns them
	s.notifications[userID] = append([]*Notification{n}, s.notifications[userID]...)
	return *n
}

// PushMessage stores a message and delivers it to both parties' sockets.
func (s *Server) PushMessage(from, to uuid.UUID, content string) Message {
	m := s.storeMessage(from, messageCreate{ReceiverID: to, Content: &content})
	s.fanOut(m)
	return m
}

// PushFrame writes raw to every socket of userID.
func (s *Server) PushFrame(userID uuid.UUID, raw []byte) {
	s.hub.send(userID, raw)
}

// ExpireAccessTokens invalidates every access token issued so far.
func (s *Server) ExpireAccessTokens() {
	s.tokens.accessGen.Add(1)
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (s *Server) RevokeRefreshTokens() {
	s.tokens.refreshGen.Add(1)
}

// SetRefreshDelay holds each refresh response for d.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.refreshDelay.Store(int64(d))
}

// RefreshCalls reports how many refresh requests were received.
func (s *Server) RefreshCalls() int64 {
	return s.refreshCalls.Load()
}

// DropConnections tears down every socket without a close frame.
func (s *Server) DropConnections() {
	s.hub.drop()
}

// CloseConnections sends a close frame with code to every socket.
func (s *Server) CloseConnections(code int, reason string) {
	s.hub.closeAll(code, reason)
}

// Connections reports the number of open sockets for userID.
func (s *Server) Connections(userID uuid.UUID) int {
	return s.hub.count(userID)
}

// SocketTokens returns the tokens presented on socket handshakes, in order.
func (s *Server) SocketTokens() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]string(nil), s.socketTokens...)
}

// AcceptedBearers returns the access tokens of authenticated requests that
// passed RequireAuth, in arrival order.
func (s *Server) AcceptedBearers() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]string(nil), s.bearers...)
}

// Notifications returns a snapshot of userID's notifications.
func (s *Server) Notifications(userID uuid.UUID) []Notification {
	s.lock.RLock()
	defer s.lock.RUnlock()
	out := make([]Notification, 0, len(s.notifications[userID]))
	for _, n := range s.notifications[userID] {
		out = append(out, *n)
	}
	return out
}

// PushToken returns the device token registered by userID.
func (s *Server) PushToken(userID uuid.UUID) string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if a, ok := s.accounts[userID]; ok {
		return a.pushToken
	}
	return ""
}

// SeedDemo adds a client and a dietitian with password "pw" plus a welcome
// notification for the client.
func (s *Server) SeedDemo() (client, dietitian uuid.UUID, err error) {
	if client, err = s.AddUser("a@x.com", "pw", "Demo Client", "client"); err != nil {
		return
	}
	if dietitian, err = s.AddUser("dietitian@x.com", "pw", "Demo Dietitian", "dietitian"); err != nil {
		return
	}
	s.AddNotification(client, "Welcome", "Your dietitian will be in touch shortly.")
	return
}

func (s *Server) storeMessage(from uuid.UUID, in messageCreate) Message {
	m := &Message{
		ID:         uuid.New(),
		SenderID:   from,
		ReceiverID: in.ReceiverID,
		Content:    in.Content,
		ImageURL:   in.ImageURL,
		CreatedAt:  NowTimeFunc().UTC(),
	}
	s.lock.Lock()
	s.messages = append(s.messages, m)
	s.lock.Unlock()
	return *m
}
