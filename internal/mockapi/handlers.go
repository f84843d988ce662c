package mockapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func (s *Server) initRoutes() {
	api := s.router.PathPrefix(APIPrefix).Subrouter()

	s.handle(api, http.MethodPost, "/auth/login", ChainMiddleware(s.LoginHandler(), s.APIMiddleware()...))
	s.handle(api, http.MethodPost, "/auth/refresh", ChainMiddleware(s.RefreshHandler(), s.APIMiddleware()...))

	s.handle(api, http.MethodGet, "/users/me", ChainMiddleware(s.MeHandler(), s.APIMiddleware(s.RequireAuth)...))

	s.handle(api, http.MethodGet, "/notifications", ChainMiddleware(s.ListNotificationsHandler(), s.APIMiddleware(s.RequireAuth)...))
	s.handle(api, http.MethodPost, "/notifications/read-all", ChainMiddleware(s.ReadAllNotificationsHandler(), s.APIMiddleware(s.RequireAuth)...))
	s.handle(api, http.MethodPost, "/notifications/register-token", ChainMiddleware(s.RegisterPushTokenHandler(), s.APIMiddleware(s.RequireAuth)...))
	s.handle(api, http.MethodPost, "/notifications/{notification_id}/read", ChainMiddleware(s.ReadNotificationHandler(), s.APIMiddleware(s.RequireAuth)...))

	// Fixed paths are registered before /messages/{user_id}.
	s.handle(api, http.MethodGet, "/messages/unread-count", ChainMiddleware(s.UnreadCountHandler(), s.APIMiddleware(s.RequireAuth)...))
	s.handle(api, http.MethodGet, "/messages/ws/{token}", s.SocketHandler())
	s.handle(api, http.MethodGet, "/messages/{user_id}", ChainMiddleware(s.HistoryHandler(), s.APIMiddleware(s.RequireAuth)...))
	s.handle(api, http.MethodPost, "/messages", ChainMiddleware(s.SendMessageHandler(), s.APIMiddleware(s.RequireAuth)...))
}

func (s *Server) handle(r *mux.Router, method, path string, h http.HandlerFunc) {
	s.routes = append(s.routes, method+" "+APIPrefix+path)
	r.HandleFunc(path, h).Methods(method)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
			return
		}

		s.lock.RLock()
		a, ok := s.accounts[s.byEmail[req.Email]]
		s.lock.RUnlock()
		if !ok || !checkPasswordHash(req.Password, a.passwordHash) {
			writeDetail(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}

		pair, err := s.tokens.issue(a.ID, a.Role)
		if err != nil {
			s.logger.Err(err).Msg("Failed to issue tokens")
			writeDetail(w, http.StatusInternalServerError, "Failed to issue tokens")
			return
		}
		writeJSON(w, http.StatusOK, pair)
	}
}

func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.refreshCalls.Add(1)
		if d := time.Duration(s.refreshDelay.Load()); d > 0 {
			select {
			case <-time.After(d):
			case <-r.Context().Done():
				return
			}
		}

		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
			return
		}
		userID, err := s.tokens.verify(req.RefreshToken, refreshType)
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
			return
		}

		s.lock.RLock()
		a, ok := s.accounts[userID]
		s.lock.RUnlock()
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "User not found")
			return
		}

		pair, err := s.tokens.issue(a.ID, a.Role)
		if err != nil {
			s.logger.Err(err).Msg("Failed to issue tokens")
			writeDetail(w, http.StatusInternalServerError, "Failed to issue tokens")
			return
		}
		writeJSON(w, http.StatusOK, pair)
	}
}

func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.lock.RLock()
		a := s.accounts[userFromContext(r)]
		user := a.User
		s.lock.RUnlock()
		writeJSON(w, http.StatusOK, user)
	}
}

func (s *Server) ListNotificationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Notifications(userFromContext(r)))
	}
}

func (s *Server) ReadNotificationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(mux.Vars(r)["notification_id"])
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "Invalid notification id")
			return
		}
		userID := userFromContext(r)

		s.lock.Lock()
		defer s.lock.Unlock()
		for _, n := range s.notifications[userID] {
			if n.ID == id {
				n.IsRead = true
				writeJSON(w, http.StatusOK, map[string]string{"message": "Notification marked as read"})
				return
			}
		}
		writeDetail(w, http.StatusNotFound, "Notification not found")
	}
}

func (s *Server) ReadAllNotificationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userFromContext(r)
		s.lock.Lock()
		for _, n := range s.notifications[userID] {
			n.IsRead = true
		}
		s.lock.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"message": "All notifications marked as read"})
	}
}

func (s *Server) RegisterPushTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			writeDetail(w, http.StatusUnprocessableEntity, "token is required")
			return
		}
		s.lock.Lock()
		s.accounts[userFromContext(r)].pushToken = token
		s.lock.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"message": "APNs token registered successfully"})
	}
}

func (s *Server) UnreadCountHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userFromContext(r)
		count := 0
		s.lock.RLock()
		for _, m := range s.messages {
			if m.ReceiverID == userID && !m.IsRead {
				count++
			}
		}
		s.lock.RUnlock()
		writeJSON(w, http.StatusOK, map[string]int{"unread_count": count})
	}
}

// HistoryHandler returns the conversation with user_id, oldest first, and
// marks the peer's messages as read.
func (s *Server) HistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peer, err := uuid.Parse(mux.Vars(r)["user_id"])
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "Invalid user id")
			return
		}
		me := userFromContext(r)

		s.lock.Lock()
		out := []Message{}
		for _, m := range s.messages {
			mine := m.SenderID == me && m.ReceiverID == peer
			theirs := m.SenderID == peer && m.ReceiverID == me
			if mine || theirs {
				out = append(out, *m)
			}
			if theirs {
				m.IsRead = true
			}
		}
		s.lock.Unlock()
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) SendMessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in messageCreate
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || !in.valid() {
			writeDetail(w, http.StatusUnprocessableEntity, "content or image_url is required")
			return
		}
		m := s.storeMessage(userFromContext(r), in)
		s.fanOut(m)
		writeJSON(w, http.StatusCreated, m)
	}
}
