// Package credentials owns the access/refresh token pair shared by every
// component of a signed-in session.
//
// All reads and writes go through Store. Both tokens are always written and
// cleared together; no caller observes one without the other.
package credentials

import (
	"errors"
	"sync"

	"golang.org/x/oauth2"
)

var ErrIncompleteSession = errors.New("session requires both an access and a refresh token")

// Session is the token pair issued on login or renewal.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Valid reports whether both tokens are present.
func (s Session) Valid() bool {
	return s.AccessToken != "" && s.RefreshToken != ""
}

// Token returns the session as a bearer oauth2.Token.
func (s Session) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    "Bearer",
	}
}

// FromToken converts a decoded token response into a Session.
func FromToken(t *oauth2.Token) Session {
	if t == nil {
		return Session{}
	}
	return Session{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken}
}

// Store is the durable, process-wide home of the Session.
//
// Read reports absent (false) when nothing is stored or the backing storage
// is unavailable; callers treat that as signed out.
type Store interface {
	Save(session Session) error
	Read() (Session, bool)
	Clear() error
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	session *Session
	lock    sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(session Session) error {
	if !session.Valid() {
		return ErrIncompleteSession
	}
	m.lock.Lock()
	defer m.lock.Unlock()

	m.session = &session
	return nil
}

func (m *MemoryStore) Read() (Session, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

func (m *MemoryStore) Clear() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.session = nil
	return nil
}
