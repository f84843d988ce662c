// Package session owns the signed-in lifecycle: it stores credentials on
// login, starts the message channel and notification polling, recovers the
// channel after the socket refuses a token, and tears everything down on
// sign-out.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/diet-sync/credentials"
	apperrors "github.com/jrsteele09/diet-sync/internal/errors"
	"github.com/jrsteele09/diet-sync/realtime"
	"github.com/jrsteele09/diet-sync/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	recoveryTimeout = 30 * time.Second
	// maxRecoveries bounds back-to-back channel recoveries with no successful
	// connection in between.
	maxRecoveries = 3
)

type Authenticator interface {
	Login(ctx context.Context, email, password string) (credentials.Session, error)
}

type Profiles interface {
	Me(ctx context.Context) (*users.User, error)
}

type Channel interface {
	Start(ctx context.Context) error
	Stop()
	OnStateChange(fn func(realtime.StateChange)) (unsubscribe func())
}

type Poller interface {
	EnterForeground()
	EnterBackground()
	StopPeriodic()
	ResetSeen(ctx context.Context) error
}

type Manager struct {
	auth     Authenticator
	store    credentials.Store
	profiles Profiles
	channel  Channel
	poller   Poller
	logger   zerolog.Logger

	onSignedOut func(reason error)

	mu          sync.Mutex
	active      bool
	foreground  bool
	recoveries  int
	unsubscribe func()
}

type Option func(*Manager)

// WithSignedOutHook is called when the session ends without the user asking,
// e.g. the refresh token was rejected.
func WithSignedOutHook(fn func(reason error)) Option {
	return func(m *Manager) { m.onSignedOut = fn }
}

// WithForeground sets the initial polling mode. Defaults to foreground.
func WithForeground(foreground bool) Option {
	return func(m *Manager) { m.foreground = foreground }
}

func New(auth Authenticator, store credentials.Store, profiles Profiles, channel Channel, poller Poller, opts ...Option) *Manager {
	m := &Manager{
		auth:        auth,
		store:       store,
		profiles:    profiles,
		channel:     channel,
		poller:      poller,
		logger:      log.With().Str("component", "session").Logger(),
		onSignedOut: func(error) {},
		foreground:  true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Login authenticates, stores the token pair and starts syncing.
func (m *Manager) Login(ctx context.Context, email, password string) (*users.User, error) {
	session, err := m.auth.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := m.store.Save(session); err != nil {
		return nil, apperrors.Wrapf(err, "save credentials")
	}

	user, err := m.profiles.Me(ctx)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrUnauthorized) {
			m.signOut(ctx, err, false)
		}
		return nil, err
	}
	m.logger.Info().Str("user", user.ID.String()).Str("role", string(user.Role)).Msg("Signed in")
	m.begin(ctx)
	return user, nil
}

// Restore resumes a stored session. Unauthorized clears it; other failures
// leave the credentials for a later attempt.
func (m *Manager) Restore(ctx context.Context) (*users.User, error) {
	if _, ok := m.store.Read(); !ok {
		return nil, apperrors.ErrNoSession
	}
	user, err := m.profiles.Me(ctx)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrUnauthorized) {
			m.signOut(ctx, err, false)
		}
		return nil, err
	}
	m.begin(ctx)
	return user, nil
}

// Logout stops syncing, forgets the credentials and the seen set.
func (m *Manager) Logout(ctx context.Context) error {
	return m.signOut(ctx, nil, false)
}

// SetForeground switches notification polling between the foreground
// cadence and the background best-effort check.
func (m *Manager) SetForeground(foreground bool) {
	m.mu.Lock()
	m.foreground = foreground
	active := m.active
	m.mu.Unlock()
	if active {
		m.schedulePolling(foreground)
	}
}

func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// HandleSyncError receives errors from scheduled notification checks. An
// unauthorized error ends the session.
func (m *Manager) HandleSyncError(err error) {
	if !apperrors.Is(err, apperrors.ErrUnauthorized) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recoveryTimeout)
	defer cancel()
	m.signOut(ctx, err, true)
}

func (m *Manager) begin(ctx context.Context) {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return
	}
	m.active = true
	m.recoveries = 0
	foreground := m.foreground
	m.unsubscribe = m.channel.OnStateChange(m.onChannelState)
	m.mu.Unlock()

	if err := m.channel.Start(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Message channel did not connect on start")
	}
	m.schedulePolling(foreground)
}

func (m *Manager) schedulePolling(foreground bool) {
	if foreground {
		m.poller.EnterForeground()
	} else {
		m.poller.EnterBackground()
	}
}

func (m *Manager) onChannelState(change realtime.StateChange) {
	switch {
	case change.State == realtime.Connected:
		m.mu.Lock()
		m.recoveries = 0
		m.mu.Unlock()
	case change.Unauthorized():
		go m.recoverChannel()
	}
}

// recoverChannel renews through the request path, then reopens the channel.
func (m *Manager) recoverChannel() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.recoveries++
	attempt := m.recoveries
	m.mu.Unlock()

	if attempt > maxRecoveries {
		m.logger.Error().Int("attempts", attempt-1).Msg("Message channel keeps refusing renewed tokens, leaving it closed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recoveryTimeout)
	defer cancel()

	if _, err := m.profiles.Me(ctx); err != nil {
		if apperrors.Is(err, apperrors.ErrUnauthorized) {
			m.signOut(ctx, err, true)
			return
		}
		m.logger.Warn().Err(err).Msg("Session check failed during channel recovery")
	}
	if !m.Active() {
		return
	}
	if err := m.channel.Start(ctx); err != nil {
		m.logger.Warn().Err(err).Int("attempt", attempt).Msg("Message channel recovery failed")
	}
}

func (m *Manager) signOut(ctx context.Context, reason error, notify bool) error {
	m.mu.Lock()
	wasActive := m.active
	m.active = false
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.channel.Stop()
	m.poller.StopPeriodic()

	err := m.store.Clear()
	if err != nil {
		m.logger.Err(err).Msg("Failed to clear credentials")
	}
	if resetErr := m.poller.ResetSeen(ctx); resetErr != nil {
		m.logger.Err(resetErr).Msg("Failed to reset seen notifications")
		if err == nil {
			err = resetErr
		}
	}

	if reason != nil {
		m.logger.Warn().Err(reason).Msg("Signed out")
	} else {
		m.logger.Info().Msg("Signed out")
	}
	if notify && wasActive {
		m.onSignedOut(reason)
	}
	return err
}
