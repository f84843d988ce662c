package session

import (
	"path/filepath"

	"github.com/jrsteele09/diet-sync/apiclient"
	"github.com/jrsteele09/diet-sync/credentials/filestore"
	"github.com/jrsteele09/diet-sync/internal/config"
	"github.com/jrsteele09/diet-sync/messages"
	"github.com/jrsteele09/diet-sync/notifications"
	"github.com/jrsteele09/diet-sync/notifications/seenstore"
	"github.com/jrsteele09/diet-sync/realtime"
	"github.com/jrsteele09/diet-sync/renewal"
	"github.com/jrsteele09/diet-sync/users"
)

const seenDBName = "seen.db"

// Stack is every component of a signed-in client, built from one Config.
type Stack struct {
	Store         *filestore.Store
	Auth          *apiclient.AuthAPI
	Renewals      *renewal.Coordinator
	Executor      *apiclient.Executor
	Users         *users.Service
	Messages      *messages.Service
	Channel       *realtime.Channel
	Notifications *notifications.Bridge
	Manager       *Manager

	seen *seenstore.SQLiteStore
}

// Build wires the durable credential store, the request path and both sync
// paths under cfg's home directory.
func Build(cfg config.Config, alerter notifications.Alerter, badge notifications.Badge, opts ...Option) (*Stack, error) {
	home := cfg.GetHomeDir()
	store, err := filestore.New(home, cfg.GetKeyringSecret())
	if err != nil {
		return nil, err
	}
	seen, err := seenstore.Open(filepath.Join(home, seenDBName))
	if err != nil {
		return nil, err
	}

	s := &Stack{Store: store, seen: seen}
	s.Auth = apiclient.NewAuthAPI(cfg.GetAPIBaseURL(), cfg.GetRequestTimeout())
	s.Renewals = renewal.New(store, s.Auth, cfg.GetRenewalTimeout())
	s.Executor = apiclient.NewExecutor(cfg.GetAPIBaseURL(), store, s.Renewals, apiclient.WithTimeout(cfg.GetRequestTimeout()))
	s.Users = users.NewService(s.Executor)
	s.Channel = realtime.New(cfg.GetWebSocketURL(), store,
		realtime.WithBackoff(cfg.GetReconnectBaseDelay(), cfg.GetReconnectMaxDelay()))
	s.Messages = messages.NewService(s.Executor, s.Channel)
	s.Notifications = notifications.New(s.Executor, seen, alerter,
		notifications.WithBadge(badge),
		notifications.WithIntervals(cfg.GetForegroundPollInterval(), cfg.GetBackgroundPollInterval()),
		// scheduled checks only run once the manager has begun
		notifications.WithErrorHandler(func(err error) { s.Manager.HandleSyncError(err) }),
	)
	s.Manager = New(s.Auth, store, s.Users, s.Channel, s.Notifications, opts...)
	return s, nil
}

// Close stops syncing and releases the seen store. Credentials are kept.
func (s *Stack) Close() error {
	s.Channel.Stop()
	s.Notifications.StopPeriodic()
	return s.seen.Close()
}
