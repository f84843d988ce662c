package notifications

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Alert is a local notification for one newly seen item.
type Alert struct {
	ID    uuid.UUID
	Title string
	Body  string
}

type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

type AlertFunc func(ctx context.Context, a Alert) error

func (f AlertFunc) Alert(ctx context.Context, a Alert) error {
	return f(ctx, a)
}

// LogAlerter writes alerts to the log.
type LogAlerter struct{}

func (LogAlerter) Alert(_ context.Context, a Alert) error {
	log.Info().Str("component", "notifications").Str("id", a.ID.String()).Str("title", a.Title).Msg(a.Body)
	return nil
}

// Badge shows the outstanding unread count.
type Badge interface {
	SetBadge(count int)
}

type BadgeFunc func(count int)

func (f BadgeFunc) SetBadge(count int) {
	f(count)
}

type noBadge struct{}

func (noBadge) SetBadge(int) {}
