package notifications

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

type Notification struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// API is the authenticated transport.
type API interface {
	Do(ctx context.Context, method, endpoint string, body, out any) error
}

// List returns the signed-in user's notifications as ordered by the server.
func (b *Bridge) List(ctx context.Context) ([]Notification, error) {
	var out []Notification
	if err := b.api.Do(ctx, http.MethodGet, "/notifications", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Bridge) MarkRead(ctx context.Context, id uuid.UUID) error {
	return b.api.Do(ctx, http.MethodPost, "/notifications/"+id.String()+"/read", nil, nil)
}

// MarkAllRead marks everything read and clears the badge.
func (b *Bridge) MarkAllRead(ctx context.Context) error {
	if err := b.api.Do(ctx, http.MethodPost, "/notifications/read-all", nil, nil); err != nil {
		return err
	}
	b.badge.SetBadge(0)
	return nil
}

// RegisterPushToken hands the device's push token to the server.
func (b *Bridge) RegisterPushToken(ctx context.Context, token string) error {
	return b.api.Do(ctx, http.MethodPost, "/notifications/register-token?token="+url.QueryEscape(token), nil, nil)
}
