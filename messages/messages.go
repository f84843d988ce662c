// Package messages holds the chat message wire types and the direct
// (request/response) send and history calls.
package messages

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/diet-sync/internal/utils"
)

var ErrEmptyMessage = errors.New("message needs text or an image")

// InboundMessage is a chat message as delivered by the socket or returned by
// a send. Two values with the same ID are the same message.
type InboundMessage struct {
	ID         uuid.UUID `json:"id"`
	SenderID   uuid.UUID `json:"sender_id"`
	ReceiverID uuid.UUID `json:"receiver_id"`
	Content    *string   `json:"content"`
	ImageURL   *string   `json:"image_url"`
	IsRead     bool      `json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`
}

// Text returns the message text, or "" for an image-only message.
func (m InboundMessage) Text() string {
	return utils.Value(m.Content)
}

// Outbound is the frame written to the socket and the body of POST /messages.
type Outbound struct {
	ReceiverID uuid.UUID `json:"receiver_id"`
	Content    *string   `json:"content,omitempty"`
	ImageURL   *string   `json:"image_url,omitempty"`
}

func NewText(receiver uuid.UUID, text string) Outbound {
	return Outbound{ReceiverID: receiver, Content: utils.NonZero(text)}
}

func NewImage(receiver uuid.UUID, imageURL string) Outbound {
	return Outbound{ReceiverID: receiver, ImageURL: utils.NonZero(imageURL)}
}

func (o Outbound) Validate() error {
	if o.ReceiverID == uuid.Nil {
		return errors.New("message needs a receiver")
	}
	if utils.Value(o.Content) == "" && utils.Value(o.ImageURL) == "" {
		return ErrEmptyMessage
	}
	return nil
}

// API is the authenticated transport.
type API interface {
	Do(ctx context.Context, method, endpoint string, body, out any) error
}

// Deliverer records a message the caller already has, so a later copy from
// another path is dropped.
type Deliverer interface {
	Deliver(msg InboundMessage) bool
}

type Service struct {
	api     API
	channel Deliverer
}

// NewService returns a Service. channel may be nil.
func NewService(api API, channel Deliverer) *Service {
	return &Service{api: api, channel: channel}
}

// Send posts the message and hands the stored copy to the channel, so the
// socket echo of the same message is not delivered twice.
func (s *Service) Send(ctx context.Context, out Outbound) (InboundMessage, error) {
	if err := out.Validate(); err != nil {
		return InboundMessage{}, err
	}
	var msg InboundMessage
	if err := s.api.Do(ctx, http.MethodPost, "/messages", out, &msg); err != nil {
		return InboundMessage{}, err
	}
	if s.channel != nil {
		s.channel.Deliver(msg)
	}
	return msg, nil
}

// History returns the conversation with peer, oldest first. The server marks
// the peer's messages as read.
func (s *Service) History(ctx context.Context, peer uuid.UUID) ([]InboundMessage, error) {
	var out []InboundMessage
	if err := s.api.Do(ctx, http.MethodGet, "/messages/"+peer.String(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		UnreadCount int `json:"unread_count"`
	}
	if err := s.api.Do(ctx, http.MethodGet, "/messages/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}
