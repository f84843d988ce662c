// Package users reads the signed-in user's profile.
package users

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/diet-sync/internal/utils"
)

// RoleType is the account role issued by the backend.
type RoleType string

const (
	RoleClient    RoleType = "client"
	RoleDietitian RoleType = "dietitian"
)

type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      RoleType  `json:"role"`
	Phone     *string   `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// PhoneOrEmpty returns the phone number, or "" when none is on file.
func (u *User) PhoneOrEmpty() string {
	return utils.Value(u.Phone)
}

func (u *User) IsDietitian() bool {
	return u.Role == RoleDietitian
}

// API is the authenticated transport.
type API interface {
	Do(ctx context.Context, method, endpoint string, body, out any) error
}

type Service struct {
	api API
}

func NewService(api API) *Service {
	return &Service{api: api}
}

// Me fetches the profile of the account owning the current access token.
func (s *Service) Me(ctx context.Context) (*User, error) {
	var u User
	if err := s.api.Do(ctx, http.MethodGet, "/users/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
