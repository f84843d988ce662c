package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jrsteele09/diet-sync/credentials"
	apperrors "github.com/jrsteele09/diet-sync/internal/errors"
	"golang.org/x/oauth2"
)

// AuthAPI calls the endpoints that issue tokens. These never carry a bearer
// credential and never trigger renewal.
type AuthAPI struct {
	base   string
	client *http.Client
}

func NewAuthAPI(base string, timeout time.Duration) *AuthAPI {
	return &AuthAPI{base: base, client: &http.Client{Timeout: timeout}}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login exchanges email and password for a token pair.
func (a *AuthAPI) Login(ctx context.Context, email, password string) (credentials.Session, error) {
	return a.issue(ctx, "/auth/login", loginRequest{Email: email, Password: password})
}

// Exchange trades a refresh token for a new pair. Any non-2xx reply is a
// failure.
func (a *AuthAPI) Exchange(ctx context.Context, refreshToken string) (credentials.Session, error) {
	return a.issue(ctx, "/auth/refresh", refreshRequest{RefreshToken: refreshToken})
}

func (a *AuthAPI) issue(ctx context.Context, endpoint string, body any) (credentials.Session, error) {
	payload, err := encode(body)
	if err != nil {
		return credentials.Session{}, err
	}
	e := Executor{base: a.base, client: a.client}
	status, raw, err := e.send(ctx, http.MethodPost, endpoint, payload, "")
	if err != nil {
		return credentials.Session{}, err
	}
	resp, err := finish(status, raw)
	if err != nil {
		return credentials.Session{}, err
	}

	var tok oauth2.Token
	if err := json.Unmarshal(resp.Body, &tok); err != nil {
		return credentials.Session{}, apperrors.Decoding(err)
	}
	session := credentials.FromToken(&tok)
	if !session.Valid() {
		return credentials.Session{}, apperrors.Decoding(credentials.ErrIncompleteSession)
	}
	return session, nil
}
