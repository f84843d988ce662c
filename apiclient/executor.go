// Package apiclient issues calls against the REST API with the current access
// token attached, renewing the session and retrying once when the token is
// rejected.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jrsteele09/diet-sync/credentials"
	apperrors "github.com/jrsteele09/diet-sync/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Renewer obtains a fresh session after an access token was rejected.
type Renewer interface {
	Renew(ctx context.Context, rejected string) (credentials.Session, error)
	Invalidate(ctx context.Context, rejected string) error
}

// Response is a successful reply. Empty is set for 204 or a zero-length body,
// in which case Body must not be decoded.
type Response struct {
	Status int
	Body   []byte
	Empty  bool
}

// Decode unmarshals the body into out.
func (r *Response) Decode(out any) error {
	if r.Empty {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return apperrors.Decoding(err)
	}
	return nil
}

type Executor struct {
	base    string
	client  *http.Client
	store   credentials.Store
	renewer Renewer
	logger  zerolog.Logger
}

type Option func(*Executor)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.client = c }
}

// WithTimeout bounds each HTTP round trip.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		c := *e.client
		c.Timeout = d
		e.client = &c
	}
}

func NewExecutor(base string, store credentials.Store, renewer Renewer, opts ...Option) *Executor {
	e := &Executor{
		base:    base,
		client:  &http.Client{},
		store:   store,
		renewer: renewer,
		logger:  log.With().Str("component", "executor").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute sends body (JSON encoded, may be nil) to endpoint. A 401 triggers
// one renewal and one retry with the renewed token; a second 401 ends the
// session.
func (e *Executor) Execute(ctx context.Context, method, endpoint string, body any) (*Response, error) {
	payload, err := encode(body)
	if err != nil {
		return nil, err
	}

	var token string
	if session, ok := e.store.Read(); ok {
		token = session.AccessToken
	}

	status, raw, err := e.send(ctx, method, endpoint, payload, token)
	if err != nil {
		return nil, err
	}
	if status != http.StatusUnauthorized {
		return finish(status, raw)
	}

	e.logger.Debug().Str("method", method).Str("endpoint", endpoint).Str("token", credentials.Fingerprint(token)).Msg("Access token rejected, renewing")
	renewed, err := e.renewer.Renew(ctx, token)
	if err != nil {
		return nil, err
	}

	status, raw, err = e.send(ctx, method, endpoint, payload, renewed.AccessToken)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		e.logger.Warn().Str("method", method).Str("endpoint", endpoint).Msg("Renewed token rejected, ending session")
		rejectedErr := fmt.Errorf("%w: renewed token rejected by %s %s", apperrors.ErrUnauthorized, method, endpoint)
		if err := e.renewer.Invalidate(ctx, renewed.AccessToken); err != nil {
			e.logger.Err(err).Msg("Failed to invalidate session")
			return nil, errors.Join(rejectedErr, err)
		}
		return nil, rejectedErr
	}
	return finish(status, raw)
}

// Do executes the call and decodes a non-empty response into out (nil to
// discard).
func (e *Executor) Do(ctx context.Context, method, endpoint string, body, out any) error {
	resp, err := e.Execute(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

func (e *Executor) send(ctx context.Context, method, endpoint string, payload []byte, token string) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.base+endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		credentials.Session{AccessToken: token}.Token().SetAuthHeader(req)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, nil, apperrors.Network(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, apperrors.Network(err)
	}
	return resp.StatusCode, raw, nil
}

func encode(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return b, nil
}

func finish(status int, raw []byte) (*Response, error) {
	if status/100 != 2 {
		return nil, apperrors.NewServerError(status, detailOf(status, raw))
	}
	return &Response{
		Status: status,
		Body:   raw,
		Empty:  status == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0,
	}, nil
}

// detailOf extracts the display message from an error body of the form
// {"detail": ...}.
func detailOf(status int, raw []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Detail) > 0 && string(envelope.Detail) != "null" {
		var s string
		if err := json.Unmarshal(envelope.Detail, &s); err == nil {
			return s
		}
		return string(envelope.Detail)
	}
	return fmt.Sprintf("request failed with status %d", status)
}
