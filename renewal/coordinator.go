// Package renewal exchanges the refresh token for a new token pair on behalf
// of any number of concurrent callers, performing at most one exchange at a
// time.
//
// Callers that arrive while an exchange is in flight wait for it and receive
// the same outcome. Exchanges are serialized: a new one starts only after the
// previous one has written (or cleared) the credential store and released its
// waiters, so an older result can never overwrite a newer one.
package renewal

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/diet-sync/credentials"
	apperrors "github.com/jrsteele09/diet-sync/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// flightKey names the single PendingRenewal slot. Invalidations share it so
// they are ordered with renewals.
const flightKey = "session"

// Exchanger performs the network exchange of a refresh token for a new pair.
type Exchanger interface {
	Exchange(ctx context.Context, refreshToken string) (credentials.Session, error)
}

// ExchangeFunc adapts a function to Exchanger.
type ExchangeFunc func(ctx context.Context, refreshToken string) (credentials.Session, error)

func (f ExchangeFunc) Exchange(ctx context.Context, refreshToken string) (credentials.Session, error) {
	return f(ctx, refreshToken)
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	store     credentials.Store
	exchanger Exchanger
	timeout   time.Duration

	group    singleflight.Group
	renewals atomic.Int64
	logger   zerolog.Logger
}

// New returns a Coordinator writing results to store. timeout bounds a single
// exchange; zero means no bound beyond the exchanger's own.
func New(store credentials.Store, exchanger Exchanger, timeout time.Duration) *Coordinator {
	return &Coordinator{
		store:     store,
		exchanger: exchanger,
		timeout:   timeout,
		logger:    log.With().Str("component", "renewal").Logger(),
	}
}

// Renew returns a session whose access token is newer than rejected, the
// token the caller just had refused. It blocks until a result is available or
// ctx ends; a caller giving up never cancels the shared exchange.
//
// Failure is terminal for the session: the store is cleared and the error
// matches apperrors.ErrUnauthorized.
func (c *Coordinator) Renew(ctx context.Context, rejected string) (credentials.Session, error) {
	if current, ok := c.store.Read(); ok && current.AccessToken != rejected {
		return current, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.renew(detached, rejected)
	})

	select {
	case res := <-ch:
		if _, joined := res.Val.(invalidation); joined {
			return c.afterInvalidation(rejected)
		}
		if res.Err != nil {
			return credentials.Session{}, res.Err
		}
		return res.Val.(credentials.Session), nil
	case <-ctx.Done():
		return credentials.Session{}, ctx.Err()
	}
}

// invalidation is the result of an Invalidate flight, told apart from a
// renewed session by callers of Renew that joined it.
type invalidation struct{}

// afterInvalidation resolves a Renew that joined an invalidation: a newer
// pair written meanwhile is returned, otherwise the session is over.
func (c *Coordinator) afterInvalidation(rejected string) (credentials.Session, error) {
	if current, ok := c.store.Read(); ok && current.AccessToken != rejected {
		return current, nil
	}
	return credentials.Session{}, fmt.Errorf("%w: session invalidated", apperrors.ErrUnauthorized)
}

func (c *Coordinator) renew(ctx context.Context, rejected string) (credentials.Session, error) {
	current, ok := c.store.Read()
	if ok && current.AccessToken != rejected {
		// Another renewal landed between the caller's check and this flight.
		return current, nil
	}
	if !ok || current.RefreshToken == "" {
		return credentials.Session{}, errors.Join(
			fmt.Errorf("%w: no refresh token", apperrors.ErrUnauthorized), c.clear())
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	n := c.renewals.Add(1)
	next, err := c.exchanger.Exchange(ctx, current.RefreshToken)
	if err != nil {
		c.logger.Warn().Err(err).Int64("renewal", n).Msg("Refresh exchange failed, ending session")
		return credentials.Session{}, errors.Join(
			fmt.Errorf("%w: renewal failed: %w", apperrors.ErrUnauthorized, err), c.clear())
	}
	if err := c.store.Save(next); err != nil {
		c.logger.Error().Err(err).Int64("renewal", n).Msg("Failed to store renewed session")
		return credentials.Session{}, errors.Join(
			fmt.Errorf("%w: store renewed session: %w", apperrors.ErrUnauthorized, err), c.clear())
	}

	c.logger.Debug().
		Int64("renewal", n).
		Str("previous", credentials.Fingerprint(current.AccessToken)).
		Str("current", credentials.Fingerprint(next.AccessToken)).
		Msg("Session renewed")
	return next, nil
}

// Invalidate clears the store if it still holds rejected as its access token.
// It is ordered with renewals, so a pair written by a later renewal is never
// removed. A failed clear is returned rather than retried.
func (c *Coordinator) Invalidate(ctx context.Context, rejected string) error {
	for {
		current, ok := c.store.Read()
		if !ok || current.AccessToken != rejected {
			return nil
		}
		ch := c.group.DoChan(flightKey, func() (any, error) {
			if current, ok := c.store.Read(); ok && current.AccessToken == rejected {
				c.logger.Info().Str("token", credentials.Fingerprint(rejected)).Msg("Session invalidated")
				return invalidation{}, c.clear()
			}
			return invalidation{}, nil
		})
		select {
		case res := <-ch:
			if _, own := res.Val.(invalidation); own && res.Err != nil {
				return res.Err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Renewals reports how many refresh exchanges have been attempted.
func (c *Coordinator) Renewals() int64 {
	return c.renewals.Load()
}

func (c *Coordinator) clear() error {
	if err := c.store.Clear(); err != nil {
		c.logger.Error().Err(err).Msg("Failed to clear credentials")
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}
