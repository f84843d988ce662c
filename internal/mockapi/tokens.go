package mockapi

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

const (
	accessType  = "access"
	refreshType = "refresh"
)

var errTokenRevoked = errors.New("token generation revoked")

// TokenPair is the login/refresh response body.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// tokenIssuer signs HS256 tokens carrying a type claim. Bumping a generation
// invalidates every token of that type issued before the bump.
type tokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration

	accessGen  atomic.Int64
	refreshGen atomic.Int64
}

func newTokenIssuer(secret []byte, accessTTL, refreshTTL time.Duration) *tokenIssuer {
	return &tokenIssuer{secret: secret, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

func (t *tokenIssuer) issue(userID uuid.UUID, role string) (TokenPair, error) {
	access, err := t.sign(jwtlib.MapClaims{
		"sub":  userID.String(),
		"role": role,
		"type": accessType,
		"gen":  t.accessGen.Load(),
	}, t.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := t.sign(jwtlib.MapClaims{
		"sub":  userID.String(),
		"type": refreshType,
		"gen":  t.refreshGen.Load(),
	}, t.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

func (t *tokenIssuer) sign(claims jwtlib.MapClaims, ttl time.Duration) (string, error) {
	now := NowTimeFunc()
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(ttl).Unix()
	claims["jti"] = uuid.NewString()
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(t.secret)
}

// verify checks signature, expiry, type and generation, returning the subject.
func (t *tokenIssuer) verify(raw, wantType string) (uuid.UUID, error) {
	claims := jwtlib.MapClaims{}
	_, err := jwtlib.ParseWithClaims(raw, claims, func(*jwtlib.Token) (any, error) {
		return t.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithTimeFunc(NowTimeFunc))
	if err != nil {
		return uuid.Nil, err
	}
	if typ, _ := claims["type"].(string); typ != wantType {
		return uuid.Nil, fmt.Errorf("token type %q, want %q", typ, wantType)
	}

	gen, _ := claims["gen"].(float64)
	current := t.accessGen.Load()
	if wantType == refreshType {
		current = t.refreshGen.Load()
	}
	if int64(gen) != current {
		return uuid.Nil, errTokenRevoked
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(sub)
}
