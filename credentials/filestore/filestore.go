// Package filestore persists the credential pair in a single sealed file so it
// survives process restarts.
//
// The file is encrypted with XChaCha20-Poly1305 under a key derived by scrypt
// from the configured secret, or from a random per-device key when no secret
// is configured. Writes go to a temp file that is renamed over the target, so
// a reader sees either the old pair or the new pair, never a mix.
package filestore

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrsteele09/diet-sync/credentials"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	credentialsFile = "credentials.enc"
	saltFile        = "keyring.salt"
	deviceKeyFile   = "device.key"

	formatVersion = 1
	deviceKeyLen  = 32
	saltLen       = 16

	// scrypt tunables
	defaultScryptN = 1 << 15
	scryptR        = 8
	scryptP        = 1
)

var (
	errUnsealFailed = errors.New("credential file could not be authenticated")
	additionalData  = []byte("dietsync/credentials")
)

// blob is the on-disk JSON structure.
type blob struct {
	V      int    `json:"v"`
	Nonce  []byte `json:"nonce"`
	Cipher []byte `json:"cipher"`
}

var _ credentials.Store = (*Store)(nil)

// Store is a credentials.Store rooted at a directory.
type Store struct {
	dir    string
	key    []byte
	mu     sync.Mutex
	logger zerolog.Logger
}

// Option customises a Store.
type Option func(*options)

type options struct {
	scryptN int
}

// WithScryptCost overrides the scrypt N parameter (a power of two).
func WithScryptCost(n int) Option {
	return func(o *options) { o.scryptN = n }
}

// New opens (creating if needed) a store in dir. An empty secret selects the
// per-device key file.
func New(dir, secret string, opts ...Option) (*Store, error) {
	o := options{scryptN: defaultScryptN}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}
	if secret == "" {
		k, err := loadOrCreate(filepath.Join(dir, deviceKeyFile), deviceKeyLen)
		if err != nil {
			return nil, fmt.Errorf("device key: %w", err)
		}
		secret = hex.EncodeToString(k)
	}
	salt, err := loadOrCreate(filepath.Join(dir, saltFile), saltLen)
	if err != nil {
		return nil, fmt.Errorf("keyring salt: %w", err)
	}
	key, err := scrypt.Key([]byte(secret), salt, o.scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	return &Store{
		dir:    dir,
		key:    key,
		logger: log.With().Str("component", "credentials").Logger(),
	}, nil
}

func (s *Store) path() string {
	return filepath.Join(s.dir, credentialsFile)
}

// Save seals both tokens into one file.
func (s *Store) Save(session credentials.Session) error {
	if !session.Valid() {
		return credentials.ErrIncompleteSession
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	sealed, err := s.seal(raw)
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFile(s.path(), sealed, 0o600)
}

// Read returns the stored session. Any failure to read or unseal the file is
// reported as absent.
func (s *Store) Read() (credentials.Session, bool) {
	s.mu.Lock()
	b, err := readFile(s.path())
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Credential file unreadable, treating as signed out")
		return credentials.Session{}, false
	}
	if b == nil {
		return credentials.Session{}, false
	}

	raw, err := s.open(b)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Credential file rejected, treating as signed out")
		return credentials.Session{}, false
	}
	var session credentials.Session
	if err := json.Unmarshal(raw, &session); err != nil || !session.Valid() {
		s.logger.Warn().Err(err).Msg("Credential file malformed, treating as signed out")
		return credentials.Session{}, false
	}
	return session, true
}

// Clear removes both tokens.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) seal(raw []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return json.Marshal(blob{
		V:      formatVersion,
		Nonce:  nonce,
		Cipher: aead.Seal(nil, nonce, raw, additionalData),
	})
}

func (s *Store) open(b []byte) ([]byte, error) {
	var bl blob
	if err := json.Unmarshal(b, &bl); err != nil {
		return nil, err
	}
	if bl.V > formatVersion {
		return nil, fmt.Errorf("unsupported credential file version %d", bl.V)
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(bl.Nonce) != aead.NonceSize() {
		return nil, errUnsealFailed
	}
	pt, err := aead.Open(nil, bl.Nonce, bl.Cipher, additionalData)
	if err != nil {
		return nil, errUnsealFailed
	}
	return pt, nil
}
