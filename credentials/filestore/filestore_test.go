package filestore_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jrsteele09/diet-sync/credentials"
	"github.com/jrsteele09/diet-sync/credentials/filestore"
	"github.com/stretchr/testify/require"
)

const fastCost = 1 << 10

func newStore(t *testing.T, dir, secret string) *filestore.Store {
	t.Helper()
	s, err := filestore.New(dir, secret, filestore.WithScryptCost(fastCost))
	require.NoError(t, err)
	return s
}

func TestStore_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	session := credentials.Session{AccessToken: "access-1", RefreshToken: "refresh-1"}

	require.NoError(t, newStore(t, dir, "").Save(session))

	got, ok := newStore(t, dir, "").Read()
	require.True(t, ok)
	require.Equal(t, session, got)

	raw, err := os.ReadFile(filepath.Join(dir, "credentials.enc"))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "access-1")
}

func TestStore_Clear(t *testing.T) {
	s := newStore(t, t.TempDir(), "secret")
	require.NoError(t, s.Save(credentials.Session{AccessToken: "a", RefreshToken: "r"}))
	require.NoError(t, s.Clear())

	_, ok := s.Read()
	require.False(t, ok)

	t.Run("clearing twice is fine", func(t *testing.T) {
		require.NoError(t, s.Clear())
	})
}

func TestStore_FailsClosed(t *testing.T) {
	t.Run("wrong secret", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, newStore(t, dir, "right").Save(credentials.Session{AccessToken: "a", RefreshToken: "r"}))

		_, ok := newStore(t, dir, "wrong").Read()
		require.False(t, ok)
	})

	t.Run("corrupted file", func(t *testing.T) {
		dir := t.TempDir()
		s := newStore(t, dir, "secret")
		require.NoError(t, s.Save(credentials.Session{AccessToken: "a", RefreshToken: "r"}))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials.enc"), []byte(`{"v":1,"nonce":"AA==","cipher":"AA=="}`), 0o600))

		_, ok := s.Read()
		require.False(t, ok)
	})

	t.Run("not json", func(t *testing.T) {
		dir := t.TempDir()
		s := newStore(t, dir, "secret")
		require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials.enc"), []byte("garbage"), 0o600))

		_, ok := s.Read()
		require.False(t, ok)
	})
}

func TestStore_RejectsPartialSession(t *testing.T) {
	s := newStore(t, t.TempDir(), "secret")
	require.NoError(t, s.Save(credentials.Session{AccessToken: "a", RefreshToken: "r"}))

	err := s.Save(credentials.Session{RefreshToken: "r2"})
	require.ErrorIs(t, err, credentials.ErrIncompleteSession)

	got, ok := s.Read()
	require.True(t, ok)
	require.Equal(t, "a", got.AccessToken)
}

func TestStore_ConcurrentFirstRunsShareTheDeviceKey(t *testing.T) {
	for i := 0; i < 10; i++ {
		dir := t.TempDir()
		stores := make([]*filestore.Store, 4)
		errs := make([]error, len(stores))

		var wg sync.WaitGroup
		for j := range stores {
			wg.Add(1)
			go func() {
				defer wg.Done()
				stores[j], errs[j] = filestore.New(dir, "", filestore.WithScryptCost(fastCost))
			}()
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}

		session := credentials.Session{AccessToken: "a", RefreshToken: "r"}
		require.NoError(t, stores[0].Save(session))
		for _, s := range stores[1:] {
			got, ok := s.Read()
			require.True(t, ok)
			require.Equal(t, session, got)
		}
	}
}

func TestStore_KeyFileOfWrongLength(t *testing.T) {
	for _, name := range []string{"device.key", "keyring.salt"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte("short"), 0o600))

			_, err := filestore.New(dir, "", filestore.WithScryptCost(fastCost))
			require.Error(t, err)

			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			require.Equal(t, "short", string(raw))
		})
	}
}
