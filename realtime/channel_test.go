package realtime_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jrsteele09/diet-sync/apiclient"
	"github.com/jrsteele09/diet-sync/credentials"
	apperrors "github.com/jrsteele09/diet-sync/internal/errors"
	"github.com/jrsteele09/diet-sync/internal/mockapi"
	"github.com/jrsteele09/diet-sync/messages"
	"github.com/jrsteele09/diet-sync/realtime"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second

type fixture struct {
	api     *mockapi.Server
	auth    *apiclient.AuthAPI
	store   *credentials.MemoryStore
	me      uuid.UUID
	channel *realtime.Channel

	mu       sync.Mutex
	received []messages.InboundMessage
	changes  []realtime.StateChange
}

func setupTestFixture(t *testing.T) *fixture {
	t.Helper()
	api := mockapi.New()
	me, err := api.AddUser("a@x.com", "pw", "Ada", "client")
	require.NoError(t, err)
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	f := &fixture{
		api:   api,
		auth:  apiclient.NewAuthAPI(srv.URL+mockapi.APIPrefix, wait),
		store: credentials.NewMemoryStore(),
		me:    me,
	}
	f.login(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + mockapi.APIPrefix + "/messages/ws"
	f.channel = realtime.New(wsURL, f.store, realtime.WithBackoff(10*time.Millisecond, 50*time.Millisecond))
	f.channel.Subscribe(func(m messages.InboundMessage) {
		f.mu.Lock()
		f.received = append(f.received, m)
		f.mu.Unlock()
	})
	f.channel.OnStateChange(func(c realtime.StateChange) {
		f.mu.Lock()
		f.changes = append(f.changes, c)
		f.mu.Unlock()
	})
	t.Cleanup(f.channel.Stop)
	return f
}

func (f *fixture) login(t *testing.T) credentials.Session {
	t.Helper()
	s, err := f.auth.Login(context.Background(), "a@x.com", "pw")
	require.NoError(t, err)
	require.NoError(t, f.store.Save(s))
	return s
}

// start connects and waits until the server has registered the socket.
func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.channel.Start(context.Background()))
	require.Eventually(t, func() bool { return f.api.Connections(f.me) == 1 }, wait, 5*time.Millisecond)
}

func (f *fixture) messages() []messages.InboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]messages.InboundMessage(nil), f.received...)
}

func (f *fixture) count(state realtime.State) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.changes {
		if c.State == state {
			n++
		}
	}
	return n
}

func (f *fixture) waitFor(t *testing.T, id uuid.UUID) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, m := range f.messages() {
			if m.ID == id {
				return true
			}
		}
		return false
	}, wait, 5*time.Millisecond)
}

func frame(t *testing.T, m messages.InboundMessage) []byte {
	t.Helper()
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	return raw
}

func textMessage(from, to uuid.UUID, text string) messages.InboundMessage {
	return messages.InboundMessage{
		ID:         uuid.New(),
		SenderID:   from,
		ReceiverID: to,
		Content:    &text,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestChannel_DropsDuplicateFrames(t *testing.T) {
	f := setupTestFixture(t)
	f.start(t)
	require.Equal(t, realtime.Connected, f.channel.State().State)

	peer := uuid.New()
	var sent []messages.InboundMessage
	for i := 1; i <= 15; i++ {
		m := textMessage(peer, f.me, fmt.Sprintf("m%d", i))
		sent = append(sent, m)
		f.api.PushFrame(f.me, frame(t, m))
	}
	f.api.PushFrame(f.me, frame(t, sent[6]))
	f.api.PushFrame(f.me, []byte("{not a message"))

	sentinel := textMessage(peer, f.me, "sentinel")
	f.api.PushFrame(f.me, frame(t, sentinel))
	f.waitFor(t, sentinel.ID)

	got := f.messages()
	require.Len(t, got, 16)
	for i, m := range sent {
		require.Equal(t, m.ID, got[i].ID)
	}
	require.Equal(t, realtime.Connected, f.channel.State().State)
}

func TestChannel_LocallyDeliveredMessageIsNotRepeated(t *testing.T) {
	f := setupTestFixture(t)
	f.start(t)

	peer := uuid.New()
	local := textMessage(f.me, peer, "sent directly")
	require.True(t, f.channel.Deliver(local))
	require.False(t, f.channel.Deliver(local))
	f.api.PushFrame(f.me, frame(t, local))

	sentinel := textMessage(peer, f.me, "sentinel")
	f.api.PushFrame(f.me, frame(t, sentinel))
	f.waitFor(t, sentinel.ID)

	require.Len(t, f.messages(), 1)
}

func TestChannel_SendEchoesOnce(t *testing.T) {
	f := setupTestFixture(t)
	f.start(t)

	sent, err := f.channel.SendIfConnected(messages.NewText(f.me, "note to self"))
	require.NoError(t, err)
	require.True(t, sent)

	require.Eventually(t, func() bool { return len(f.messages()) == 1 }, wait, 5*time.Millisecond)
	echo := f.messages()[0]
	require.Equal(t, "note to self", echo.Text())
	require.False(t, f.channel.Deliver(echo))
}

func TestChannel_ReconnectsOnceWithCurrentToken(t *testing.T) {
	f := setupTestFixture(t)
	f.start(t)
	require.Equal(t, 1, f.count(realtime.Connecting))

	renewed := f.login(t)
	f.api.DropConnections()

	require.Eventually(t, func() bool { return f.count(realtime.Connected) == 2 }, wait, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	require.Equal(t, 2, f.count(realtime.Connecting))
	require.Equal(t, 1, f.count(realtime.Disconnected))
	tokens := f.api.SocketTokens()
	require.Len(t, tokens, 2)
	require.Equal(t, renewed.AccessToken, tokens[1])
	require.Equal(t, realtime.Connected, f.channel.State().State)
}

func TestChannel_Unauthorized(t *testing.T) {
	t.Run("handshake refused", func(t *testing.T) {
		f := setupTestFixture(t)
		f.api.ExpireAccessTokens()

		err := f.channel.Start(context.Background())
		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
		require.True(t, f.channel.State().Unauthorized())

		time.Sleep(100 * time.Millisecond)
		require.Len(t, f.api.SocketTokens(), 1)
	})

	t.Run("policy close", func(t *testing.T) {
		f := setupTestFixture(t)
		f.start(t)

		f.api.CloseConnections(websocket.ClosePolicyViolation, "token expired")
		require.Eventually(t, func() bool { return f.channel.State().Unauthorized() }, wait, 5*time.Millisecond)

		time.Sleep(100 * time.Millisecond)
		require.Len(t, f.api.SocketTokens(), 1)
	})

	t.Run("start again after renewal", func(t *testing.T) {
		f := setupTestFixture(t)
		f.api.ExpireAccessTokens()
		require.Error(t, f.channel.Start(context.Background()))

		f.login(t)
		require.NoError(t, f.channel.Start(context.Background()))
		require.Equal(t, realtime.Connected, f.channel.State().State)
	})
}

func TestChannel_NoSession(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.store.Clear())

	err := f.channel.Start(context.Background())
	require.ErrorIs(t, err, apperrors.ErrNoSession)
	require.Equal(t, realtime.ReasonNoSession, f.channel.State().Reason)
	require.Empty(t, f.api.SocketTokens())
}

func TestChannel_Stop(t *testing.T) {
	f := setupTestFixture(t)
	f.start(t)

	f.channel.Stop()
	f.channel.Stop()

	state := f.channel.State()
	require.Equal(t, realtime.Disconnected, state.State)
	require.Equal(t, realtime.ReasonStopped, state.Reason)
	require.Eventually(t, func() bool { return f.api.Connections(f.me) == 0 }, wait, 5*time.Millisecond)

	sent, err := f.channel.SendIfConnected(messages.NewText(f.me, "hello"))
	require.NoError(t, err)
	require.False(t, sent)
	require.ErrorIs(t, f.channel.Send(messages.NewText(f.me, "hello")), apperrors.ErrNotConnected)

	time.Sleep(100 * time.Millisecond)
	require.Len(t, f.api.SocketTokens(), 1)
}

func TestChannel_StopRacingConnectEndsStopped(t *testing.T) {
	f := setupTestFixture(t)

	for i := 0; i < 25; i++ {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.channel.Start(context.Background())
		}()
		time.Sleep(time.Duration(i%5) * time.Millisecond)
		f.channel.Stop()
		wg.Wait()
		// a connect that lost the race must not report itself afterwards
		f.channel.Stop()

		f.mu.Lock()
		last := f.changes[len(f.changes)-1]
		f.mu.Unlock()
		require.Equal(t, f.channel.State(), last)
		require.Equal(t, realtime.Disconnected, last.State)
		require.Equal(t, realtime.ReasonStopped, last.Reason)
	}
}
