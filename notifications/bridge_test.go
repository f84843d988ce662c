package notifications_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/diet-sync/apiclient"
	"github.com/jrsteele09/diet-sync/credentials"
	apperrors "github.com/jrsteele09/diet-sync/internal/errors"
	"github.com/jrsteele09/diet-sync/internal/mockapi"
	"github.com/jrsteele09/diet-sync/notifications"
	"github.com/jrsteele09/diet-sync/renewal"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second

type fixture struct {
	api    *mockapi.Server
	exec   *apiclient.Executor
	me     uuid.UUID
	seen   *notifications.MemorySeenSet
	bridge *notifications.Bridge

	mu     sync.Mutex
	alerts []notifications.Alert
	badges []int
}

func setupTestFixture(t *testing.T, opts ...notifications.Option) *fixture {
	t.Helper()
	api := mockapi.New()
	me, err := api.AddUser("a@x.com", "pw", "Ada", "client")
	require.NoError(t, err)
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	base := srv.URL + mockapi.APIPrefix
	store := credentials.NewMemoryStore()
	auth := apiclient.NewAuthAPI(base, wait)
	session, err := auth.Login(context.Background(), "a@x.com", "pw")
	require.NoError(t, err)
	require.NoError(t, store.Save(session))

	f := &fixture{
		api:  api,
		exec: apiclient.NewExecutor(base, store, renewal.New(store, auth, wait)),
		me:   me,
		seen: notifications.NewMemorySeenSet(),
	}
	opts = append([]notifications.Option{
		notifications.WithBadge(notifications.BadgeFunc(func(n int) {
			f.mu.Lock()
			f.badges = append(f.badges, n)
			f.mu.Unlock()
		})),
	}, opts...)
	f.bridge = notifications.New(f.exec, f.seen, notifications.AlertFunc(func(_ context.Context, a notifications.Alert) error {
		f.mu.Lock()
		f.alerts = append(f.alerts, a)
		f.mu.Unlock()
		return nil
	}), opts...)
	t.Cleanup(f.bridge.StopPeriodic)
	return f
}

func (f *fixture) alertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

func (f *fixture) lastBadge() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.badges) == 0 {
		return -1
	}
	return f.badges[len(f.badges)-1]
}

func TestCheckOnce_NoRepeatAlerts(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	first := f.api.AddNotification(f.me, "Plan updated", "Your plan for next week is ready")
	second := f.api.AddNotification(f.me, "Appointment", "Tomorrow at 10:00")

	res, err := f.bridge.CheckOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Unread)
	require.ElementsMatch(t, []uuid.UUID{first.ID, second.ID}, res.Alerted)
	require.Equal(t, 2, f.lastBadge())

	res, err = f.bridge.CheckOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Unread)
	require.Empty(t, res.Alerted)
	require.Equal(t, 2, f.lastBadge())
	require.Equal(t, 2, f.alertCount())

	t.Run("alert carries title and body", func(t *testing.T) {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, a := range f.alerts {
			if a.ID == first.ID {
				require.Equal(t, "Plan updated", a.Title)
				require.Equal(t, "Your plan for next week is ready", a.Body)
			}
		}
	})
}

func TestCheckOnce_ReadItemsCountNeitherAlertNorBadge(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	read := f.api.AddNotification(f.me, "Old", "Already read")
	require.NoError(t, f.bridge.MarkRead(ctx, read.ID))
	f.api.AddNotification(f.me, "New", "Unread")

	res, err := f.bridge.CheckOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Unread)
	require.Len(t, res.Alerted, 1)
	require.NotEqual(t, read.ID, res.Alerted[0])
}

func TestCheckOnce_BadgeCountsPreviouslySeenUnread(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	n := f.api.AddNotification(f.me, "Seen elsewhere", "x")
	_, err := f.seen.Add(ctx, n.ID)
	require.NoError(t, err)

	res, err := f.bridge.CheckOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Unread)
	require.Empty(t, res.Alerted)
	require.Equal(t, 1, f.lastBadge())
}

func TestCheckOnce_OverlappingChecksAlertOnce(t *testing.T) {
	f := setupTestFixture(t)
	for i := 0; i < 5; i++ {
		f.api.AddNotification(f.me, "n", "body")
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.bridge.CheckOnce(context.Background())
		}()
	}
	wg.Wait()

	require.Equal(t, 5, f.alertCount())
	require.Equal(t, 5, f.lastBadge())
}

func TestCheckOnce_ErrorsLeaveStateAlone(t *testing.T) {
	f := setupTestFixture(t)
	f.api.AddNotification(f.me, "n", "body")
	f.api.ExpireAccessTokens()
	f.api.RevokeRefreshTokens()

	_, err := f.bridge.CheckOnce(context.Background())
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
	require.Zero(t, f.alertCount())
	require.Equal(t, -1, f.lastBadge())
}

func TestMarkAllRead(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	f.api.AddNotification(f.me, "a", "a")
	f.api.AddNotification(f.me, "b", "b")
	_, err := f.bridge.CheckOnce(ctx)
	require.NoError(t, err)

	require.NoError(t, f.bridge.MarkAllRead(ctx))
	require.Zero(t, f.lastBadge())
	for _, n := range f.api.Notifications(f.me) {
		require.True(t, n.IsRead)
	}
}

func TestRegisterPushToken(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.bridge.RegisterPushToken(context.Background(), "device token/1"))
	require.Equal(t, "device token/1", f.api.PushToken(f.me))
}

func TestResetSeen(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	f.api.AddNotification(f.me, "n", "body")
	_, err := f.bridge.CheckOnce(ctx)
	require.NoError(t, err)

	require.NoError(t, f.bridge.ResetSeen(ctx))
	res, err := f.bridge.CheckOnce(ctx)
	require.NoError(t, err)
	require.Len(t, res.Alerted, 1)
}

func TestPeriodic(t *testing.T) {
	f := setupTestFixture(t)
	f.bridge.StartPeriodic(20 * time.Millisecond)
	require.Equal(t, notifications.Foreground, f.bridge.Mode())

	require.Eventually(t, func() bool { return f.lastBadge() == 0 }, wait, 5*time.Millisecond)
	f.api.AddNotification(f.me, "late", "arrives while polling")
	require.Eventually(t, func() bool { return f.alertCount() == 1 }, wait, 5*time.Millisecond)

	f.bridge.StopPeriodic()
	require.Equal(t, notifications.Idle, f.bridge.Mode())
	time.Sleep(30 * time.Millisecond)
	f.api.AddNotification(f.me, "after stop", "never polled")
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, f.alertCount())
}

func TestForegroundBackground(t *testing.T) {
	f := setupTestFixture(t, notifications.WithIntervals(time.Hour, 30*time.Millisecond))

	f.bridge.EnterForeground()
	require.Eventually(t, func() bool { return f.lastBadge() == 0 }, wait, 5*time.Millisecond)

	f.bridge.EnterBackground()
	require.Equal(t, notifications.Background, f.bridge.Mode())
	f.api.AddNotification(f.me, "one", "1")
	require.Eventually(t, func() bool { return f.alertCount() == 1 }, wait, 5*time.Millisecond)

	// the background check re-arms itself
	f.api.AddNotification(f.me, "two", "2")
	require.Eventually(t, func() bool { return f.alertCount() == 2 }, wait, 5*time.Millisecond)

	f.bridge.EnterForeground()
	require.Equal(t, notifications.Foreground, f.bridge.Mode())
}

func TestScheduledErrorsReachHandler(t *testing.T) {
	failing := errors.New("boom")
	var calls atomic.Int32
	api := apiFunc(func(context.Context, string, string, any, any) error {
		calls.Add(1)
		return failing
	})

	errs := make(chan error, 4)
	b := notifications.New(api, notifications.NewMemorySeenSet(), notifications.LogAlerter{},
		notifications.WithErrorHandler(func(err error) { errs <- err }))
	b.StartPeriodic(time.Hour)
	t.Cleanup(b.StopPeriodic)

	select {
	case err := <-errs:
		require.ErrorIs(t, err, failing)
	case <-time.After(wait):
		t.Fatal("scheduled check did not report its error")
	}
	require.EqualValues(t, 1, calls.Load())
}

type apiFunc func(ctx context.Context, method, endpoint string, body, out any) error

func (f apiFunc) Do(ctx context.Context, method, endpoint string, body, out any) error {
	return f(ctx, method, endpoint, body, out)
}

type failingSeenSet struct {
	*notifications.MemorySeenSet
	err error
}

func (s failingSeenSet) Add(context.Context, uuid.UUID) (bool, error) {
	return false, s.err
}

func TestCheckOnce_SeenSetFailureStillSetsBadge(t *testing.T) {
	storeErr := errors.New("disk full")
	f := setupTestFixture(t)
	f.bridge = notifications.New(f.exec, failingSeenSet{MemorySeenSet: f.seen, err: storeErr},
		notifications.AlertFunc(func(context.Context, notifications.Alert) error {
			f.mu.Lock()
			f.alerts = append(f.alerts, notifications.Alert{})
			f.mu.Unlock()
			return nil
		}),
		notifications.WithBadge(notifications.BadgeFunc(func(n int) {
			f.mu.Lock()
			f.badges = append(f.badges, n)
			f.mu.Unlock()
		})))

	for i := 0; i < 3; i++ {
		f.api.AddNotification(f.me, "n", "body")
	}

	res, err := f.bridge.CheckOnce(context.Background())
	require.ErrorIs(t, err, storeErr)
	require.Equal(t, 3, res.Unread)
	require.Empty(t, res.Alerted)
	require.Zero(t, f.alertCount())
	require.Equal(t, 3, f.lastBadge())
}
