package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/litimahmed/universal-hub/pkg/jwtx"
	"github.com/litimahmed/universal-hub/pkg/session"
	"github.com/litimahmed/universal-hub/pkg/tokenstore"
)

func mint(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin",
		"exp": exp.Unix(),
		"iat": time.Now().Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func fresh(t *testing.T) string   { return mint(t, time.Now().Add(time.Hour)) }
func expired(t *testing.T) string { return mint(t, time.Now().Add(-time.Minute)) }

// fakeRefresher counts calls and can hold a call open until released.
type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	seen  []string
	pair  session.TokenPair
	err   error

	gate    chan struct{}
	entered chan struct{}
}

func newRefresher(pair session.TokenPair, err error) *fakeRefresher {
	return &fakeRefresher{pair: pair, err: err, entered: make(chan struct{}, 16)}
}

func (f *fakeRefresher) hold() { f.gate = make(chan struct{}) }

func (f *fakeRefresher) release() { close(f.gate) }

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (session.TokenPair, error) {
	f.mu.Lock()
	f.calls++
	f.seen = append(f.seen, refreshToken)
	gate := f.gate
	f.mu.Unlock()

	f.entered <- struct{}{}
	if gate != nil {
		<-gate
	}
	return f.pair, f.err
}

func (f *fakeRefresher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func seed(t *testing.T, s tokenstore.Store, access, refresh string) {
	t.Helper()
	if access != "" {
		require.NoError(t, s.Set(t.Context(), tokenstore.AccessKey, access))
	}
	if refresh != "" {
		require.NoError(t, s.Set(t.Context(), tokenstore.RefreshKey, refresh))
	}
}

func requireEmpty(t *testing.T, s tokenstore.Store) {
	t.Helper()
	for _, k := range tokenstore.Keys {
		_, err := s.Get(t.Context(), k)
		require.ErrorIs(t, err, tokenstore.ErrNotFound, "slot %s", k)
	}
}

func startController(t *testing.T, s tokenstore.Store, r session.Refresher, opts session.Options) *session.Controller {
	t.Helper()
	c := session.New(s, r, opts)
	c.Start(t.Context())
	t.Cleanup(c.Stop)
	return c
}

func waitPhase(t *testing.T, c *session.Controller, want session.Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Phase() == want }, 2*time.Second, 5*time.Millisecond,
		"want phase %s, have %s", want, c.Phase())
}

func TestPhaseStateMapping(t *testing.T) {
	t.Parallel()

	require.Equal(t, session.State{Loading: true}, session.PhaseUnknown.State())
	require.Equal(t, session.State{Authenticated: true}, session.PhaseAuthenticated.State())
	require.Equal(t, session.State{}, session.PhaseUnauthenticated.State())
}

func TestStart(t *testing.T) {
	t.Parallel()

	t.Run("fresh token is authenticated before validation", func(t *testing.T) {
		t.Parallel()
		store := tokenstore.NewMemory()
		seed(t, store, fresh(t), "r1")
		r := newRefresher(session.TokenPair{}, nil)

		c := session.New(store, r, session.Options{})
		require.Equal(t, session.PhaseUnknown, c.Phase())

		c.Start(t.Context())
		t.Cleanup(c.Stop)
		require.Equal(t, session.PhaseAuthenticated, c.Phase())
		require.Zero(t, r.count())
	})

	t.Run("empty store settles unauthenticated", func(t *testing.T) {
		t.Parallel()
		c := startController(t, tokenstore.NewMemory(), newRefresher(session.TokenPair{}, nil), session.Options{})
		waitPhase(t, c, session.PhaseUnauthenticated)
	})

	t.Run("expired token stays unknown while refreshing", func(t *testing.T) {
		t.Parallel()
		store := tokenstore.NewMemory()
		seed(t, store, expired(t), "r1")
		newAccess := fresh(t)
		r := newRefresher(session.TokenPair{Access: newAccess, Refresh: "r2"}, nil)
		r.hold()

		c := startController(t, store, r, session.Options{})
		<-r.entered
		require.Equal(t, session.State{Loading: true}, c.State())

		r.release()
		waitPhase(t, c, session.PhaseAuthenticated)

		got, err := store.Get(t.Context(), tokenstore.AccessKey)
		require.NoError(t, err)
		require.Equal(t, newAccess, got)
		got, err = store.Get(t.Context(), tokenstore.RefreshKey)
		require.NoError(t, err)
		require.Equal(t, "r2", got)
		require.Equal(t, []string{"r1"}, r.seen)
	})

	t.Run("unreadable store counts as signed out", func(t *testing.T) {
		t.Parallel()
		store := tokenstore.NewMemory()
		seed(t, store, fresh(t), "r1")
		store.Fail(errors.New("storage disabled"))

		c := startController(t, store, newRefresher(session.TokenPair{}, nil), session.Options{})
		waitPhase(t, c, session.PhaseUnauthenticated)
	})

	t.Run("second start is a no-op", func(t *testing.T) {
		t.Parallel()
		store := tokenstore.NewMemory()
		seed(t, store, fresh(t), "r1")

		c := startController(t, store, newRefresher(session.TokenPair{}, nil), session.Options{})
		c.Start(t.Context())
		c.Start(t.Context())
		require.Equal(t, session.PhaseAuthenticated, c.Phase())
	})
}

func TestValidateAndRefresh(t *testing.T) {
	t.Parallel()

	t.Run("refresh failure clears both tokens", func(t *testing.T) {
		t.Parallel()
		store := tokenstore.NewMemory()
		seed(t, store, expired(t), "r1")
		var outcomes []error
		r := newRefresher(session.TokenPair{}, errors.New("invalid_grant"))

		c := session.New(store, r, session.Options{OnRefresh: func(err error) { outcomes = append(outcomes, err) }})
		err := c.ValidateAndRefresh(t.Context())
		require.Error(t, err)
		require.Equal(t, session.PhaseUnauthenticated, c.Phase())
		requireEmpty(t, store)
		require.Len(t, outcomes, 1)
		require.Error(t, outcomes[0])
	})

	t.Run("missing refresh token skips the network", func(t *testing.T) {
		t.Parallel()
		store := tokenstore.NewMemory()
		seed(t, store, expired(t), "")
		r := newRefresher(session.TokenPair{}, nil)

		c := session.New(store, r, session.Options{})
		require.ErrorIs(t, c.ValidateAndRefresh(t.Context()), session.ErrNoSession)
		require.Equal(t, session.PhaseUnauthenticated, c.Phase())
		require.Zero(t, r.count())
		requireEmpty(t, store)
	})

	t.Run("malformed token is refreshed", func(t *testing.T) {
		t.Parallel()
		store := tokenstore.NewMemory()
		seed(t, store, "not-a-jwt", "r1")
		r := newRefresher(session.TokenPair{Access: fresh(t)}, nil)

		c := session.New(store, r, session.Options{})
		require.NoError(t, c.ValidateAndRefresh(t.Context()))
		require.Equal(t, session.PhaseAuthenticated, c.Phase())

		// Without rotation the old refresh token is kept.
		got, err := store.Get(t.Context(), tokenstore.RefreshKey)
		require.NoError(t, err)
		require.Equal(t, "r1", got)
	})

	t.Run("token inside skew is refreshed", func(t *testing.T) {
		t.Parallel()
		store := tokenstore.NewMemory()
		seed(t, store, mint(t, time.Now().Add(10*time.Second)), "r1")
		r := newRefresher(session.TokenPair{Access: fresh(t)}, nil)

		c := session.New(store, r, session.Options{})
		require.NoError(t, c.ValidateAndRefresh(t.Context()))
		require.Equal(t, 1, r.count())
	})

	t.Run("concurrent calls refresh once", func(t *testing.T) {
		t.Parallel()
		store := tokenstore.NewMemory()
		seed(t, store, expired(t), "r1")
		newAccess := fresh(t)
		r := newRefresher(session.TokenPair{Access: newAccess, Refresh: "r2"}, nil)
		r.hold()

		c := session.New(store, r, session.Options{})

		first := make(chan error, 1)
		go func() { first <- c.ValidateAndRefresh(t.Context()) }()
		<-r.entered

		// A second validation sees the refresh in flight and returns at
		// once with the prior state.
		require.NoError(t, c.ValidateAndRefresh(t.Context()))
		require.Equal(t, session.PhaseUnknown, c.Phase())

		r.release()
		require.NoError(t, <-first)
		tok, err := c.ValidToken(t.Context())
		require.NoError(t, err)
		require.Equal(t, newAccess, tok)
		require.Equal(t, 1, r.count())
		require.Equal(t, session.PhaseAuthenticated, c.Phase())
	})
}

func TestStaleRefreshIsDiscarded(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		err  error
	}{
		{name: "success", err: nil},
		{name: "failure", err: errors.New("boom")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store := tokenstore.NewMemory()
			seed(t, store, expired(t), "r1")
			r := newRefresher(session.TokenPair{Access: fresh(t), Refresh: "r2"}, tc.err)
			r.hold()

			c := session.New(store, r, session.Options{})
			done := make(chan error, 1)
			go func() { done <- c.ValidateAndRefresh(t.Context()) }()
			<-r.entered

			require.NoError(t, c.Logout(t.Context()))
			r.release()

			require.ErrorIs(t, <-done, session.ErrStaleRefresh)
			require.Equal(t, session.PhaseUnauthenticated, c.Phase())
			requireEmpty(t, store)
		})
	}
}

func TestStaleRefreshDoesNotClobberNewLogin(t *testing.T) {
	t.Parallel()
	store := tokenstore.NewMemory()
	seed(t, store, expired(t), "r1")
	r := newRefresher(session.TokenPair{}, errors.New("refresh token reused"))
	r.hold()

	c := session.New(store, r, session.Options{})
	done := make(chan error, 1)
	go func() { done <- c.ValidateAndRefresh(t.Context()) }()
	<-r.entered

	login := session.TokenPair{Access: fresh(t), Refresh: "r-login"}
	require.NoError(t, c.Login(t.Context(), login))
	r.release()

	require.ErrorIs(t, <-done, session.ErrStaleRefresh)
	require.Equal(t, session.PhaseAuthenticated, c.Phase())
	got, err := store.Get(t.Context(), tokenstore.RefreshKey)
	require.NoError(t, err)
	require.Equal(t, "r-login", got)
}

func TestLoginLogout(t *testing.T) {
	t.Parallel()
	store := tokenstore.NewMemory()
	c := startController(t, store, newRefresher(session.TokenPair{}, nil), session.Options{})
	waitPhase(t, c, session.PhaseUnauthenticated)

	var mu sync.Mutex
	var states []session.State
	cancel := c.Subscribe(func(s session.State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	defer cancel()

	access := fresh(t)
	require.NoError(t, c.Login(t.Context(), session.TokenPair{Access: access, Refresh: "r1"}))
	require.Equal(t, session.State{Authenticated: true}, c.State())
	tok, err := c.ValidToken(t.Context())
	require.NoError(t, err)
	require.Equal(t, access, tok)

	for range 2 {
		require.NoError(t, c.Logout(t.Context()))
		require.Equal(t, session.State{}, c.State())
		requireEmpty(t, store)
	}

	_, err = c.ValidToken(t.Context())
	require.ErrorIs(t, err, session.ErrNoSession)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []session.State{{Authenticated: true}, {}}, states)

	require.Error(t, c.Login(t.Context(), session.TokenPair{}))
}

func TestValidTokenRefreshesExpired(t *testing.T) {
	t.Parallel()
	store := tokenstore.NewMemory()
	seed(t, store, expired(t), "r1")
	newAccess := fresh(t)
	r := newRefresher(session.TokenPair{Access: newAccess, Refresh: "r2"}, nil)

	c := session.New(store, r, session.Options{})
	tok, err := c.ValidToken(t.Context())
	require.NoError(t, err)
	require.Equal(t, newAccess, tok)
	require.Equal(t, 1, r.count())

	// Refresh always goes to the network, even for a fresh token.
	_, err = c.Refresh(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, r.count())
	require.Equal(t, []string{"r1", "r2"}, r.seen)
}

func TestCrossProcessPropagation(t *testing.T) {
	t.Parallel()
	tab1 := tokenstore.NewMemory()
	tab2 := tab1.Peer()
	seed(t, tab1, fresh(t), "r1")

	c1 := startController(t, tab1, newRefresher(session.TokenPair{}, nil), session.Options{})
	c2 := startController(t, tab2, newRefresher(session.TokenPair{}, nil), session.Options{})
	require.Equal(t, session.PhaseAuthenticated, c1.Phase())
	require.Equal(t, session.PhaseAuthenticated, c2.Phase())

	require.NoError(t, c1.Logout(t.Context()))
	waitPhase(t, c2, session.PhaseUnauthenticated)

	require.NoError(t, c2.Login(t.Context(), session.TokenPair{Access: fresh(t), Refresh: "r2"}))
	waitPhase(t, c1, session.PhaseAuthenticated)

	// A raw store write counts too, and an expired token is ignored.
	require.NoError(t, tab2.Set(t.Context(), tokenstore.AccessKey, expired(t)))
	require.Equal(t, session.PhaseAuthenticated, c1.Phase())
	require.NoError(t, tab2.Remove(t.Context(), tokenstore.AccessKey))
	waitPhase(t, c1, session.PhaseUnauthenticated)
}

func TestForcedLogout(t *testing.T) {
	t.Parallel()
	store := tokenstore.NewMemory()
	seed(t, store, fresh(t), "r1")
	sig := session.NewSignal()

	c := startController(t, store, newRefresher(session.TokenPair{}, nil), session.Options{Signal: sig})
	require.Equal(t, session.PhaseAuthenticated, c.Phase())

	sig.Raise()
	require.Equal(t, session.State{}, c.State())
	requireEmpty(t, store)

	// After Stop the controller no longer listens.
	c.Stop()
	require.NoError(t, c.Login(t.Context(), session.TokenPair{Access: fresh(t)}))
	sig.Raise()
	require.Equal(t, session.PhaseAuthenticated, c.Phase())
}

// slowStore answers the first read and holds the next one until its
// context ends.
type slowStore struct {
	tokenstore.Store
	reads    atomic.Int32
	once     sync.Once
	waiting  chan struct{}
	returned atomic.Bool
}

func (s *slowStore) Get(ctx context.Context, key tokenstore.Key) (string, error) {
	if s.reads.Add(1) == 1 {
		return s.Store.Get(ctx, key)
	}
	s.once.Do(func() { close(s.waiting) })
	<-ctx.Done()
	s.returned.Store(true)
	return "", ctx.Err()
}

func TestStopWaitsForInitialValidation(t *testing.T) {
	t.Parallel()
	store := &slowStore{Store: tokenstore.NewMemory(), waiting: make(chan struct{})}

	c := session.New(store, newRefresher(session.TokenPair{}, nil), session.Options{})
	c.Start(t.Context())
	<-store.waiting

	c.Stop()
	require.True(t, store.returned.Load())
	// An interrupted read is not evidence of a missing session.
	require.Equal(t, session.PhaseUnknown, c.Phase())
}

func TestRemaining(t *testing.T) {
	t.Parallel()
	now := time.Now()
	store := tokenstore.NewMemory()
	c := session.New(store, newRefresher(session.TokenPair{}, nil), session.Options{
		Now: func() time.Time { return now },
	})

	require.Zero(t, c.Remaining(t.Context()))

	seed(t, store, mint(t, now.Add(10*time.Minute)), "")
	got := c.Remaining(t.Context())
	require.LessOrEqual(t, got, 10*time.Minute-jwtx.DefaultSkew)
	require.Greater(t, got, 10*time.Minute-jwtx.DefaultSkew-time.Second)
}

type clock struct{ now atomic.Int64 }

func (c *clock) Now() time.Time          { return time.Unix(0, c.now.Load()) }
func (c *clock) advance(d time.Duration) { c.now.Add(int64(d)) }

func TestMaintenanceRefreshesExpiredToken(t *testing.T) {
	t.Parallel()
	var clk clock
	clk.now.Store(time.Now().UnixNano())

	store := tokenstore.NewMemory()
	seed(t, store, mint(t, clk.Now().Add(10*time.Minute)), "r1")
	newAccess := mint(t, clk.Now().Add(time.Hour))
	r := newRefresher(session.TokenPair{Access: newAccess, Refresh: "r2"}, nil)

	c := startController(t, store, r, session.Options{
		MaintenanceInterval: 10 * time.Millisecond,
		Now:                 clk.Now,
	})
	require.Equal(t, session.PhaseAuthenticated, c.Phase())

	// Nothing to do while the token is good.
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, r.count())

	clk.advance(15 * time.Minute)
	require.Eventually(t, func() bool { return r.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		got, err := store.Get(t.Context(), tokenstore.AccessKey)
		return err == nil && got == newAccess
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, session.PhaseAuthenticated, c.Phase())
}

func TestSignalSubscribe(t *testing.T) {
	t.Parallel()
	sig := session.NewSignal()

	var n atomic.Int32
	cancel := sig.Subscribe(func() { n.Add(1) })
	sig.Raise()
	cancel()
	cancel()
	sig.Raise()
	require.Equal(t, int32(1), n.Load())
}
