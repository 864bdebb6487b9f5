// Package session owns the client side of an authenticated session: which
// tokens are stored, whether they are still good, and when to refresh or
// drop them.
//
// One Controller exists per process. It derives its state from a
// tokenstore.Store, keeps it current as other processes change the store,
// and tells subscribers about every transition.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/litimahmed/universal-hub/pkg/jwtx"
	"github.com/litimahmed/universal-hub/pkg/slogx"
	"github.com/litimahmed/universal-hub/pkg/tokenstore"
)

// DefaultMaintenanceInterval is how often the background loop looks for an
// expired access token.
const DefaultMaintenanceInterval = 2 * time.Minute

var (
	// ErrNoSession is returned when there is no token to use or refresh with.
	ErrNoSession = errors.New("session: no session")

	// ErrStaleRefresh is returned by a refresh that finished after the
	// session it started from was replaced or ended. Its result was dropped.
	ErrStaleRefresh = errors.New("session: refresh result discarded")
)

// TokenPair is what login and refresh hand back. Refresh may be empty when
// the server does not rotate refresh tokens.
type TokenPair struct {
	Access  string
	Refresh string
}

// Refresher exchanges a refresh token for new tokens.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (TokenPair, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	return f(ctx, refreshToken)
}

type Options struct {
	// Skew is the early-expiry margin. Zero selects jwtx.DefaultSkew,
	// negative disables it.
	Skew time.Duration

	// MaintenanceInterval defaults to DefaultMaintenanceInterval.
	MaintenanceInterval time.Duration

	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time

	// Signal, when set, triggers a forced logout each time it is raised.
	Signal *Signal

	// OnRefresh is told the outcome of every refresh call that reached the
	// Refresher.
	OnRefresh func(err error)
}

type Controller struct {
	store     tokenstore.Store
	refresher Refresher
	inspector jwtx.Inspector
	logger    *slog.Logger
	signal    *Signal
	interval  time.Duration
	onRefresh func(error)

	// writeMu serialises this controller's store writes. mu guards phase
	// and gen and is never held across store calls, because stores may
	// notify other controllers synchronously.
	writeMu sync.Mutex
	mu      sync.Mutex
	phase   Phase
	gen     uint64

	listeners hub[State]

	inFlight atomic.Bool
	flight   singleflight.Group

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	cancels   []func()
	stopRun   context.CancelFunc
	initial   sync.WaitGroup
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func New(store tokenstore.Store, refresher Refresher, opts Options) *Controller {
	skew := opts.Skew
	switch {
	case skew == 0:
		skew = jwtx.DefaultSkew
	case skew < 0:
		skew = 0
	}

	interval := opts.MaintenanceInterval
	if interval <= 0 {
		interval = DefaultMaintenanceInterval
	}

	logger := opts.Logger
	if logger == nil {
		logger = slogx.Discard()
	}

	return &Controller{
		store:     store,
		refresher: refresher,
		inspector: jwtx.Inspector{Skew: skew, Now: opts.Now},
		logger:    logger,
		signal:    opts.Signal,
		interval:  interval,
		onRefresh: opts.OnRefresh,
		phase:     PhaseUnknown,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start activates the controller. Only the first call has any effect.
//
// A stored access token that is still fresh makes the controller
// Authenticated before Start returns; otherwise it stays Unknown until the
// asynchronous validation settles it.
func (c *Controller) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		gen := c.generation()
		if access, ok := c.read(ctx, tokenstore.AccessKey); ok && !c.inspector.IsExpired(access) {
			c.settle(gen, PhaseAuthenticated)
		}

		cancels := []func(){c.store.Subscribe(c.onStoreChange)}
		if c.signal != nil {
			cancels = append(cancels, c.signal.Subscribe(c.onRevoked))
		}

		runCtx, stopRun := context.WithCancel(ctx)

		c.mu.Lock()
		c.started = true
		c.cancels = cancels
		c.stopRun = stopRun
		c.mu.Unlock()

		c.initial.Add(1)
		go func() {
			defer c.initial.Done()
			if err := c.ValidateAndRefresh(runCtx); err != nil {
				c.logger.Debug("initial session validation failed", "error", err)
			}
		}()
		go c.maintain(runCtx)
	})
}

// Stop ends the maintenance loop and drops every subscription. A stopped
// controller cannot be started again.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.startOnce.Do(func() {})
		close(c.stopCh)

		c.mu.Lock()
		cancels, started, stopRun := c.cancels, c.started, c.stopRun
		c.cancels = nil
		c.mu.Unlock()

		for _, cancel := range cancels {
			cancel()
		}
		if started {
			stopRun()
			c.initial.Wait()
			<-c.doneCh
		}
	})
}

func (c *Controller) State() State { return c.Phase().State() }

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Subscribe registers fn for every state transition.
func (c *Controller) Subscribe(fn func(State)) (cancel func()) {
	return c.listeners.add(fn)
}

// ValidateAndRefresh re-derives the session from the store, refreshing an
// expired access token. It does nothing while a refresh is already running.
func (c *Controller) ValidateAndRefresh(ctx context.Context) error {
	if c.inFlight.Load() {
		return nil
	}

	gen := c.generation()
	access, ok := c.read(ctx, tokenstore.AccessKey)
	if !ok {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.settle(gen, PhaseUnauthenticated)
		return nil
	}
	if !c.inspector.IsExpired(access) {
		c.settle(gen, PhaseAuthenticated)
		return nil
	}

	_, err := c.refresh(ctx, false)
	return err
}

// Refresh forces a token refresh and returns the new access token. Callers
// arriving while one is in flight share its result.
func (c *Controller) Refresh(ctx context.Context) (string, error) {
	return c.refresh(ctx, true)
}

// ValidToken returns an access token that is not expired, refreshing first
// if needed.
func (c *Controller) ValidToken(ctx context.Context) (string, error) {
	access, ok := c.read(ctx, tokenstore.AccessKey)
	if !ok {
		return "", ErrNoSession
	}
	if !c.inspector.IsExpired(access) {
		return access, nil
	}
	return c.refresh(ctx, false)
}

// Remaining is how long the stored access token stays usable, or zero when
// there is none.
func (c *Controller) Remaining(ctx context.Context) time.Duration {
	access, ok := c.read(ctx, tokenstore.AccessKey)
	if !ok {
		return 0
	}
	return c.inspector.Remaining(access)
}

// Login stores a freshly issued pair and marks the session authenticated
// without inspecting it.
func (c *Controller) Login(ctx context.Context, pair TokenPair) error {
	if pair.Access == "" {
		return fmt.Errorf("session: login: %w", ErrNoSession)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	gen := c.bump()
	err := c.store.Set(ctx, tokenstore.AccessKey, pair.Access)
	if err == nil {
		if pair.Refresh != "" {
			err = c.store.Set(ctx, tokenstore.RefreshKey, pair.Refresh)
		} else {
			err = c.store.Remove(ctx, tokenstore.RefreshKey)
		}
	}
	if err != nil {
		_ = tokenstore.Clear(ctx, c.store)
		c.settle(gen, PhaseUnauthenticated)
		return fmt.Errorf("session: login: %w", err)
	}

	c.settle(gen, PhaseAuthenticated)
	return nil
}

// Logout clears both tokens and ends the session. It always leaves the
// controller Unauthenticated; the error only reports a store failure.
func (c *Controller) Logout(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	gen := c.bump()
	err := tokenstore.Clear(ctx, c.store)
	c.settle(gen, PhaseUnauthenticated)
	if err != nil {
		return fmt.Errorf("session: logout: %w", err)
	}
	return nil
}

func (c *Controller) refresh(ctx context.Context, force bool) (string, error) {
	// The refresh outlives any single caller; logout is what ends it.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan("refresh", func() (any, error) {
		return c.runRefresh(flightCtx, force)
	})

	select {
	case res := <-ch:
		token, _ := res.Val.(string)
		return token, res.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Controller) runRefresh(ctx context.Context, force bool) (string, error) {
	c.inFlight.Store(true)
	defer c.inFlight.Store(false)

	gen := c.generation()
	if !force {
		// Someone may have refreshed between the caller's check and now.
		if access, ok := c.read(ctx, tokenstore.AccessKey); ok && !c.inspector.IsExpired(access) {
			c.settle(gen, PhaseAuthenticated)
			return access, nil
		}
	}

	refreshToken, ok := c.read(ctx, tokenstore.RefreshKey)
	if !ok {
		if !c.fail(ctx, gen) {
			return "", ErrStaleRefresh
		}
		return "", ErrNoSession
	}

	pair, err := c.refresher.Refresh(ctx, refreshToken)
	if c.onRefresh != nil {
		c.onRefresh(err)
	}
	if err != nil {
		if !c.fail(ctx, gen) {
			c.logger.Debug("discarding failed refresh for ended session", "error", err)
			return "", ErrStaleRefresh
		}
		c.logger.Warn("session refresh failed, signing out", "error", err)
		return "", fmt.Errorf("session: refresh: %w", err)
	}

	return c.commit(ctx, gen, pair)
}

// commit stores a refresh result if the session it came from is still the
// current one.
func (c *Controller) commit(ctx context.Context, gen uint64, pair TokenPair) (string, error) {
	if pair.Access == "" {
		if !c.fail(ctx, gen) {
			return "", ErrStaleRefresh
		}
		return "", fmt.Errorf("session: refresh: empty access token")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.generation() != gen {
		c.logger.Debug("discarding refresh for ended session")
		return "", ErrStaleRefresh
	}

	err := c.store.Set(ctx, tokenstore.AccessKey, pair.Access)
	if err == nil && pair.Refresh != "" {
		err = c.store.Set(ctx, tokenstore.RefreshKey, pair.Refresh)
	}
	if err != nil {
		next := c.bump()
		_ = tokenstore.Clear(ctx, c.store)
		c.settle(next, PhaseUnauthenticated)
		return "", fmt.Errorf("session: store refreshed tokens: %w", err)
	}

	c.settle(gen, PhaseAuthenticated)
	return pair.Access, nil
}

// fail clears the session unless gen is stale. It reports whether it did.
func (c *Controller) fail(ctx context.Context, gen uint64) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}
	c.gen++
	next := c.gen
	c.mu.Unlock()

	if err := tokenstore.Clear(ctx, c.store); err != nil {
		c.logger.Warn("failed to clear token store", "error", err)
	}
	c.settle(next, PhaseUnauthenticated)
	return true
}

// settle moves to p unless the session changed since gen was read.
func (c *Controller) settle(gen uint64, p Phase) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	notify := c.setPhaseLocked(p)
	c.mu.Unlock()

	notify()
}

func (c *Controller) setPhaseLocked(p Phase) (notify func()) {
	if c.phase == p {
		return func() {}
	}
	from := c.phase
	c.phase = p
	c.logger.Debug("session transition", "from", from.String(), "to", p.String())

	st := p.State()
	return func() { c.listeners.emit(st) }
}

// bump starts a new generation and returns it.
func (c *Controller) bump() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	return c.gen
}

func (c *Controller) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// read returns a stored slot. A store that cannot be read counts as empty.
func (c *Controller) read(ctx context.Context, key tokenstore.Key) (string, bool) {
	v, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, tokenstore.ErrNotFound) && ctx.Err() == nil {
			c.logger.Warn("token store read failed", "key", string(key), "error", err)
		}
		return "", false
	}
	return v, v != ""
}

// onStoreChange reacts to writes made by other processes sharing the store.
func (c *Controller) onStoreChange(ch tokenstore.Change) {
	if ch.Key != tokenstore.AccessKey {
		return
	}

	switch {
	case ch.Removed || ch.Value == "":
		c.external(PhaseUnauthenticated)
	case !c.inspector.IsExpired(ch.Value):
		c.external(PhaseAuthenticated)
	}
}

// external applies a transition caused elsewhere. It starts a new
// generation so an in-flight refresh cannot overwrite it.
func (c *Controller) external(p Phase) {
	c.mu.Lock()
	c.gen++
	notify := c.setPhaseLocked(p)
	c.mu.Unlock()

	c.logger.Debug("session changed in another process", "phase", p.String())
	notify()
}

func (c *Controller) onRevoked() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.logger.Info("session revoked, signing out")
	if err := c.Logout(ctx); err != nil {
		c.logger.Warn("forced logout could not clear tokens", "error", err)
	}
}
