// Package session owns the process-wide identity state. The Store is the
// single writer of Identity/Profile; every other component either reads its
// published snapshots or goes through its mutator methods.
package session

import (
	"context"
	"sync"
	"time"

	"parishly.org/internal/obs"
	"parishly.org/internal/retry"
)

// Gateway is the slice of the remote data gateway the store depends on.
// Declared here so the store can be tested against a fake without any
// transport.
type Gateway interface {
	CurrentSession(ctx context.Context) (*Identity, error)
	FetchProfile(ctx context.Context, identityID string) (*Profile, error)
	SignIn(ctx context.Context, email, password string) (*Identity, error)
	SignUp(ctx context.Context, email, password, displayName string) (*Identity, error)
	SignOut(ctx context.Context) error
	CredentialChanges() <-chan CredentialChange
}

// Config tunes the bootstrap sequence. Zero values fall back to the
// documented defaults (10s safety timeout, 3 lookup attempts, 100ms delay).
type Config struct {
	BootstrapTimeout time.Duration
	LookupRetries    int
	LookupRetryDelay time.Duration
	// RequireProfile signs the user out when the profile row is
	// definitively absent. A failed (as opposed to empty) lookup never
	// triggers this; transient trouble must not destroy a session.
	RequireProfile bool
	// IsTransient classifies errors the bounded lookup retry may retry.
	IsTransient func(error) bool
}

func (c Config) withDefaults() Config {
	if c.BootstrapTimeout <= 0 {
		c.BootstrapTimeout = 10 * time.Second
	}
	if c.LookupRetries < 1 {
		c.LookupRetries = 3
	}
	if c.LookupRetryDelay <= 0 {
		c.LookupRetryDelay = 100 * time.Millisecond
	}
	if c.IsTransient == nil {
		c.IsTransient = func(error) bool { return false }
	}
	return c
}

// Store resolves and publishes the session. It moves Uninitialized →
// Resolving → Ready exactly once; after Ready only the payload changes.
type Store struct {
	gw  Gateway
	cfg Config

	mu       sync.Mutex
	identity *Identity
	profile  *Profile
	ready    bool
	gen      uint64
	subs     map[int]chan Snapshot
	nextSub  int

	readyCh chan struct{}
	started time.Time
}

// NewStore creates a Store in the Uninitialized state. Call Run to start
// the bootstrap.
func NewStore(gw Gateway, cfg Config) *Store {
	return &Store{
		gw:      gw,
		cfg:     cfg.withDefaults(),
		subs:    make(map[int]chan Snapshot),
		readyCh: make(chan struct{}),
	}
}

// Run starts the bootstrap sequence and the credential-change loop, then
// blocks until ctx ends. In-flight results are discarded silently after
// teardown; no state mutates once ctx is done.
func (s *Store) Run(ctx context.Context) {
	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()

	bootstrapDone := make(chan struct{})
	go func() {
		defer close(bootstrapDone)
		s.bootstrap(ctx)
	}()

	// Safety valve: the UI must never hang on a stalled network call.
	timer := time.NewTimer(s.cfg.BootstrapTimeout)
	defer timer.Stop()
	go func() {
		select {
		case <-ctx.Done():
		case <-bootstrapDone:
		case <-timer.C:
			obs.LogEvent("session.bootstrap_timeout", nil)
			s.markReady(true)
		}
	}()

	s.watchCredentials(ctx)
}

// bootstrap is the Resolving sequence: bounded session lookup, profile
// fetch, then one combined payload+Ready publish so a subscriber attached
// before start observes a single notification.
func (s *Store) bootstrap(ctx context.Context) {
	gen := s.nextGen()

	var identity *Identity
	err := retry.Do(ctx, s.cfg.LookupRetries, s.cfg.LookupRetryDelay, s.cfg.IsTransient, func(ctx context.Context) error {
		id, err := s.gw.CurrentSession(ctx)
		if err != nil {
			return err
		}
		identity = id
		return nil
	})
	if err != nil {
		// Anything that survives the retry bound, transient or not,
		// resolves as "no identity". Bootstrap never fails hard.
		identity = nil
	}

	identity, profile := s.resolve(ctx, identity)

	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		// A sign-out or sign-in superseded this resolution while the
		// profile fetch was in flight; the newer state stands. Resolving
		// still ended, so Ready must still happen.
		s.mu.Unlock()
		s.markReady(false)
		return
	}
	s.identity = cloneIdentity(identity)
	s.profile = cloneProfile(profile)
	wasReady := s.ready
	s.ready = true
	elapsed := time.Since(s.started)
	snap := s.snapshotLocked()
	s.notifyLocked(snap)
	s.mu.Unlock()

	if !wasReady {
		close(s.readyCh)
		obs.ObserveBootstrap(elapsed, false)
		obs.LogEvent("session.ready", map[string]any{
			"signed_in": snap.SignedIn(),
			"timed_out": false,
			"elapsed":   elapsed.String(),
		})
	}
}

// watchCredentials re-resolves the profile after every credential movement
// reported by the gateway. The bounded lookup of bootstrap never re-runs.
func (s *Store) watchCredentials(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-s.gw.CredentialChanges():
			if !ok {
				return
			}
			gen := s.nextGen()
			identity, profile := s.resolve(ctx, change.Identity)
			if ctx.Err() != nil {
				return
			}
			s.publish(gen, identity, profile)
		}
	}
}

// resolve makes the best-effort profile attempt that must precede any
// publish of a non-nil identity. A failed lookup degrades to a nil profile;
// a definitively missing row under RequireProfile forces sign-out, dropping
// the identity as well.
func (s *Store) resolve(ctx context.Context, identity *Identity) (*Identity, *Profile) {
	if identity == nil {
		return nil, nil
	}
	profile, err := s.gw.FetchProfile(ctx, identity.ID)
	if err != nil {
		obs.LogEvent("session.profile_degraded", map[string]any{"user_id": identity.ID, "error": err.Error()})
		return identity, nil
	}
	if profile == nil && s.cfg.RequireProfile {
		obs.LogEvent("session.profile_missing_signout", map[string]any{"user_id": identity.ID})
		_ = s.gw.SignOut(ctx)
		return nil, nil
	}
	return identity, profile
}

// nextGen stamps a new resolution attempt. Publishes carrying an older
// stamp are discarded: most recently initiated wins.
func (s *Store) nextGen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

// publish atomically replaces the session payload and notifies every
// subscriber with one complete snapshot. Stale generations are dropped.
// Notification happens under the lock (sends never block), which keeps
// publications strictly ordered across goroutines.
func (s *Store) publish(gen uint64, identity *Identity, profile *Profile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	s.identity = cloneIdentity(identity)
	s.profile = cloneProfile(profile)
	s.notifyLocked(s.snapshotLocked())
	return true
}

// markReady enters the terminal Ready state. Idempotent; only the first
// caller wins, whether that is the normal path or the safety timer.
func (s *Store) markReady(timedOut bool) {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return
	}
	s.ready = true
	elapsed := time.Since(s.started)
	snap := s.snapshotLocked()
	s.notifyLocked(snap)
	s.mu.Unlock()

	close(s.readyCh)
	obs.ObserveBootstrap(elapsed, timedOut)
	obs.LogEvent("session.ready", map[string]any{
		"signed_in": snap.SignedIn(),
		"timed_out": timedOut,
		"elapsed":   elapsed.String(),
	})
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Identity: cloneIdentity(s.identity),
		Profile:  cloneProfile(s.profile),
		Ready:    s.ready,
	}
}

func (s *Store) notifyLocked(snap Snapshot) {
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Current returns the latest published snapshot.
func (s *Store) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Ready reports whether bootstrap has completed (normally or via timeout).
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// AwaitReady blocks until the store is Ready or ctx ends.
func (s *Store) AwaitReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.readyCh:
		return nil
	}
}

// Subscribe registers a subscriber and returns a channel receiving every
// published snapshot. The channel is closed when ctx ends. Slow consumers
// miss intermediate snapshots, never partial ones.
func (s *Store) Subscribe(ctx context.Context) <-chan Snapshot {
	ch := make(chan Snapshot, 16)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		close(ch)
	}()

	return ch
}

// SignIn delegates to the gateway. The snapshot update arrives through the
// credential-change path, not through this call's return value; the error
// exists only for form-level messaging.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	_, err := s.gw.SignIn(ctx, email, password)
	return err
}

// SignUp registers a new account, same delegation pattern as SignIn.
func (s *Store) SignUp(ctx context.Context, email, password, displayName string) error {
	_, err := s.gw.SignUp(ctx, email, password, displayName)
	return err
}

// SignOut clears the local session synchronously, then revokes remotely on
// a best-effort basis. The UI reflects the logout even when the remote call
// is slow or fails.
func (s *Store) SignOut(ctx context.Context) error {
	gen := s.nextGen()
	s.publish(gen, nil, nil)
	return s.gw.SignOut(ctx)
}

// RefreshProfile re-runs the profile fetch for the current identity and
// re-publishes. A no-op without an identity.
func (s *Store) RefreshProfile(ctx context.Context) {
	s.mu.Lock()
	identity := cloneIdentity(s.identity)
	s.mu.Unlock()
	if identity == nil {
		return
	}
	gen := s.nextGen()
	identity, profile := s.resolve(ctx, identity)
	if ctx.Err() != nil {
		return
	}
	s.publish(gen, identity, profile)
}

func cloneIdentity(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}

func cloneProfile(p *Profile) *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
