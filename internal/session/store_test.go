package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTransient = errors.New("transport aborted")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

// fakeGateway scripts the store's collaborator per test.
type fakeGateway struct {
	mu             sync.Mutex
	currentSession func(ctx context.Context) (*Identity, error)
	fetchProfile   func(ctx context.Context, id string) (*Profile, error)
	signOutCalls   int
	changes        chan CredentialChange
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{changes: make(chan CredentialChange, 8)}
}

func (f *fakeGateway) CurrentSession(ctx context.Context) (*Identity, error) {
	f.mu.Lock()
	fn := f.currentSession
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("no stored session")
	}
	return fn(ctx)
}

func (f *fakeGateway) FetchProfile(ctx context.Context, id string) (*Profile, error) {
	f.mu.Lock()
	fn := f.fetchProfile
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, id)
}

func (f *fakeGateway) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	id := &Identity{ID: "signed-in", Email: email}
	f.changes <- CredentialChange{Identity: id}
	return id, nil
}

func (f *fakeGateway) SignUp(ctx context.Context, email, password, displayName string) (*Identity, error) {
	return f.SignIn(ctx, email, password)
}

func (f *fakeGateway) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.signOutCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeGateway) CredentialChanges() <-chan CredentialChange { return f.changes }

func (f *fakeGateway) signOuts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOutCalls
}

func runStore(t *testing.T, gw Gateway, cfg Config) (*Store, context.CancelFunc) {
	t.Helper()
	if cfg.IsTransient == nil {
		cfg.IsTransient = isTransient
	}
	store := NewStore(gw, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go store.Run(ctx)
	t.Cleanup(cancel)
	return store, cancel
}

func awaitReady(t *testing.T, s *Store) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.AwaitReady(ctx); err != nil {
		t.Fatalf("store never became ready: %v", err)
	}
	return s.Current()
}

// Scenario 1: no stored credential resolves signed out within the timeout.
func TestBootstrapNoStoredSession(t *testing.T) {
	gw := newFakeGateway()
	store, _ := runStore(t, gw, Config{})

	snap := awaitReady(t, store)
	if snap.Identity != nil || snap.Profile != nil {
		t.Fatalf("expected empty session, got %+v", snap)
	}
	if !snap.Ready {
		t.Fatal("snapshot not marked ready")
	}
}

// Scenario 2: identity and profile both resolve, and a subscriber attached
// before bootstrap observes exactly one publish event.
func TestBootstrapResolvesIdentityAndProfile(t *testing.T) {
	gw := newFakeGateway()
	release := make(chan struct{})
	gw.currentSession = func(context.Context) (*Identity, error) {
		<-release
		return &Identity{ID: "u1", Email: "sacristan@parish.test"}, nil
	}
	gw.fetchProfile = func(_ context.Context, id string) (*Profile, error) {
		return &Profile{ID: id, Role: RoleVolunteer, DisplayName: "Sam"}, nil
	}

	store := NewStore(gw, Config{IsTransient: isTransient})
	subCtx, subCancel := context.WithCancel(context.Background())
	defer subCancel()
	sub := store.Subscribe(subCtx)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Run(ctx)
	close(release)

	var first Snapshot
	select {
	case first = <-sub:
	case <-time.After(5 * time.Second):
		t.Fatal("no publish observed")
	}
	if first.Identity == nil || first.Identity.ID != "u1" {
		t.Fatalf("identity missing from first publish: %+v", first)
	}
	if first.Profile == nil || first.Profile.Role != RoleVolunteer {
		t.Fatalf("profile missing from first publish: %+v", first)
	}
	if !first.Ready {
		t.Fatal("first publish must already carry readiness")
	}

	select {
	case extra := <-sub:
		t.Fatalf("bootstrap published more than once: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

// Scenario 3: a failed profile lookup degrades to profile=nil, not fatal.
func TestBootstrapProfileFailureDegrades(t *testing.T) {
	gw := newFakeGateway()
	gw.currentSession = func(context.Context) (*Identity, error) {
		return &Identity{ID: "u1"}, nil
	}
	gw.fetchProfile = func(context.Context, string) (*Profile, error) {
		return nil, errors.New("permission denied")
	}
	store, _ := runStore(t, gw, Config{})

	snap := awaitReady(t, store)
	if snap.Identity == nil || snap.Identity.ID != "u1" {
		t.Fatalf("identity lost: %+v", snap)
	}
	if snap.Profile != nil {
		t.Fatalf("expected degraded nil profile, got %+v", snap.Profile)
	}
	if gw.signOuts() != 0 {
		t.Fatal("degraded profile must not force sign-out by default")
	}
}

// Scenario 4 / P4: the lookup retries the transient condition and uses the
// third attempt's result.
func TestLookupRetriesTransientThenSucceeds(t *testing.T) {
	gw := newFakeGateway()
	var calls int
	var callsMu sync.Mutex
	gw.currentSession = func(context.Context) (*Identity, error) {
		callsMu.Lock()
		defer callsMu.Unlock()
		calls++
		if calls < 3 {
			return nil, errTransient
		}
		return &Identity{ID: "u3"}, nil
	}
	store, _ := runStore(t, gw, Config{LookupRetryDelay: time.Millisecond})

	snap := awaitReady(t, store)
	if snap.Identity == nil || snap.Identity.ID != "u3" {
		t.Fatalf("expected third attempt's identity, got %+v", snap.Identity)
	}
	callsMu.Lock()
	defer callsMu.Unlock()
	if calls != 3 {
		t.Fatalf("expected 3 lookup calls, got %d", calls)
	}
}

// P4: the bound holds; persistent transient failure resolves signed out.
func TestLookupRetryBoundExhausted(t *testing.T) {
	gw := newFakeGateway()
	var calls int
	var callsMu sync.Mutex
	gw.currentSession = func(context.Context) (*Identity, error) {
		callsMu.Lock()
		defer callsMu.Unlock()
		calls++
		return nil, errTransient
	}
	store, _ := runStore(t, gw, Config{LookupRetryDelay: time.Millisecond})

	snap := awaitReady(t, store)
	if snap.Identity != nil {
		t.Fatalf("expected no identity, got %+v", snap.Identity)
	}
	callsMu.Lock()
	defer callsMu.Unlock()
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

// Non-transient lookup errors proceed immediately without retry.
func TestLookupNonTransientNoRetry(t *testing.T) {
	gw := newFakeGateway()
	var calls int
	var callsMu sync.Mutex
	gw.currentSession = func(context.Context) (*Identity, error) {
		callsMu.Lock()
		defer callsMu.Unlock()
		calls++
		return nil, errors.New("token revoked")
	}
	store, _ := runStore(t, gw, Config{LookupRetryDelay: time.Millisecond})

	awaitReady(t, store)
	callsMu.Lock()
	defer callsMu.Unlock()
	if calls != 1 {
		t.Fatalf("non-transient error must not retry, got %d calls", calls)
	}
}

// P1: a hung lookup still reaches Ready via the safety timer.
func TestSafetyTimerForcesReady(t *testing.T) {
	gw := newFakeGateway()
	gw.currentSession = func(ctx context.Context) (*Identity, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	store, _ := runStore(t, gw, Config{BootstrapTimeout: 50 * time.Millisecond})

	start := time.Now()
	snap := awaitReady(t, store)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("safety timer too slow: %s", elapsed)
	}
	if snap.Identity != nil || snap.Profile != nil {
		t.Fatalf("timed-out bootstrap must resolve empty, got %+v", snap)
	}
}

// Scenario 5 / P3: a sign-out during the in-flight profile fetch wins; the
// late result is discarded.
func TestSignOutDiscardsInFlightProfile(t *testing.T) {
	gw := newFakeGateway()
	fetchStarted := make(chan struct{})
	releaseFetch := make(chan struct{})
	gw.currentSession = func(context.Context) (*Identity, error) {
		return &Identity{ID: "uA"}, nil
	}
	gw.fetchProfile = func(_ context.Context, id string) (*Profile, error) {
		close(fetchStarted)
		<-releaseFetch
		return &Profile{ID: id, Role: RoleAdmin}, nil
	}
	store, _ := runStore(t, gw, Config{})

	select {
	case <-fetchStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("profile fetch never started")
	}

	if err := store.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	close(releaseFetch)

	awaitReady(t, store)
	// Give the stale publish a chance to (wrongly) land before asserting.
	time.Sleep(50 * time.Millisecond)
	snap := store.Current()
	if snap.Identity != nil || snap.Profile != nil {
		t.Fatalf("stale in-flight result overwrote sign-out: %+v", snap)
	}
}

// P5: sign-out clears local state before the remote round-trip completes.
func TestSignOutClearsSynchronously(t *testing.T) {
	gw := newFakeGateway()
	gw.currentSession = func(context.Context) (*Identity, error) {
		return &Identity{ID: "u1"}, nil
	}
	remoteRelease := make(chan struct{})
	slowGw := &slowSignOutGateway{fakeGateway: gw, release: remoteRelease}
	store, _ := runStore(t, slowGw, Config{})
	awaitReady(t, store)

	done := make(chan struct{})
	go func() {
		_ = store.SignOut(context.Background())
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if snap := store.Current(); snap.Identity == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("local state not cleared while remote sign-out pending")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(remoteRelease)
	<-done
}

type slowSignOutGateway struct {
	*fakeGateway
	release chan struct{}
}

func (g *slowSignOutGateway) SignOut(ctx context.Context) error {
	<-g.release
	return g.fakeGateway.SignOut(ctx)
}

// P6: RefreshProfile without an identity is a no-op and does not panic.
func TestRefreshProfileWithoutIdentity(t *testing.T) {
	gw := newFakeGateway()
	var fetches int
	var fetchMu sync.Mutex
	gw.fetchProfile = func(context.Context, string) (*Profile, error) {
		fetchMu.Lock()
		defer fetchMu.Unlock()
		fetches++
		return nil, nil
	}
	store, _ := runStore(t, gw, Config{})
	awaitReady(t, store)

	store.RefreshProfile(context.Background())
	fetchMu.Lock()
	defer fetchMu.Unlock()
	if fetches != 0 {
		t.Fatalf("refresh without identity must not fetch, got %d", fetches)
	}
}

// Post-Ready credential changes re-run fetch+publish, not the bounded lookup.
func TestCredentialChangeRefetchesProfile(t *testing.T) {
	gw := newFakeGateway()
	var lookups int
	var lookupMu sync.Mutex
	gw.currentSession = func(context.Context) (*Identity, error) {
		lookupMu.Lock()
		defer lookupMu.Unlock()
		lookups++
		return nil, errors.New("no stored session")
	}
	gw.fetchProfile = func(_ context.Context, id string) (*Profile, error) {
		return &Profile{ID: id, Role: RoleClergy, DisplayName: "Fr. Ben"}, nil
	}
	store, _ := runStore(t, gw, Config{})
	awaitReady(t, store)

	subCtx, subCancel := context.WithCancel(context.Background())
	defer subCancel()
	sub := store.Subscribe(subCtx)

	gw.changes <- CredentialChange{Identity: &Identity{ID: "uB", Email: "ben@parish.test"}}

	select {
	case snap := <-sub:
		if snap.Identity == nil || snap.Identity.ID != "uB" {
			t.Fatalf("identity not published: %+v", snap)
		}
		if snap.Profile == nil || snap.Profile.Role != RoleClergy {
			t.Fatalf("profile not fetched for new identity: %+v", snap)
		}
		if !snap.Ready {
			t.Fatal("readiness must persist across payload updates")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("credential change not published")
	}

	lookupMu.Lock()
	defer lookupMu.Unlock()
	if lookups != 1 {
		t.Fatalf("bounded lookup must run once at bootstrap only, got %d", lookups)
	}
}

// RequireProfile turns a definitively missing profile into a sign-out.
func TestRequireProfileForcesSignOut(t *testing.T) {
	gw := newFakeGateway()
	gw.currentSession = func(context.Context) (*Identity, error) {
		return &Identity{ID: "ghost"}, nil
	}
	gw.fetchProfile = func(context.Context, string) (*Profile, error) {
		return nil, nil
	}
	store, _ := runStore(t, gw, Config{RequireProfile: true})

	snap := awaitReady(t, store)
	if snap.Identity != nil {
		t.Fatalf("identity must be dropped when profile is required: %+v", snap)
	}
	if gw.signOuts() != 1 {
		t.Fatalf("expected one forced sign-out, got %d", gw.signOuts())
	}
}

// Teardown mid-resolve mutates nothing afterwards.
func TestTeardownDiscardsInFlightResult(t *testing.T) {
	gw := newFakeGateway()
	fetchStarted := make(chan struct{})
	releaseFetch := make(chan struct{})
	gw.currentSession = func(context.Context) (*Identity, error) {
		return &Identity{ID: "uA"}, nil
	}
	gw.fetchProfile = func(_ context.Context, id string) (*Profile, error) {
		close(fetchStarted)
		<-releaseFetch
		return &Profile{ID: id}, nil
	}
	store, cancel := runStore(t, gw, Config{})

	<-fetchStarted
	cancel()
	close(releaseFetch)
	time.Sleep(50 * time.Millisecond)

	snap := store.Current()
	if snap.Identity != nil || snap.Profile != nil || snap.Ready {
		t.Fatalf("state mutated after teardown: %+v", snap)
	}
}

// A bootstrap result that lands after the safety timer already forced
// readiness is still applied: the timer guarantees liveness, the generation
// counter alone decides whether the result is current.
func TestLateBootstrapResultApplied(t *testing.T) {
	gw := newFakeGateway()
	release := make(chan struct{})
	gw.currentSession = func(context.Context) (*Identity, error) {
		return &Identity{ID: "u1", Email: "slow@parish.test"}, nil
	}
	gw.fetchProfile = func(_ context.Context, id string) (*Profile, error) {
		<-release
		return &Profile{ID: id, Role: RoleMember, DisplayName: "Ana Reyes"}, nil
	}
	store, _ := runStore(t, gw, Config{BootstrapTimeout: 50 * time.Millisecond})

	snap := awaitReady(t, store)
	if snap.Identity != nil || snap.Profile != nil {
		t.Fatalf("timed-out bootstrap must surface empty first, got %+v", snap)
	}

	subCtx, subCancel := context.WithCancel(context.Background())
	defer subCancel()
	sub := store.Subscribe(subCtx)
	close(release)

	select {
	case snap := <-sub:
		if snap.Identity == nil || snap.Identity.ID != "u1" {
			t.Fatalf("late bootstrap result not applied: %+v", snap)
		}
		if snap.Profile == nil || snap.Profile.DisplayName != "Ana Reyes" {
			t.Fatalf("late profile not applied: %+v", snap)
		}
		if !snap.Ready {
			t.Fatal("readiness must persist when the late result lands")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("late bootstrap result never published")
	}
}
