package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fairyhunter13/storefront-console/internal/api"
	"github.com/fairyhunter13/storefront-console/internal/identity"
	"github.com/fairyhunter13/storefront-console/internal/model"
	"github.com/fairyhunter13/storefront-console/internal/state"
)

type fakeBackend struct {
	cfg       api.ProviderConfig
	cfgErr    error
	owner     bool
	verifyErr error
}

func (f *fakeBackend) FetchProviderConfig(ctx context.Context) (api.ProviderConfig, error) {
	return f.cfg, f.cfgErr
}

func (f *fakeBackend) VerifyProjectOwner(ctx context.Context, userID, projectID string) (bool, error) {
	return f.owner, f.verifyErr
}

type fakeKV struct {
	mu sync.Mutex
	m  map[string]string
}

func newFakeKV() *fakeKV { return &fakeKV{m: map[string]string{}} }

func (f *fakeKV) PutKV(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[key] = value
	return nil
}

func (f *fakeKV) DeleteKV(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.m, key)
	return nil
}

func (f *fakeKV) get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.m[key]
	return v, ok
}

type fakeProvider struct {
	mu         sync.Mutex
	states     chan identity.State
	signInErr  error
	signOutErr error
	signOuts   int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{states: make(chan identity.State, 8)}
}

func (f *fakeProvider) SignIn(ctx context.Context, email, password string) error {
	if f.signInErr != nil {
		return f.signInErr
	}
	f.states <- identity.State{SignedIn: true, UserID: "u-1", Email: email}
	return nil
}

func (f *fakeProvider) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.signOuts++
	f.mu.Unlock()
	return f.signOutErr
}

func (f *fakeProvider) Subscribe(ctx context.Context) (<-chan identity.State, error) {
	// Mirrors the real provider: the current (signed-out) state is
	// delivered first.
	f.states <- identity.State{}
	return f.states, nil
}

func factoryFor(p identity.Provider) ProviderFactory {
	return func(cfg api.ProviderConfig) (identity.Provider, error) { return p, nil }
}

func waitMode(t *testing.T, m *Manager, want model.AuthMode) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Mode() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("mode = %q, want %q", m.Mode(), want)
}

func TestInitializeConfigFetchFailureIsTerminal(t *testing.T) {
	be := &fakeBackend{cfgErr: errors.New("backend down")}
	m := New(be, newFakeKV(), factoryFor(newFakeProvider()), "proj-1")
	if err := m.Initialize(context.Background()); err == nil {
		t.Fatalf("expected initialize error")
	}
	if m.Mode() != model.ModeInitFailed {
		t.Fatalf("mode = %q, want init_failed", m.Mode())
	}
	if err := m.SignIn(context.Background(), "a@b.c", "pw"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("got %v, want ErrNotReady", err)
	}
}

func TestInitializeFactoryFailureIsTerminal(t *testing.T) {
	be := &fakeBackend{}
	factory := func(cfg api.ProviderConfig) (identity.Provider, error) {
		return nil, errors.New("sdk unavailable")
	}
	m := New(be, newFakeKV(), factory, "proj-1")
	if err := m.Initialize(context.Background()); err == nil {
		t.Fatalf("expected initialize error")
	}
	if m.Mode() != model.ModeInitFailed {
		t.Fatalf("mode = %q, want init_failed", m.Mode())
	}
}

func TestSignedOutStateYieldsUnauthenticated(t *testing.T) {
	prov := newFakeProvider()
	m := New(&fakeBackend{}, newFakeKV(), factoryFor(prov), "proj-1")
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer m.Close()

	prov.states <- identity.State{}
	waitMode(t, m, model.ModeUnauthenticated)
	if s := m.Session(); s.UserID != "" || s.Email != "" {
		t.Fatalf("identity must be cleared: %+v", s)
	}
}

func TestOwnerIsAuthorizedAndPersisted(t *testing.T) {
	prov := newFakeProvider()
	kv := newFakeKV()
	be := &fakeBackend{owner: true}
	m := New(be, kv, factoryFor(prov), "proj-1")
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer m.Close()
	waitMode(t, m, model.ModeUnauthenticated)

	if err := m.SignIn(context.Background(), "owner@shop.test", "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	waitMode(t, m, model.ModeAuthorized)

	if v, ok := kv.get(state.KeyUserID); !ok || v != "u-1" {
		t.Fatalf("user linkage not persisted: %q %v", v, ok)
	}
	if v, ok := kv.get(state.KeyProjectID); !ok || v != "proj-1" {
		t.Fatalf("project linkage not persisted: %q %v", v, ok)
	}
	s := m.Session()
	if s.Email != "owner@shop.test" || s.ProjectID != "proj-1" {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestNonOwnerIsForbidden(t *testing.T) {
	prov := newFakeProvider()
	kv := newFakeKV()
	m := New(&fakeBackend{owner: false}, kv, factoryFor(prov), "proj-1")
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer m.Close()

	prov.states <- identity.State{SignedIn: true, UserID: "u-2", Email: "other@x.test"}
	waitMode(t, m, model.ModeForbidden)
	if _, ok := kv.get(state.KeyUserID); ok {
		t.Fatalf("forbidden session must not be persisted")
	}
}

func TestVerifierFailureFallsOpen(t *testing.T) {
	prov := newFakeProvider()
	m := New(&fakeBackend{verifyErr: errors.New("verifier unreachable")}, newFakeKV(), factoryFor(prov), "proj-1")
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer m.Close()

	prov.states <- identity.State{SignedIn: true, UserID: "u-1", Email: "owner@shop.test"}
	waitMode(t, m, model.ModeAuthorized)
}

func TestSignOutAlwaysReturnsToUnauthenticated(t *testing.T) {
	prov := newFakeProvider()
	prov.signOutErr = errors.New("provider glitch")
	kv := newFakeKV()
	m := New(&fakeBackend{owner: true}, kv, factoryFor(prov), "proj-1")
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer m.Close()
	waitMode(t, m, model.ModeUnauthenticated)

	if err := m.SignIn(context.Background(), "owner@shop.test", "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	waitMode(t, m, model.ModeAuthorized)

	m.SignOut(context.Background())
	if m.Mode() != model.ModeUnauthenticated {
		t.Fatalf("mode = %q, want unauthenticated", m.Mode())
	}
	if _, ok := kv.get(state.KeyUserID); ok {
		t.Fatalf("linkage must be cleared on sign out")
	}
	prov.mu.Lock()
	defer prov.mu.Unlock()
	if prov.signOuts != 1 {
		t.Fatalf("provider sign out calls = %d", prov.signOuts)
	}
}

func TestSignInErrorsPassThrough(t *testing.T) {
	prov := newFakeProvider()
	prov.signInErr = identity.ErrInvalidCredentials
	m := New(&fakeBackend{}, newFakeKV(), factoryFor(prov), "proj-1")
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer m.Close()
	waitMode(t, m, model.ModeUnauthenticated)

	if err := m.SignIn(context.Background(), "a@b.c", "bad"); !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("got %v, want ErrInvalidCredentials", err)
	}
}
