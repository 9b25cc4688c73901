// Package session owns the console authentication lifecycle: provider
// bootstrap, identity-state subscription, ownership verification, and the
// single authorization mode the rest of the console reads.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fairyhunter13/storefront-console/internal/api"
	"github.com/fairyhunter13/storefront-console/internal/identity"
	"github.com/fairyhunter13/storefront-console/internal/model"
	"github.com/fairyhunter13/storefront-console/internal/obs"
	"github.com/fairyhunter13/storefront-console/internal/state"
)

// ErrNotReady is returned for sign-in attempts before initialization
// completed or after it terminally failed.
var ErrNotReady = errors.New("session is not ready")

// Backend is the slice of the API client the manager depends on.
type Backend interface {
	FetchProviderConfig(ctx context.Context) (api.ProviderConfig, error)
	VerifyProjectOwner(ctx context.Context, userID, projectID string) (bool, error)
}

// KV is the durable store for the session linkage entries.
type KV interface {
	PutKV(key, value string) error
	DeleteKV(key string) error
}

// ProviderFactory builds the identity provider from fetched configuration.
// A factory error is the SDK-load failure class: terminal.
type ProviderFactory func(cfg api.ProviderConfig) (identity.Provider, error)

// Manager is the session state machine. One instance per console process;
// all state is held here, never in package globals.
type Manager struct {
	backend   Backend
	kv        KV
	factory   ProviderFactory
	projectID string

	mu       sync.Mutex
	mode     model.AuthMode
	userID   string
	email    string
	provider identity.Provider
	cancel   context.CancelFunc
}

// New creates a Manager in the initializing mode.
func New(backend Backend, kv KV, factory ProviderFactory, projectID string) *Manager {
	return &Manager{
		backend:   backend,
		kv:        kv,
		factory:   factory,
		projectID: projectID,
		mode:      model.ModeInitializing,
	}
}

// Initialize fetches the provider configuration, bootstraps the provider,
// and starts consuming identity-state changes. Any failure here is terminal
// until a full restart; no retry is attempted.
func (m *Manager) Initialize(ctx context.Context) error {
	cfg, err := m.backend.FetchProviderConfig(ctx)
	if err != nil {
		m.setMode(model.ModeInitFailed)
		obs.Logger.Error("provider_config_load_failed", "error", err)
		return fmt.Errorf("load provider config: %w", err)
	}
	prov, err := m.factory(cfg)
	if err != nil {
		m.setMode(model.ModeInitFailed)
		obs.Logger.Error("provider_bootstrap_failed", "error", err)
		return fmt.Errorf("bootstrap provider: %w", err)
	}

	// The subscription lives as long as the manager, not as long as the
	// Initialize call.
	runCtx, cancel := context.WithCancel(context.Background())
	states, err := prov.Subscribe(runCtx)
	if err != nil {
		cancel()
		m.setMode(model.ModeInitFailed)
		obs.Logger.Error("identity_subscribe_failed", "error", err)
		return fmt.Errorf("subscribe identity states: %w", err)
	}

	m.mu.Lock()
	m.provider = prov
	m.cancel = cancel
	m.mu.Unlock()

	go m.loop(runCtx, states)
	obs.Logger.Info("session_initialized", "project_id", m.projectID)
	return nil
}

// Close cancels the identity subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) loop(ctx context.Context, states <-chan identity.State) {
	for st := range states {
		if !st.SignedIn {
			m.mu.Lock()
			m.userID, m.email = "", ""
			m.mode = model.ModeUnauthenticated
			m.mu.Unlock()
			m.clearLinkage()
			obs.Logger.Info("session_signed_out")
			continue
		}

		m.mu.Lock()
		m.userID, m.email = st.UserID, st.Email
		m.mode = model.ModeVerifyingOwnership
		m.mu.Unlock()

		owner, err := m.backend.VerifyProjectOwner(ctx, st.UserID, m.projectID)
		switch {
		case err != nil:
			// Availability over strictness: an unreachable verifier must
			// not lock the owner out of their own store.
			obs.Logger.Warn("ownership_check_failed", "user_id", st.UserID, "error", err)
			m.authorize(st)
		case owner:
			m.authorize(st)
		default:
			m.setMode(model.ModeForbidden)
			obs.Logger.Info("session_forbidden", "user_id", st.UserID, "project_id", m.projectID)
		}
	}
}

func (m *Manager) authorize(st identity.State) {
	m.setMode(model.ModeAuthorized)
	if err := m.kv.PutKV(state.KeyUserID, st.UserID); err != nil {
		obs.Logger.Warn("session_persist_failed", "key", state.KeyUserID, "error", err)
	}
	if err := m.kv.PutKV(state.KeyProjectID, m.projectID); err != nil {
		obs.Logger.Warn("session_persist_failed", "key", state.KeyProjectID, "error", err)
	}
	obs.Logger.Info("session_authorized", "user_id", st.UserID, "project_id", m.projectID)
}

func (m *Manager) clearLinkage() {
	for _, key := range []string{state.KeyUserID, state.KeyProjectID} {
		if err := m.kv.DeleteKV(key); err != nil {
			obs.Logger.Warn("session_clear_failed", "key", key, "error", err)
		}
	}
}

// SignIn delegates to the identity provider. The returned error, if any, is
// one of the fixed user-facing identity errors, or ErrNotReady while the
// session is not usable.
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	m.mu.Lock()
	prov := m.provider
	mode := m.mode
	m.mu.Unlock()
	if prov == nil || mode == model.ModeInitializing || mode == model.ModeInitFailed {
		return ErrNotReady
	}
	return prov.SignIn(ctx, email, password)
}

// SignOut delegates to the provider and clears the durable linkage. The
// session always returns to unauthenticated, even when the provider call
// fails; that failure is logged, not surfaced.
func (m *Manager) SignOut(ctx context.Context) {
	m.mu.Lock()
	prov := m.provider
	m.mu.Unlock()
	if prov != nil {
		if err := prov.SignOut(ctx); err != nil {
			obs.Logger.Warn("provider_sign_out_failed", "error", err)
		}
	}
	m.clearLinkage()
	m.mu.Lock()
	m.userID, m.email = "", ""
	m.mode = model.ModeUnauthenticated
	m.mu.Unlock()
}

// Mode returns the current authorization mode.
func (m *Manager) Mode() model.AuthMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Session returns a read-only snapshot of the session.
func (m *Manager) Session() model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.Session{
		UserID:    m.userID,
		Email:     m.email,
		Mode:      m.mode,
		ProjectID: m.projectID,
	}
}

func (m *Manager) setMode(mode model.AuthMode) {
	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()
}
