// Package identity wraps the external identity provider: password sign-in,
// sign-out, and a stream of identity-state transitions.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fairyhunter13/storefront-console/internal/api"
	"github.com/fairyhunter13/storefront-console/internal/obs"
)

// State is one identity-state snapshot. The zero value is signed-out.
type State struct {
	SignedIn bool
	UserID   string
	Email    string
}

// Provider is the identity service surface the session manager depends on.
// Subscribe emits the current state immediately and then once per
// transition; the channel closes when ctx is done. At most one subscriber
// is active at a time.
type Provider interface {
	SignIn(ctx context.Context, email, password string) error
	SignOut(ctx context.Context) error
	Subscribe(ctx context.Context) (<-chan State, error)
}

// Sign-in failures map totally onto this fixed set; unrecognized provider
// codes fall back to ErrSignInFailed.
var (
	ErrInvalidCredentials = errors.New("Invalid email or password")
	ErrInvalidEmail       = errors.New("Invalid email format")
	ErrRateLimited        = errors.New("Too many failed attempts. Please try again later.")
	ErrSignInFailed       = errors.New("Login failed. Please try again.")

	ErrAlreadySubscribed = errors.New("identity state stream already subscribed")
)

// MapSignInError translates a provider error code into one of the fixed
// user-facing errors.
func MapSignInError(code string) error {
	switch {
	case strings.HasPrefix(code, "EMAIL_NOT_FOUND"),
		strings.HasPrefix(code, "INVALID_PASSWORD"),
		strings.HasPrefix(code, "INVALID_LOGIN_CREDENTIALS"):
		return ErrInvalidCredentials
	case strings.HasPrefix(code, "INVALID_EMAIL"):
		return ErrInvalidEmail
	case strings.HasPrefix(code, "TOO_MANY_ATTEMPTS_TRY_LATER"):
		return ErrRateLimited
	default:
		return ErrSignInFailed
	}
}

const defaultBaseURL = "https://identitytoolkit.googleapis.com"

// RestProvider implements Provider against the provider's password REST
// endpoint. One instance per session; no ambient globals.
type RestProvider struct {
	apiKey  string
	baseURL string
	hc      *http.Client

	mu  sync.Mutex
	cur State
	sub chan State
}

// NewRestProvider constructs a provider from the fetched configuration.
// baseURL overrides the provider endpoint; empty selects the default.
func NewRestProvider(cfg api.ProviderConfig, baseURL string) (*RestProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider config missing api key")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &RestProvider{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Subscribe registers the single state subscriber. The current state is
// delivered first; the channel closes when ctx ends.
func (p *RestProvider) Subscribe(ctx context.Context) (<-chan State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub != nil {
		return nil, ErrAlreadySubscribed
	}
	ch := make(chan State, 16)
	ch <- p.cur
	p.sub = ch
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		if p.sub == ch {
			p.sub = nil
		}
		p.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (p *RestProvider) publish(st State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cur = st
	if p.sub == nil {
		return
	}
	select {
	case p.sub <- st:
	default:
		obs.Logger.Warn("identity_state_dropped", "signed_in", st.SignedIn)
	}
}

// SignIn authenticates with email and password and, on success, publishes
// the signed-in state. Failures are mapped to the fixed user-facing set.
func (p *RestProvider) SignIn(ctx context.Context, email, password string) error {
	payload, err := json.Marshal(map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
	if err != nil {
		return err
	}
	u := p.baseURL + "/v1/accounts:signInWithPassword?key=" + p.apiKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.hc.Do(req)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		obs.Logger.Warn("sign_in_rejected", "code", body.Error.Message)
		return MapSignInError(body.Error.Message)
	}

	var body struct {
		IDToken string `json:"idToken"`
		Email   string `json:"email"`
		LocalID string `json:"localId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode sign-in response: %w", err)
	}
	st := State{SignedIn: true, UserID: body.LocalID, Email: body.Email}
	// Prefer the token's own claims over the response envelope.
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(body.IDToken, claims); err == nil {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			st.UserID = sub
		}
		if em, ok := claims["email"].(string); ok && em != "" {
			st.Email = em
		}
	}
	p.publish(st)
	return nil
}

// SignOut clears the identity and publishes the signed-out state.
func (p *RestProvider) SignOut(ctx context.Context) error {
	p.publish(State{})
	return nil
}
