// Package auth implements OAuth sign-in with GitHub and Bitbucket and keeps
// signed-in sessions in memory, keyed by a random cookie value.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/bitbucket"
	"golang.org/x/oauth2/github"

	"github.com/sprite-ai/repolens/internal/config"
	"github.com/sprite-ai/repolens/internal/kv"
	"github.com/sprite-ai/repolens/internal/model"
)

const (
	stateCookie = "repolens_oauth_state"
	stateTTL    = 10 * time.Minute
)

var (
	ErrUnknownProvider = errors.New("provider not configured")
	ErrStateMismatch   = errors.New("oauth state mismatch")
)

var scopes = map[model.Provider][]string{
	model.ProviderGitHub:    {"read:user", "user:email", "repo"},
	model.ProviderBitbucket: {"account", "email", "repository"},
}

// Options configures a Manager.
type Options struct {
	BaseURL   string // public URL the provider redirects back to
	GitHub    config.OAuthApp
	Bitbucket config.OAuthApp
	Session   config.SessionConfig
	// Endpoints overrides the provider OAuth endpoints.
	Endpoints map[model.Provider]oauth2.Endpoint
}

type entry struct {
	session model.Session
	expires time.Time
}

// Manager runs the authorization-code flow and tracks sessions.
type Manager struct {
	configs  map[model.Provider]*oauth2.Config
	sessions *kv.Store[string, entry]
	cookie   string
	ttl      time.Duration
	secure   bool
	now      func() time.Time
}

// NewManager returns a Manager for every provider with client credentials.
func NewManager(opts Options) *Manager {
	m := &Manager{
		configs:  map[model.Provider]*oauth2.Config{},
		sessions: kv.New[string, entry](),
		cookie:   opts.Session.CookieName,
		ttl:      opts.Session.TTL,
		secure:   opts.Session.Secure,
		now:      time.Now,
	}
	if m.cookie == "" {
		m.cookie = "repolens_session"
	}
	if m.ttl <= 0 {
		m.ttl = 24 * time.Hour
	}

	apps := map[model.Provider]struct {
		app      config.OAuthApp
		endpoint oauth2.Endpoint
	}{
		model.ProviderGitHub:    {opts.GitHub, github.Endpoint},
		model.ProviderBitbucket: {opts.Bitbucket, bitbucket.Endpoint},
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	for p, a := range apps {
		if !a.app.Configured() {
			continue
		}
		endpoint := a.endpoint
		if e, ok := opts.Endpoints[p]; ok {
			endpoint = e
		}
		m.configs[p] = &oauth2.Config{
			ClientID:     a.app.ClientID,
			ClientSecret: a.app.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  fmt.Sprintf("%s/auth/%s/callback", base, p),
			Scopes:       scopes[p],
		}
	}
	return m
}

// Providers lists the providers users can sign in with.
func (m *Manager) Providers() []model.Provider {
	out := make([]model.Provider, 0, len(m.configs))
	for p := range m.configs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LoginURL sets a fresh state cookie and returns the provider's consent URL.
func (m *Manager) LoginURL(w http.ResponseWriter, provider model.Provider) (string, error) {
	cfg, ok := m.configs[provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth/",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return cfg.AuthCodeURL(state), nil
}

// Exchange verifies the callback state and trades the code for a token.
func (m *Manager) Exchange(ctx context.Context, w http.ResponseWriter, r *http.Request, provider model.Provider) (model.Session, error) {
	cfg, ok := m.configs[provider]
	if !ok {
		return model.Session{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	c, err := r.Cookie(stateCookie)
	state := r.URL.Query().Get("state")
	if err != nil || state == "" || c.Value != state {
		return model.Session{}, ErrStateMismatch
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/auth/", MaxAge: -1})

	if msg := r.URL.Query().Get("error"); msg != "" {
		return model.Session{}, fmt.Errorf("authorization denied: %s", msg)
	}

	tok, err := cfg.Exchange(ctx, r.URL.Query().Get("code"))
	if err != nil {
		return model.Session{}, fmt.Errorf("exchange code: %w", err)
	}
	return model.Session{Provider: provider, AccessToken: tok.AccessToken}, nil
}

// Start stores s under a new id and sets the session cookie.
func (m *Manager) Start(w http.ResponseWriter, s model.Session) string {
	id := uuid.NewString()
	m.sessions.Set(id, entry{session: s, expires: m.now().Add(m.ttl)})
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// Lookup returns the live session named by the request's cookie.
func (m *Manager) Lookup(r *http.Request) (model.Session, bool) {
	c, err := r.Cookie(m.cookie)
	if err != nil {
		return model.Session{}, false
	}
	e, ok := m.sessions.Get(c.Value)
	if !ok {
		return model.Session{}, false
	}
	if m.now().After(e.expires) {
		m.sessions.Delete(c.Value)
		return model.Session{}, false
	}
	return e.session, true
}

// End forgets the request's session, clears the cookie and returns the
// session that was ended.
func (m *Manager) End(w http.ResponseWriter, r *http.Request) (model.Session, bool) {
	var (
		e  entry
		ok bool
	)
	if c, err := r.Cookie(m.cookie); err == nil {
		e, ok = m.sessions.Take(c.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: m.cookie, Path: "/", MaxAge: -1})
	return e.session, ok
}

// Active returns the number of stored sessions, expired ones included until
// the next Sweep.
func (m *Manager) Active() int {
	return m.sessions.Len()
}

// Sweep drops expired sessions and reports how many were removed.
func (m *Manager) Sweep() int {
	now := m.now()
	return m.sessions.DeleteFunc(func(_ string, e entry) bool {
		return now.After(e.expires)
	})
}
