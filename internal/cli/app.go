// Package cli is an interactive shell over the session store, mainly for
// exercising a provider set end-to-end during development.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/apexkit/backend/internal/auth/hosted"
	"github.com/apexkit/backend/internal/auth/mock"
	"github.com/apexkit/backend/internal/config"
	"github.com/apexkit/backend/internal/kvstore"
	"github.com/apexkit/backend/internal/logging"
	"github.com/apexkit/backend/internal/session"
)

// App wires the configured provider set behind a session store and drives
// it from a REPL.
type App struct {
	config *config.Config
	store  *session.Store
	kv     kvstore.Store
	reader *bufio.Reader
}

// NewApp opens the durable store and constructs the provider selected by
// the configuration.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	kv, err := kvstore.OpenSQLite(ctx, cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open key-value store: %w", err)
	}

	log := logging.NewDefault()

	var store *session.Store
	switch cfg.Provider {
	case config.ProviderHosted:
		svc := hosted.New(cfg.IdentityURL, cfg.RedirectURI, kv, &autoBrowser{}, log)
		store = session.NewStore(svc, kv, log)
	default:
		store = session.NewStore(mock.New(kv, log), kv, log)
	}

	return &App{
		config: cfg,
		store:  store,
		kv:     kv,
		reader: bufio.NewReader(os.Stdin),
	}, nil
}

// Run rehydrates persisted state and enters the REPL.
func (a *App) Run(ctx context.Context) error {
	defer a.kv.Close()

	if err := a.store.Load(ctx); err != nil {
		return err
	}
	if err := a.store.CheckAuth(ctx); err != nil {
		return err
	}

	runREPL(ctx, a, a.status, bufio.NewScanner(os.Stdin))
	return nil
}

func (a *App) status() string {
	state := a.store.State()
	if state.User != nil {
		return state.User.Email
	}
	return "signed out"
}

func (a *App) isLoggedIn() bool {
	return a.store.State().IsAuthenticated
}

// autoBrowser completes the OAuth redirect without a real browser by
// fetching the authorization URL directly. Works against the development
// identity server, which approves consent on sight.
type autoBrowser struct{}

func (b *autoBrowser) OpenAuthSession(ctx context.Context, authURL, redirectURI string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return err
	}

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusFound && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authorization endpoint returned %s", resp.Status)
	}
	return nil
}
