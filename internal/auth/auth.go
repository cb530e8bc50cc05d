// Package auth provides the bearer token used by the remote store. Tokens come
// from the credential row in the catalog; OAuth tokens are refreshed shortly
// before they expire and the refreshed pair is written back.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/chmdznr/oss-asset-sync/internal/db"
	"github.com/chmdznr/oss-asset-sync/internal/logging"
	"github.com/chmdznr/oss-asset-sync/pkg/models"
)

// RefreshMargin is how long before expiry a token is refreshed.
const RefreshMargin = 5 * time.Minute

// ErrNotLoggedIn is returned when no credentials are stored.
var ErrNotLoggedIn = errors.New("not logged in")

// TokenSource yields a bearer token that is valid right now.
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that never changes.
type StaticToken string

func (t StaticToken) GetValidToken(context.Context) (string, error) {
	if t == "" {
		return "", ErrNotLoggedIn
	}
	return string(t), nil
}

// CredentialStore persists the single login.
type CredentialStore interface {
	GetCredentials(ctx context.Context) (*models.Credentials, error)
	SaveCredentials(ctx context.Context, cr *models.Credentials) error
}

// Source reads credentials from a CredentialStore lazily and keeps the
// resulting oauth2.TokenSource for reuse.
type Source struct {
	store  CredentialStore
	config *oauth2.Config
	log    logging.Logger

	mu      sync.Mutex
	kind    string
	ts      oauth2.TokenSource
	current string
}

// NewSource returns a Source. config supplies the OAuth client id and token
// endpoint; it may be nil when only developer tokens are used.
func NewSource(store CredentialStore, config *oauth2.Config, log logging.Logger) *Source {
	if log == nil {
		log = logging.Nop()
	}
	return &Source{store: store, config: config, log: log}
}

// GetValidToken returns the stored token, refreshing it first when it expires
// within RefreshMargin.
func (s *Source) GetValidToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ts == nil {
		if err := s.load(ctx); err != nil {
			return "", err
		}
	}

	tok, err := s.ts.Token()
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}

	if s.kind == models.CredentialOAuth && tok.AccessToken != s.current {
		s.log.Info(ctx, "access token refreshed", "expiry", tok.Expiry)
		cr := &models.Credentials{
			Type:         models.CredentialOAuth,
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
		}
		if !tok.Expiry.IsZero() {
			cr.Expiry = tok.Expiry.Unix()
		}
		if err := s.store.SaveCredentials(ctx, cr); err != nil {
			return "", fmt.Errorf("save refreshed token: %w", err)
		}
	}
	s.current = tok.AccessToken
	return tok.AccessToken, nil
}

// Reset drops the cached token source so the next call rereads the store.
func (s *Source) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ts = nil
	s.kind = ""
	s.current = ""
}

func (s *Source) load(ctx context.Context) error {
	cr, err := s.store.GetCredentials(ctx)
	if errors.Is(err, db.ErrNotFound) {
		return ErrNotLoggedIn
	}
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	tok := &oauth2.Token{
		AccessToken:  cr.AccessToken,
		RefreshToken: cr.RefreshToken,
		TokenType:    "Bearer",
	}
	if cr.Expiry > 0 {
		tok.Expiry = time.Unix(cr.Expiry, 0)
	}

	switch cr.Type {
	case models.CredentialDevToken:
		if cr.AccessToken == "" {
			return ErrNotLoggedIn
		}
		s.ts = oauth2.StaticTokenSource(tok)
	case models.CredentialOAuth:
		if s.config == nil {
			return errors.New("oauth credentials stored but no oauth client configured")
		}
		// The refresh client outlives any single call, so it gets its own context.
		base := s.config.TokenSource(context.Background(), tok)
		s.ts = oauth2.ReuseTokenSourceWithExpiry(tok, base, RefreshMargin)
	default:
		return fmt.Errorf("unknown credential type %q", cr.Type)
	}

	s.kind = cr.Type
	s.current = cr.AccessToken
	return nil
}
