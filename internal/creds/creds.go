package creds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"inkframe/internal/core"

	"golang.org/x/oauth2"
)

// Storage interface for durable credential persistence
type Storage interface {
	GetCredential(ctx context.Context) (*core.Credential, error)
	SaveCredential(ctx context.Context, cred *core.Credential) error
}

// Store mediates between durable credential storage and the OAuth provider.
// The configuration webapp writes through Save after the consent flow; the
// rotation loop reads through Load and refreshes through RefreshIfNeeded.
type Store struct {
	storage Storage
	oauth   *oauth2.Config
	margin  time.Duration
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewStore creates a new credential store
func NewStore(storage Storage, oauth *oauth2.Config, margin time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if margin <= 0 {
		margin = core.DefaultRefreshMargin
	}
	return &Store{
		storage: storage,
		oauth:   oauth,
		margin:  margin,
		logger:  logger,
	}
}

// Load returns the stored credential, core.ErrNoCredential when absent
func (s *Store) Load(ctx context.Context) (*core.Credential, error) {
	return s.storage.GetCredential(ctx)
}

// Save persists the credential
func (s *Store) Save(ctx context.Context, cred *core.Credential) error {
	return s.storage.SaveCredential(ctx, cred)
}

// SaveToken converts and persists a token obtained from the consent flow
func (s *Store) SaveToken(ctx context.Context, token *oauth2.Token) error {
	return s.Save(ctx, &core.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	})
}

// RefreshIfNeeded refreshes the credential when its expiry is inside the
// safety margin. A credential with plenty of life left makes no network call.
func (s *Store) RefreshIfNeeded(ctx context.Context) (*core.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.storage.GetCredential(ctx)
	if err != nil {
		return nil, err
	}

	if !cred.ExpiresWithin(s.margin) {
		return cred, nil
	}

	if !cred.Refreshable() {
		if cred.Valid() {
			// Short-lived credential without a refresh token: usable until
			// it actually expires
			return cred, nil
		}
		return nil, core.ErrAuthExpired
	}

	return s.refresh(ctx, cred)
}

// ForceRefresh refreshes regardless of expiry. This is the reactive fallback
// for an auth failure despite a seemingly valid credential.
func (s *Store) ForceRefresh(ctx context.Context) (*core.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.storage.GetCredential(ctx)
	if err != nil {
		return nil, err
	}
	if !cred.Refreshable() {
		return nil, core.ErrAuthExpired
	}
	return s.refresh(ctx, cred)
}

// AccessToken returns a usable access token, refreshing first when needed
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	cred, err := s.RefreshIfNeeded(ctx)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// refresh exchanges the refresh token for a new access token and persists the
// result. The stored credential is never discarded on failure; refresh errors
// are classified so the state machine can retry or re-authorize.
func (s *Store) refresh(ctx context.Context, cred *core.Credential) (*core.Credential, error) {
	source := s.oauth.TokenSource(ctx, &oauth2.Token{
		RefreshToken: cred.RefreshToken,
	})

	token, err := source.Token()
	if err != nil {
		return nil, classifyRefreshError(err)
	}

	refreshed := &core.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
	if refreshed.RefreshToken == "" {
		// Providers often omit the refresh token on renewal; keep the old one
		refreshed.RefreshToken = cred.RefreshToken
	}

	if err := s.storage.SaveCredential(ctx, refreshed); err != nil {
		// The fresh token still works in memory for this cycle
		s.logger.Warn("Failed to persist refreshed credential", "error", err)
	}

	s.logger.Info("Access token refreshed", "expiry", refreshed.Expiry)
	return refreshed, nil
}

// classifyRefreshError maps provider and network errors onto the core taxonomy
func classifyRefreshError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		code := retrieveErr.Response.StatusCode
		if code >= 400 && code < 500 && code != 429 {
			// invalid_grant and friends: the refresh token itself was rejected
			return fmt.Errorf("%w: %v", core.ErrAuthRevoked, err)
		}
		return fmt.Errorf("%w: %v", core.ErrTransient, err)
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %v", core.ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", core.ErrTransient, err)
}
