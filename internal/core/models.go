package core

import (
	"errors"
	"time"
)

// Mode represents the derived device mode for one tick
type Mode string

const (
	ModeUnconfigured Mode = "unconfigured"
	ModeAwaitingAuth Mode = "awaiting_auth"
	ModeActive       Mode = "active"
	ModeErrorBackoff Mode = "error_backoff"
)

// DefaultHistoryWindow is one day of hourly rotations
const DefaultHistoryWindow = 24

// Credential holds the OAuth access/refresh token pair for the photo library
type Credential struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
	UpdatedAt    time.Time
}

// Valid reports whether the access token can be used as-is
func (c *Credential) Valid() bool {
	return c != nil && c.AccessToken != "" && time.Now().Before(c.Expiry)
}

// Refreshable reports whether the credential can be renewed without user action
func (c *Credential) Refreshable() bool {
	return c != nil && c.RefreshToken != ""
}

// ExpiresWithin reports whether the access token expires inside the given margin
func (c *Credential) ExpiresWithin(margin time.Duration) bool {
	if c == nil || c.AccessToken == "" {
		return true
	}
	return time.Now().Add(margin).After(c.Expiry)
}

// MediaItem describes one remote photo
type MediaItem struct {
	ID        string
	BaseURL   string // ephemeral download locator, expires server-side
	MimeType  string
	Filename  string
	CreatedAt time.Time
}

// Cursor marks a position in the remote listing: an opaque page token plus an
// offset into that page, so consecutive rotations walk forward through a page
// instead of re-matching its head.
type Cursor struct {
	PageToken string `json:"page_token"`
	Offset    int    `json:"offset"`
}

// RotationState is the durable selection history: the ids shown most recently
// (newest first, bounded by Window) and the listing cursor.
type RotationState struct {
	Shown  []string
	Cursor Cursor
	Window int
}

// NewRotationState creates an empty rotation state with the given history window
func NewRotationState(window int) *RotationState {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &RotationState{
		Shown:  make([]string, 0, window),
		Window: window,
	}
}

// RecentlyShown reports whether the id is inside the history window
func (r *RotationState) RecentlyShown(id string) bool {
	for _, shown := range r.Shown {
		if shown == id {
			return true
		}
	}
	return false
}

// MarkShown pushes the id to the front of the ring, evicting the oldest entry
// when the window is full
func (r *RotationState) MarkShown(id string) {
	shown := make([]string, 0, r.Window)
	shown = append(shown, id)
	for _, prev := range r.Shown {
		if prev == id {
			continue
		}
		shown = append(shown, prev)
		if len(shown) == r.Window {
			break
		}
	}
	r.Shown = shown
}

// Error taxonomy for one rotation cycle
var (
	ErrNoCredential  = errors.New("no credential stored")
	ErrAuthExpired   = errors.New("access token expired")
	ErrAuthRevoked   = errors.New("authorization revoked")
	ErrTransient     = errors.New("transient network failure")
	ErrItemUnusable  = errors.New("media item unusable")
	ErrDriverFailure = errors.New("display driver failure")
	ErrNoNewItems    = errors.New("no new items available")
)

// IsAuthError reports whether err means the credential was rejected
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrAuthRevoked)
}

// IsTransient reports whether err should trigger backoff rather than re-auth
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
