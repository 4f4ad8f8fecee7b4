package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultRefreshMargin is how close to expiry a proactive refresh kicks in
	DefaultRefreshMargin = 5 * time.Minute

	// DefaultMaxSkips bounds consecutive unusable-item skips within one cycle
	DefaultMaxSkips = 3

	defaultBackoffBase = time.Minute
	defaultBackoffCap  = time.Hour
)

// CredentialSource interface for credential access and refresh
type CredentialSource interface {
	Load(ctx context.Context) (*Credential, error)
	RefreshIfNeeded(ctx context.Context) (*Credential, error)
	ForceRefresh(ctx context.Context) (*Credential, error)
}

// ItemSelector interface for choosing the next photo
type ItemSelector interface {
	SelectNext(ctx context.Context) (MediaItem, error)
}

// Renderer interface for committing frames to the panel
type Renderer interface {
	RenderAndCommit(ctx context.Context, item MediaItem) error
	RenderQR(ctx context.Context, url string) error
}

// Notifier interface for out-of-band owner notifications
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// MachineConfig holds tunables for the device state machine
type MachineConfig struct {
	ConfigURL     string
	RefreshMargin time.Duration
	MaxSkips      int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
}

// Machine is the device state machine. The mode is derived from the persisted
// credential on every tick; only validation and backoff bookkeeping live in
// memory, so a restart re-derives correct state.
type Machine struct {
	creds    CredentialSource
	gateway  Gateway
	selector ItemSelector
	renderer Renderer
	notifier Notifier
	config   MachineConfig
	logger   *slog.Logger

	validated     bool
	qrShown       bool
	authNotified  bool
	rejectedToken string

	failures int
	retryAt  time.Time
}

// NewMachine creates a new device state machine
func NewMachine(creds CredentialSource, gateway Gateway, selector ItemSelector, renderer Renderer, notifier Notifier, config MachineConfig, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if config.RefreshMargin <= 0 {
		config.RefreshMargin = DefaultRefreshMargin
	}
	if config.MaxSkips <= 0 {
		config.MaxSkips = DefaultMaxSkips
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = defaultBackoffBase
	}
	if config.BackoffCap <= 0 {
		config.BackoffCap = defaultBackoffCap
	}
	return &Machine{
		creds:    creds,
		gateway:  gateway,
		selector: selector,
		renderer: renderer,
		notifier: notifier,
		config:   config,
		logger:   logger,
	}
}

// Tick performs one cycle of the state machine and returns the resulting mode.
// It never panics outward and always ends in a well-defined mode.
func (m *Machine) Tick(ctx context.Context) Mode {
	cred, err := m.creds.Load(ctx)
	if err != nil && !errors.Is(err, ErrNoCredential) {
		// Durable storage unreadable: do nothing this tick rather than guess
		m.logger.Error("Failed to load credential", "error", err)
		return m.enterBackoff(err)
	}

	if cred == nil || errors.Is(err, ErrNoCredential) {
		return m.tickUnconfigured(ctx)
	}

	// A freshly written credential clears an earlier rejection
	if m.rejectedToken != "" && cred.RefreshToken != m.rejectedToken {
		m.rejectedToken = ""
	}
	if m.rejectedToken != "" && cred.RefreshToken == m.rejectedToken {
		return m.tickUnconfigured(ctx)
	}

	if !m.validated {
		return m.tickAwaitingAuth(ctx)
	}

	if m.failures > 0 && time.Now().Before(m.retryAt) {
		return ModeErrorBackoff
	}

	return m.tickActive(ctx)
}

// RetryDelay returns the remaining backoff wait, zero when none is pending
func (m *Machine) RetryDelay() time.Duration {
	if m.failures == 0 {
		return 0
	}
	delay := time.Until(m.retryAt)
	if delay < 0 {
		return 0
	}
	return delay
}

// tickUnconfigured renders the onboarding QR code once and waits for a
// credential to appear
func (m *Machine) tickUnconfigured(ctx context.Context) Mode {
	m.validated = false

	if !m.qrShown {
		m.logger.Info("No usable credential, showing configuration QR code", "url", m.config.ConfigURL)
		if err := m.renderer.RenderQR(ctx, m.config.ConfigURL); err != nil {
			// Display may not be attached yet; keep serving the config page
			m.logger.Error("Failed to render QR code", "error", err)
		} else {
			m.qrShown = true
		}
	}

	if !m.authNotified && m.notifier != nil {
		msg := fmt.Sprintf("Photo frame needs authorization. Open %s to connect your photo library.", m.config.ConfigURL)
		if err := m.notifier.Notify(ctx, msg); err != nil {
			m.logger.Warn("Failed to send authorization notice", "error", err)
		}
		m.authNotified = true
	}

	return ModeUnconfigured
}

// tickAwaitingAuth validates a freshly written credential with a lightweight
// one-item listing before trusting it
func (m *Machine) tickAwaitingAuth(ctx context.Context) Mode {
	if _, err := m.creds.RefreshIfNeeded(ctx); err != nil {
		return m.handleValidationFailure(ctx, err)
	}

	if _, _, err := m.gateway.ListRecent(ctx, "", 1); err != nil {
		return m.handleValidationFailure(ctx, err)
	}

	m.logger.Info("Credential validated, starting photo rotation")
	m.validated = true
	m.qrShown = false
	m.authNotified = false
	m.resetBackoff()
	return ModeActive
}

func (m *Machine) handleValidationFailure(ctx context.Context, err error) Mode {
	if IsAuthError(err) {
		// Corrupt or incomplete credential: back to onboarding, but the
		// stored credential is kept so a rewrite can replace it cleanly
		m.logger.Warn("Credential rejected during validation", "error", err)
		if cred, loadErr := m.creds.Load(ctx); loadErr == nil && cred != nil {
			m.rejectedToken = cred.RefreshToken
		}
		return m.tickUnconfigured(ctx)
	}
	m.logger.Warn("Credential validation inconclusive, will retry", "error", err)
	return ModeAwaitingAuth
}

// tickActive runs one rotation cycle: refresh if near expiry, select the next
// item, fetch and commit it, skipping unusable items up to the skip budget
func (m *Machine) tickActive(ctx context.Context) Mode {
	if _, err := m.creds.RefreshIfNeeded(ctx); err != nil {
		if IsAuthError(err) {
			return m.demote(err)
		}
		return m.enterBackoff(err)
	}

	retriedAuth := false

	for attempt := 0; attempt <= m.config.MaxSkips; attempt++ {
		item, err := m.selector.SelectNext(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrNoNewItems):
				m.logger.Info("Library has no displayable items yet")
				m.resetBackoff()
				return ModeActive
			case IsAuthError(err):
				if !retriedAuth && m.reauth(ctx) {
					retriedAuth = true
					continue
				}
				return m.demote(err)
			case IsTransient(err):
				return m.enterBackoff(err)
			default:
				m.logger.Error("Selection failed", "error", err)
				return m.enterBackoff(err)
			}
		}

		err = m.renderer.RenderAndCommit(ctx, item)
		switch {
		case err == nil:
			m.logger.Info("Rotation complete", "item_id", item.ID, "filename", item.Filename)
			m.resetBackoff()
			return ModeActive
		case errors.Is(err, ErrItemUnusable):
			m.logger.Warn("Skipping unusable item", "item_id", item.ID, "error", err)
			continue
		case errors.Is(err, ErrDriverFailure):
			// Fatal for this tick only; the panel keeps its previous image
			m.logger.Error("Display commit failed", "item_id", item.ID, "error", err)
			return ModeActive
		case IsAuthError(err):
			if !retriedAuth && m.reauth(ctx) {
				retriedAuth = true
				attempt--
				continue
			}
			return m.demote(err)
		case IsTransient(err):
			return m.enterBackoff(err)
		default:
			m.logger.Error("Render failed", "item_id", item.ID, "error", err)
			return m.enterBackoff(err)
		}
	}

	m.logger.Warn("Skip budget exhausted, deferring to next tick", "max_skips", m.config.MaxSkips)
	return ModeActive
}

// reauth is the reactive fallback for an auth failure despite a seemingly
// valid credential (clock skew, revoked token): refresh once and retry
func (m *Machine) reauth(ctx context.Context) bool {
	m.logger.Warn("Unexpected auth failure, forcing one refresh")
	if _, err := m.creds.ForceRefresh(ctx); err != nil {
		m.logger.Warn("Reactive refresh failed", "error", err)
		return false
	}
	return true
}

// demote drops the device back to AWAITING_AUTH after an auth failure
func (m *Machine) demote(err error) Mode {
	m.logger.Warn("Authorization lost, awaiting re-validation", "error", err)
	m.validated = false
	m.resetBackoff()
	return ModeAwaitingAuth
}

// enterBackoff records a transient failure and schedules the retry with
// exponentially increasing delay, capped
func (m *Machine) enterBackoff(err error) Mode {
	m.failures++
	delay := m.config.BackoffBase << (m.failures - 1)
	if delay > m.config.BackoffCap || delay <= 0 {
		delay = m.config.BackoffCap
	}
	m.retryAt = time.Now().Add(delay)
	m.logger.Warn("Transient failure, backing off",
		"error", err,
		"consecutive_failures", m.failures,
		"retry_in", delay.String())
	return ModeErrorBackoff
}

func (m *Machine) resetBackoff() {
	m.failures = 0
	m.retryAt = time.Time{}
}
