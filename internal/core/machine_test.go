package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock implementations

type stubCreds struct {
	cred         *Credential
	loadErr      error
	refreshErr   error
	forceErr     error
	refreshCalls int
	forceCalls   int
}

func (s *stubCreds) Load(ctx context.Context) (*Credential, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.cred == nil {
		return nil, ErrNoCredential
	}
	return s.cred, nil
}

func (s *stubCreds) RefreshIfNeeded(ctx context.Context) (*Credential, error) {
	s.refreshCalls++
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	return s.cred, nil
}

func (s *stubCreds) ForceRefresh(ctx context.Context) (*Credential, error) {
	s.forceCalls++
	if s.forceErr != nil {
		return nil, s.forceErr
	}
	return s.cred, nil
}

type stubSelector struct {
	item  MediaItem
	err   error
	calls int
}

func (s *stubSelector) SelectNext(ctx context.Context) (MediaItem, error) {
	s.calls++
	if s.err != nil {
		return MediaItem{}, s.err
	}
	return s.item, nil
}

type stubRenderer struct {
	commitErrs []error
	commits    int
	qrCalls    int
}

func (s *stubRenderer) RenderAndCommit(ctx context.Context, item MediaItem) error {
	s.commits++
	if len(s.commitErrs) == 0 {
		return nil
	}
	err := s.commitErrs[0]
	s.commitErrs = s.commitErrs[1:]
	return err
}

func (s *stubRenderer) RenderQR(ctx context.Context, url string) error {
	s.qrCalls++
	return nil
}

type stubNotifier struct {
	messages []string
}

func (s *stubNotifier) Notify(ctx context.Context, message string) error {
	s.messages = append(s.messages, message)
	return nil
}

func validCredential() *Credential {
	return &Credential{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour),
	}
}

func newTestMachine(creds *stubCreds, gateway Gateway, selector *stubSelector, renderer *stubRenderer, notifier Notifier) *Machine {
	return NewMachine(creds, gateway, selector, renderer, notifier, MachineConfig{
		ConfigURL: "http://192.168.1.10:5000",
	}, nil)
}

func TestMachine_UnconfiguredRendersQROnce(t *testing.T) {
	creds := &stubCreds{}
	renderer := &stubRenderer{}
	notifier := &stubNotifier{}
	m := newTestMachine(creds, &pagedGateway{}, &stubSelector{}, renderer, notifier)

	for i := 0; i < 3; i++ {
		mode := m.Tick(context.Background())
		assert.Equal(t, ModeUnconfigured, mode)
	}

	assert.Equal(t, 1, renderer.qrCalls, "QR rendered once, not on every tick")
	assert.Len(t, notifier.messages, 1, "owner notified once")
}

func TestMachine_RestartWithValidCredentialResumesActive(t *testing.T) {
	creds := &stubCreds{cred: validCredential()}
	gateway := &pagedGateway{items: libraryOf("a")}
	selector := &stubSelector{item: MediaItem{ID: "a"}}
	renderer := &stubRenderer{}
	m := newTestMachine(creds, gateway, selector, renderer, nil)

	// First tick after restart validates the persisted credential and comes
	// up active without touching the QR code
	mode := m.Tick(context.Background())
	assert.Equal(t, ModeActive, mode)
	assert.Equal(t, 0, renderer.qrCalls)

	// Next tick performs a full rotation
	mode = m.Tick(context.Background())
	assert.Equal(t, ModeActive, mode)
	assert.Equal(t, 1, renderer.commits)
}

func TestMachine_AuthErrorDuringRotationDemotes(t *testing.T) {
	creds := &stubCreds{cred: validCredential(), forceErr: ErrAuthRevoked}
	gateway := &pagedGateway{items: libraryOf("a")}
	selector := &stubSelector{item: MediaItem{ID: "a"}}
	renderer := &stubRenderer{commitErrs: []error{ErrAuthExpired}}
	m := newTestMachine(creds, gateway, selector, renderer, nil)

	require.Equal(t, ModeActive, m.Tick(context.Background()))

	// One rotation with an auth-failing download demotes exactly once
	mode := m.Tick(context.Background())
	assert.Equal(t, ModeAwaitingAuth, mode)
	assert.Equal(t, 1, creds.forceCalls, "reactive refresh attempted before demoting")
	assert.Equal(t, 1, renderer.commits)
}

func TestMachine_ReactiveRefreshRetriesOnce(t *testing.T) {
	creds := &stubCreds{cred: validCredential()}
	gateway := &pagedGateway{items: libraryOf("a")}
	selector := &stubSelector{item: MediaItem{ID: "a"}}
	renderer := &stubRenderer{commitErrs: []error{ErrAuthExpired, nil}}
	m := newTestMachine(creds, gateway, selector, renderer, nil)

	require.Equal(t, ModeActive, m.Tick(context.Background()))

	mode := m.Tick(context.Background())
	assert.Equal(t, ModeActive, mode)
	assert.Equal(t, 1, creds.forceCalls)
	assert.Equal(t, 2, renderer.commits, "commit retried after the forced refresh")
}

func TestMachine_TransientFailureBacksOffIncreasingly(t *testing.T) {
	creds := &stubCreds{cred: validCredential()}
	gateway := &pagedGateway{items: libraryOf("a")}
	selector := &stubSelector{err: ErrTransient}
	renderer := &stubRenderer{}
	m := NewMachine(creds, gateway, selector, renderer, nil, MachineConfig{
		ConfigURL:   "http://192.168.1.10:5000",
		BackoffBase: time.Minute,
		BackoffCap:  4 * time.Minute,
	}, nil)

	require.Equal(t, ModeActive, m.Tick(context.Background()))

	var prev time.Duration
	for i, want := range []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute, 4 * time.Minute} {
		mode := m.Tick(context.Background())
		assert.Equal(t, ModeErrorBackoff, mode)

		delay := m.RetryDelay()
		assert.InDelta(t, want.Seconds(), delay.Seconds(), 1.0, "failure %d", i+1)
		if i > 0 && want < 4*time.Minute {
			assert.Greater(t, delay, prev, "delay must strictly increase until the cap")
		}
		prev = delay

		// Let the backoff elapse so the next tick retries
		m.retryAt = time.Now().Add(-time.Second)
	}
}

func TestMachine_BackoffWaitsOutTheDelay(t *testing.T) {
	creds := &stubCreds{cred: validCredential()}
	gateway := &pagedGateway{items: libraryOf("a")}
	selector := &stubSelector{err: ErrTransient}
	m := newTestMachine(creds, gateway, selector, &stubRenderer{}, nil)

	require.Equal(t, ModeActive, m.Tick(context.Background()))
	require.Equal(t, ModeErrorBackoff, m.Tick(context.Background()))

	// While the delay is pending, ticks do no rotation work
	callsBefore := selector.calls
	assert.Equal(t, ModeErrorBackoff, m.Tick(context.Background()))
	assert.Equal(t, callsBefore, selector.calls)

	// After the delay elapses a successful cycle clears the backoff
	selector.err = nil
	selector.item = MediaItem{ID: "a"}
	m.retryAt = time.Now().Add(-time.Second)
	assert.Equal(t, ModeActive, m.Tick(context.Background()))
	assert.Equal(t, time.Duration(0), m.RetryDelay())
}

func TestMachine_ValidationAuthFailureDropsToUnconfigured(t *testing.T) {
	cred := validCredential()
	creds := &stubCreds{cred: cred}
	gateway := &pagedGateway{listErr: ErrAuthRevoked}
	renderer := &stubRenderer{}
	m := newTestMachine(creds, gateway, &stubSelector{}, renderer, nil)

	mode := m.Tick(context.Background())
	assert.Equal(t, ModeUnconfigured, mode)
	assert.Equal(t, 1, renderer.qrCalls)

	// The rejected credential stays rejected without re-probing the gateway
	lists := gateway.numLists
	assert.Equal(t, ModeUnconfigured, m.Tick(context.Background()))
	assert.Equal(t, lists, gateway.numLists)

	// A freshly written credential clears the rejection
	gateway.listErr = nil
	gateway.items = libraryOf("a")
	creds.cred = &Credential{AccessToken: "new", RefreshToken: "new-refresh", Expiry: time.Now().Add(time.Hour)}
	assert.Equal(t, ModeActive, m.Tick(context.Background()))
}

func TestMachine_ValidationTransientStaysAwaiting(t *testing.T) {
	creds := &stubCreds{cred: validCredential()}
	gateway := &pagedGateway{listErr: ErrTransient}
	renderer := &stubRenderer{}
	m := newTestMachine(creds, gateway, &stubSelector{}, renderer, nil)

	mode := m.Tick(context.Background())
	assert.Equal(t, ModeAwaitingAuth, mode)
	assert.Equal(t, 0, renderer.qrCalls, "a flaky network must not restart onboarding")
}

func TestMachine_UnusableItemsSkippedWithinBudget(t *testing.T) {
	creds := &stubCreds{cred: validCredential()}
	gateway := &pagedGateway{items: libraryOf("a")}
	selector := &stubSelector{item: MediaItem{ID: "a"}}
	renderer := &stubRenderer{commitErrs: []error{ErrItemUnusable, ErrItemUnusable, nil}}
	m := newTestMachine(creds, gateway, selector, renderer, nil)

	require.Equal(t, ModeActive, m.Tick(context.Background()))

	mode := m.Tick(context.Background())
	assert.Equal(t, ModeActive, mode)
	assert.Equal(t, 3, renderer.commits, "two skips then a success within one cycle")
}

func TestMachine_SkipBudgetExhaustedDefers(t *testing.T) {
	creds := &stubCreds{cred: validCredential()}
	gateway := &pagedGateway{items: libraryOf("a")}
	selector := &stubSelector{item: MediaItem{ID: "a"}}
	renderer := &stubRenderer{commitErrs: []error{ErrItemUnusable, ErrItemUnusable, ErrItemUnusable, ErrItemUnusable, ErrItemUnusable}}
	m := newTestMachine(creds, gateway, selector, renderer, nil)

	require.Equal(t, ModeActive, m.Tick(context.Background()))

	mode := m.Tick(context.Background())
	assert.Equal(t, ModeActive, mode, "a corrupt library defers to the next tick, no backoff")
	assert.Equal(t, DefaultMaxSkips+1, renderer.commits)
	assert.Equal(t, time.Duration(0), m.RetryDelay())
}

func TestMachine_SkipBudgetConfigurable(t *testing.T) {
	creds := &stubCreds{cred: validCredential()}
	gateway := &pagedGateway{items: libraryOf("a")}
	selector := &stubSelector{item: MediaItem{ID: "a"}}
	renderer := &stubRenderer{commitErrs: []error{ErrItemUnusable, ErrItemUnusable, ErrItemUnusable}}
	m := NewMachine(creds, gateway, selector, renderer, nil, MachineConfig{
		ConfigURL: "http://192.168.1.10:5000",
		MaxSkips:  1,
	}, nil)

	require.Equal(t, ModeActive, m.Tick(context.Background()))

	mode := m.Tick(context.Background())
	assert.Equal(t, ModeActive, mode)
	assert.Equal(t, 2, renderer.commits, "a budget of one allows a single skip before deferring")
}

func TestMachine_DriverFailureIsFatalForTickOnly(t *testing.T) {
	creds := &stubCreds{cred: validCredential()}
	gateway := &pagedGateway{items: libraryOf("a")}
	selector := &stubSelector{item: MediaItem{ID: "a"}}
	renderer := &stubRenderer{commitErrs: []error{ErrDriverFailure, nil}}
	m := newTestMachine(creds, gateway, selector, renderer, nil)

	require.Equal(t, ModeActive, m.Tick(context.Background()))

	assert.Equal(t, ModeActive, m.Tick(context.Background()))
	assert.Equal(t, time.Duration(0), m.RetryDelay())

	// The next tick renders normally
	assert.Equal(t, ModeActive, m.Tick(context.Background()))
	assert.Equal(t, 2, renderer.commits)
}

func TestMachine_EmptyLibraryStaysActive(t *testing.T) {
	creds := &stubCreds{cred: validCredential()}
	gateway := &pagedGateway{items: libraryOf("a")}
	selector := &stubSelector{err: ErrNoNewItems}
	m := newTestMachine(creds, gateway, selector, &stubRenderer{}, nil)

	require.Equal(t, ModeActive, m.Tick(context.Background()))
	assert.Equal(t, ModeActive, m.Tick(context.Background()))
}

func TestMachine_ModeAlwaysDefined(t *testing.T) {
	defined := map[Mode]bool{
		ModeUnconfigured: true,
		ModeAwaitingAuth: true,
		ModeActive:       true,
		ModeErrorBackoff: true,
	}

	scenarios := []*Machine{
		newTestMachine(&stubCreds{}, &pagedGateway{}, &stubSelector{}, &stubRenderer{}, nil),
		newTestMachine(&stubCreds{cred: validCredential()}, &pagedGateway{listErr: ErrTransient}, &stubSelector{}, &stubRenderer{}, nil),
		newTestMachine(&stubCreds{cred: validCredential(), refreshErr: ErrTransient}, &pagedGateway{}, &stubSelector{}, &stubRenderer{}, nil),
		newTestMachine(&stubCreds{cred: validCredential()}, &pagedGateway{items: libraryOf("a")}, &stubSelector{err: ErrTransient}, &stubRenderer{}, nil),
	}

	for i, m := range scenarios {
		for tick := 0; tick < 5; tick++ {
			mode := m.Tick(context.Background())
			assert.True(t, defined[mode], "scenario %d tick %d returned %q", i, tick, mode)
		}
	}
}
