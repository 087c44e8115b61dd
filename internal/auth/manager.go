// Package auth owns the Instagram session lifecycle: detecting a stored
// credential, completing the OAuth code exchange, and clearing the session
// on logout or when a downstream call reports the token was rejected.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fpang/ig-caption-studio/internal/metrics"
	"github.com/fpang/ig-caption-studio/internal/outcome"
	"github.com/fpang/ig-caption-studio/internal/session"
	"github.com/rs/zerolog/log"
)

// State is the session lifecycle state.
type State string

const (
	StateUnchecked       State = "Unchecked"
	StateAwaitingCode    State = "AwaitingCode"
	StateAuthenticated   State = "Authenticated"
	StateAuthFailed      State = "AuthFailed"
	StateUnauthenticated State = "Unauthenticated"
)

// ErrNotAuthenticated is returned by Logout outside the Authenticated state.
var ErrNotAuthenticated = errors.New("not logged in")

// Status is a point-in-time view of the session for surfaces to render.
type Status struct {
	State         State  `json:"state"`
	Message       string `json:"message,omitempty"`
	Authenticated bool   `json:"authenticated"`
}

// Manager is the single owner of the credential. All other components read
// it through Credential and report rejections through Expire.
type Manager struct {
	cfg       Config
	store     session.Store
	exchanger Exchanger
	metrics   *metrics.Sink

	mu         sync.Mutex
	state      State
	credential Credential
	message    string
	epoch      uint64
}

// NewManager creates a manager in the Unchecked state.
func NewManager(cfg Config, store session.Store, exchanger Exchanger) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     store,
		exchanger: exchanger,
		metrics:   metrics.Default(),
		state:     StateUnchecked,
	}
}

// WithMetrics directs the manager's metrics to sink.
func (m *Manager) WithMetrics(sink *metrics.Sink) *Manager {
	m.metrics = sink
	return m
}

// Start resolves the session. A stored credential wins and costs no network
// call. Otherwise the entry URL is inspected: an error parameter means the
// user denied access, a code parameter is consumed exactly once (the URL is
// rewritten before the exchange begins), and neither means logged out.
func (m *Manager) Start(ctx context.Context, entry EntryContext) State {
	if cred, ok := m.store.Get(ctx); ok {
		m.mu.Lock()
		m.credential = Credential(cred)
		m.state = StateAuthenticated
		m.message = ""
		m.mu.Unlock()
		log.Info().Msg("Existing session found")
		return StateAuthenticated
	}

	if entry == nil {
		return m.settle(StateUnauthenticated, "")
	}

	if errParam := entry.Query("error"); errParam != "" {
		reason := entry.Query("error_reason")
		desc := entry.Query("error_description")
		entry.ReplaceURL("/")
		log.Warn().Str("error", errParam).Str("reason", reason).Str("description", desc).
			Msg("OAuth authorization denied by user")
		if reason == "" {
			reason = errParam
		}
		return m.settle(StateAuthFailed, fmt.Sprintf("Instagram authorization was denied: %s.", reason))
	}

	code := entry.Query("code")
	if code == "" {
		return m.settle(StateUnauthenticated, "")
	}

	// The code is single-use; strip it before anything can fail.
	entry.ReplaceURL("/")

	m.mu.Lock()
	m.state = StateAwaitingCode
	m.message = ""
	epoch := m.epoch
	m.mu.Unlock()

	return m.exchange(ctx, code, epoch)
}

// exchange runs the single exchange attempt for code. The mutex is not held
// across the network call; the result is applied only if no logout happened
// in between.
func (m *Manager) exchange(ctx context.Context, code string, epoch uint64) State {
	start := time.Now()
	cred, err := m.exchanger.Exchange(ctx, code)
	elapsed := time.Since(start)

	result := "success"
	defer func() {
		m.metrics.New().
			Dimension("Result", result).
			Metric("CodeExchangeMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
			Count("CodeExchange").
			Flush()
	}()

	if err == nil && cred == "" {
		err = outcome.New(outcome.KindAuthExchangeFailed, "No access token received.")
	}
	if err != nil {
		result = "failed"
		oe := outcome.Classify(err, "Failed to complete Instagram login")
		log.Error().Err(err).Str("kind", string(oe.Kind)).Dur("duration", elapsed).Msg("Authorization code exchange failed")
		return m.settleIf(epoch, StateAuthFailed, oe.Message)
	}

	if err := m.store.Set(ctx, string(cred)); err != nil {
		result = "persist_failed"
		log.Error().Err(err).Msg("Failed to persist credential")
		return m.settleIf(epoch, StateAuthFailed, "Logged in, but the session could not be saved.")
	}

	m.mu.Lock()
	if m.epoch != epoch {
		state := m.state
		m.mu.Unlock()
		result = "discarded"
		log.Warn().Msg("Session changed during exchange, discarding credential")
		if err := m.store.Clear(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to clear discarded credential")
		}
		return state
	}
	defer m.mu.Unlock()
	m.credential = cred
	m.state = StateAuthenticated
	m.message = ""
	log.Info().Dur("duration", elapsed).Msg("Instagram login complete")
	return StateAuthenticated
}

// Logout clears the stored and in-memory credential and moves to
// Unauthenticated. Results of work started under the old session are
// discarded via the epoch.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateAuthenticated {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("logout from %s: %w", state, ErrNotAuthenticated)
	}
	m.mu.Unlock()
	return m.clear(ctx, "")
}

// Expire performs the logout path when err is an AuthExpired failure and
// reports whether it did.
func (m *Manager) Expire(ctx context.Context, err error) bool {
	if !outcome.IsAuthExpired(err) {
		return false
	}
	m.mu.Lock()
	authenticated := m.state == StateAuthenticated
	m.mu.Unlock()
	if !authenticated {
		return false
	}

	log.Warn().Err(err).Msg("Credential rejected, ending session")
	if cerr := m.clear(ctx, "Your Instagram session expired. Please log in again."); cerr != nil {
		log.Error().Err(cerr).Msg("Failed to clear expired session")
	}
	return true
}

func (m *Manager) clear(ctx context.Context, message string) error {
	m.mu.Lock()
	m.credential = ""
	m.state = StateUnauthenticated
	m.message = message
	m.epoch++
	m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	log.Info().Msg("Logged out")
	return nil
}

// Login sends the entry to the authorization page.
func (m *Manager) Login(entry EntryContext) {
	entry.Redirect(m.AuthorizeURL())
}

// AuthorizeURL returns the Instagram authorization redirect.
func (m *Manager) AuthorizeURL() string {
	return m.cfg.OAuth().AuthorizeURL()
}

// Credential returns the live credential, if any.
func (m *Manager) Credential() (Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credential, m.state == StateAuthenticated && m.credential != ""
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Message returns the human-readable reason for the current state, if any.
func (m *Manager) Message() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.message
}

// Status returns the state and message together.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:         m.state,
		Message:       m.message,
		Authenticated: m.state == StateAuthenticated,
	}
}

// Epoch identifies the current session. It changes on every logout.
func (m *Manager) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

func (m *Manager) settle(state State, message string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.message = message
	return state
}

func (m *Manager) settleIf(epoch uint64, state State, message string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return m.state
	}
	m.state = state
	m.message = message
	return state
}
