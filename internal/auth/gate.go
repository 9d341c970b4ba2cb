// Package auth holds session handling for the HTTP surface: the redirect
// gate that turns a burst of credential failures into one login redirect,
// opaque session tokens, and per-client request limits.
package auth

import (
	"sync"
	"time"

	"bilregistret/internal/logging"
)

// GateState is the redirect gate's state
type GateState string

const (
	// GateIdle means no login redirect is outstanding
	GateIdle GateState = "idle"
	// GateRedirecting means a redirect was issued and not yet resolved
	GateRedirecting GateState = "redirecting"
)

// RedirectGate makes sure concurrent unauthorized responses produce a
// single login redirect. It has two states, Idle and Redirecting: Trigger
// moves Idle to Redirecting and reports true exactly once, Resolve moves
// back. One gate is owned by the server and handed to whoever can observe
// an unauthorized answer.
type RedirectGate struct {
	loginPath string
	logger    *logging.Logger
	now       func() time.Time

	mu        sync.Mutex
	state     GateState
	since     time.Time
	triggered int
	absorbed  int
}

// NewRedirectGate creates an idle gate redirecting to loginPath
func NewRedirectGate(loginPath string, logger *logging.Logger) *RedirectGate {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RedirectGate{
		loginPath: loginPath,
		logger:    logger,
		now:       time.Now,
		state:     GateIdle,
	}
}

// LoginPath returns where redirects point
func (g *RedirectGate) LoginPath() string {
	return g.loginPath
}

// Trigger requests a login redirect. It reports true when the caller should
// perform the redirect, false when one is already under way.
func (g *RedirectGate) Trigger(reason string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == GateRedirecting {
		g.absorbed++
		return false
	}
	g.state = GateRedirecting
	g.since = g.now()
	g.triggered++
	g.logger.Info("Login redirect issued", map[string]interface{}{
		"reason":    reason,
		"loginPath": g.loginPath,
	})
	return true
}

// Resolve returns the gate to Idle, e.g. after a successful login or logout.
// It reports whether a redirect was outstanding.
func (g *RedirectGate) Resolve() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == GateIdle {
		return false
	}
	g.logger.Debug("Login redirect resolved", map[string]interface{}{
		"pendingMs": g.now().Sub(g.since).Milliseconds(),
		"absorbed":  g.absorbed,
	})
	g.state = GateIdle
	g.since = time.Time{}
	return true
}

// State returns the current state
func (g *RedirectGate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// GateStats describes gate activity
type GateStats struct {
	State     GateState `json:"state"`
	Triggered int       `json:"triggered"`
	Absorbed  int       `json:"absorbed"`
}

// Stats returns gate counters
func (g *RedirectGate) Stats() GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GateStats{State: g.state, Triggered: g.triggered, Absorbed: g.absorbed}
}
