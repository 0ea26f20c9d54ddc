// Package clock provides the authoritative time source for a Cadence process.
//
// Every timestamp in the system — packet times, frame times, cancel event
// times — is derived from one [Clock] instance so that values from different
// subsystems are always comparable and correctly ordered. The clock is backed
// by Go's monotonic clock readings, so NTP corrections, DST transitions, and
// manual wall-clock changes never move it backwards.
//
// A Clock is an injected service object, not a package-level global: tests
// construct their own instances and never share hidden state.
package clock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Sentinel errors for session-lifecycle contract violations. These indicate
// bugs in the caller's session management, not runtime conditions.
var (
	// ErrSessionAlreadyStarted is returned by [Clock.StartSession] when the
	// session id is already registered and has not been ended.
	ErrSessionAlreadyStarted = errors.New("clock: session already started")

	// ErrSessionNotFound is returned by [Clock.ElapsedMs] when the session id
	// was never started or has already been ended.
	ErrSessionNotFound = errors.New("clock: session not found")
)

// Clock tracks one monotonic start point per session and a process-wide
// epoch. All methods are safe for concurrent use.
type Clock struct {
	epoch time.Time

	mu       sync.Mutex
	sessions map[string]time.Time
}

// New creates a Clock whose process epoch is the moment of the call.
func New() *Clock {
	return &Clock{
		epoch:    time.Now(),
		sessions: make(map[string]time.Time),
	}
}

// StartSession registers a new session and returns its start time as
// process-relative absolute milliseconds. Returns [ErrSessionAlreadyStarted]
// if the id is already live — a session id may be started at most once
// without being ended first.
func (c *Clock) StartSession(id string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sessions[id]; ok {
		return 0, fmt.Errorf("%w: %q", ErrSessionAlreadyStarted, id)
	}
	now := time.Now()
	c.sessions[id] = now
	return now.Sub(c.epoch).Milliseconds(), nil
}

// ElapsedMs returns the milliseconds elapsed since the session started.
// Consecutive readings for the same session never decrease. Returns
// [ErrSessionNotFound] if the id was never started or was already ended.
func (c *Clock) ElapsedMs(id string) (int64, error) {
	c.mu.Lock()
	start, ok := c.sessions[id]
	c.mu.Unlock()

	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return time.Since(start).Milliseconds(), nil
}

// EndSession removes the session and returns its total duration in
// milliseconds. Ending an unknown session is not an error: it returns
// (0, false).
func (c *Clock) EndSession(id string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start, ok := c.sessions[id]
	if !ok {
		return 0, false
	}
	delete(c.sessions, id)
	return time.Since(start).Milliseconds(), true
}

// AbsoluteMs returns the milliseconds elapsed since the Clock was created.
// It never fails and is the only legitimate source for cross-session
// timestamps (logs, cancel events for sessions that are not live).
func (c *Clock) AbsoluteMs() int64 {
	return time.Since(c.epoch).Milliseconds()
}

// SessionCount returns the number of currently live sessions. Intended for
// gauges and health reporting.
func (c *Clock) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
