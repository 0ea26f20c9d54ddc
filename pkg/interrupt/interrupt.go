// Package interrupt implements bounded-time cancellation fan-out for
// barge-in. A [Controller] notifies every registered in-flight handler
// concurrently and reports whether all of them acknowledged within one shared
// deadline. Handlers that miss the deadline are abandoned, not killed: the
// contract is cooperative, handlers are expected to observe the
// deadline-carrying context and go inert on their own.
package interrupt

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aevum-labs/cadence/pkg/clock"
)

// Reason enumerates why a cancellation was issued. The values are the wire
// representation used in CANCEL control messages.
type Reason string

const (
	ReasonUserBargeIn    Reason = "USER_BARGE_IN"
	ReasonUserStop       Reason = "USER_STOP"
	ReasonSystemOverload Reason = "SYSTEM_OVERLOAD"
	ReasonTimeout        Reason = "TIMEOUT"
	ReasonError          Reason = "ERROR"
)

// IsValid reports whether r is a recognised cancel reason.
func (r Reason) IsValid() bool {
	switch r {
	case ReasonUserBargeIn, ReasonUserStop, ReasonSystemOverload, ReasonTimeout, ReasonError:
		return true
	}
	return false
}

// MessageType is the control-channel type tag for cancel messages.
const MessageType = "CANCEL"

// Message is one CANCEL control message. Immutable once constructed. The
// event time is carried opaquely: callers may supply session-relative or
// absolute milliseconds as suits their transport.
type Message struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	Reason    Reason `json:"reason"`
	TEventMs  int64  `json:"t_event_ms"`
}

// NewMessage constructs a CANCEL message.
func NewMessage(sessionID string, reason Reason, tEventMs int64) Message {
	return Message{
		SessionID: sessionID,
		Type:      MessageType,
		Reason:    reason,
		TEventMs:  tEventMs,
	}
}

// Handler is one in-flight operation's cancellation hook. Immediate handlers
// just return; awaitable ones block until their work is torn down, checking
// ctx for the shared fan-out deadline. A non-nil error is logged and counted
// against no one: it never aborts the fan-out.
type Handler func(ctx context.Context, msg Message) error

// DefaultBudget is the fan-out deadline used by [Controller.Cancel] when the
// configured budget is zero.
const DefaultBudget = 150 * time.Millisecond

// Controller orchestrates bounded-time cancellation for one session. All
// methods are safe for concurrent use.
type Controller struct {
	clk       *clock.Clock
	sessionID string
	budget    time.Duration

	mu        sync.Mutex
	handlers  map[int]Handler
	nextToken int
	cancelled bool
	last      *Message
}

// NewController creates a Controller for the given session with the given
// default fan-out budget. A budget of zero selects [DefaultBudget].
func NewController(clk *clock.Clock, sessionID string, budget time.Duration) *Controller {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Controller{
		clk:       clk,
		sessionID: sessionID,
		budget:    budget,
		handlers:  make(map[int]Handler),
	}
}

// Register adds a handler to the fan-out set and returns a token for
// [Controller.Unregister].
func (c *Controller) Register(h Handler) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	token := c.nextToken
	c.nextToken++
	c.handlers[token] = h
	return token
}

// Unregister removes a previously registered handler. Unknown tokens are
// ignored.
func (c *Controller) Unregister(token int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, token)
}

// HandlerCount returns the number of registered handlers.
func (c *Controller) HandlerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// Cancel constructs a CANCEL message with a clock-derived event time and
// dispatches it with the controller's default budget. The event time is
// session-relative while the session is live and process-absolute otherwise.
func (c *Controller) Cancel(ctx context.Context, reason Reason) bool {
	tEvent, err := c.clk.ElapsedMs(c.sessionID)
	if err != nil {
		tEvent = c.clk.AbsoluteMs()
	}
	return c.Dispatch(ctx, NewMessage(c.sessionID, reason, tEvent), c.budget)
}

// Dispatch invokes every registered handler concurrently with msg and waits
// up to timeout for all of them to finish. It returns true only if every
// handler completed inside the budget. Timeout is an observable outcome, not
// an error: the cancelled flag and last message are set regardless, and slow
// handlers are left to observe their context and wind down on their own.
func (c *Controller) Dispatch(ctx context.Context, msg Message, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = c.budget
	}

	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.cancelled = true
	c.last = &msg
	c.mu.Unlock()

	if len(handlers) == 0 {
		return true
	}

	// Handlers race against one shared deadline. The context is cancelled
	// when Dispatch returns so abandoned handlers see it promptly.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("interrupt: handler panicked", "session_id", msg.SessionID, "panic", r)
				}
			}()
			if err := h(hctx, msg); err != nil {
				slog.Warn("interrupt: handler error", "session_id", msg.SessionID, "reason", msg.Reason, "err", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-hctx.Done():
		slog.Warn("interrupt: cancel budget exceeded, abandoning slow handlers",
			"session_id", msg.SessionID,
			"reason", msg.Reason,
			"budget", timeout,
			"handlers", len(handlers),
		)
		return false
	}
}

// IsCancelled reports whether a cancellation has been dispatched since the
// last Reset.
func (c *Controller) IsCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// LastMessage returns the most recently dispatched CANCEL message, if any.
func (c *Controller) LastMessage() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Message{}, false
	}
	return *c.last, true
}

// Reset clears the cancelled flag so the controller can be reused across
// conversational turns. The registered-handler set is kept.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = false
	c.last = nil
}
