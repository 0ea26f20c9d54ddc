// Package control serves the WebSocket control channel. Clients send CANCEL
// messages (barge-in, stop, overload) for a live session; the server fans
// them out through the session's cancellation controller and replies with a
// CANCEL_ACK carrying the fan-out outcome.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/aevum-labs/cadence/internal/session"
	"github.com/aevum-labs/cadence/pkg/clock"
	"github.com/aevum-labs/cadence/pkg/interrupt"
)

// AckType is the control-channel type tag for cancel acknowledgements.
const AckType = "CANCEL_ACK"

// readTimeout bounds how long a single control message read may block.
const readTimeout = 5 * time.Minute

// Ack is the reply to one CANCEL message. Complete is true when every
// registered handler acknowledged within the cancel budget.
type Ack struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	Reason    string `json:"reason"`
	Complete  bool   `json:"complete"`
	TAckMs    int64  `json:"t_ack_ms"`
	Error     string `json:"error,omitempty"`
}

// Server handles control-channel WebSocket connections.
type Server struct {
	sessions *session.Manager
	clk      *clock.Clock
}

// NewServer creates a control Server dispatching into the given session
// manager and stamping acks from the given clock.
func NewServer(sessions *session.Manager, clk *clock.Clock) *Server {
	return &Server{sessions: sessions, clk: clk}
}

// Handler upgrades the request to a WebSocket and serves control messages
// until the client disconnects or the request context ends.
func (s *Server) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("control: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server closing")

	ctx := r.Context()
	for {
		if err := s.serveOne(ctx, conn); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			slog.Warn("control: connection error", "remote", r.RemoteAddr, "err", err)
			return
		}
	}
}

// serveOne reads one CANCEL message, dispatches it, and writes the ack.
func (s *Server) serveOne(ctx context.Context, conn *websocket.Conn) error {
	readCtx, cancel := context.WithTimeout(ctx, readTimeout)
	_, data, err := conn.Read(readCtx)
	cancel()
	if err != nil {
		return err
	}

	var msg interrupt.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return s.writeAck(ctx, conn, Ack{
			Type:  AckType,
			Error: "malformed control message",
		})
	}

	ack := s.dispatch(ctx, msg)
	return s.writeAck(ctx, conn, ack)
}

// dispatch validates msg and runs the cancel fan-out on its session.
func (s *Server) dispatch(ctx context.Context, msg interrupt.Message) Ack {
	ack := Ack{
		SessionID: msg.SessionID,
		Type:      AckType,
		Reason:    string(msg.Reason),
		TAckMs:    s.clk.AbsoluteMs(),
	}

	switch {
	case msg.Type != interrupt.MessageType:
		ack.Error = "unsupported message type: " + msg.Type
	case !msg.Reason.IsValid():
		ack.Error = "unknown cancel reason: " + string(msg.Reason)
	default:
		sess, ok := s.sessions.Get(msg.SessionID)
		if !ok {
			ack.Error = "unknown session: " + msg.SessionID
			break
		}
		ack.Complete = sess.DispatchCancel(ctx, msg)
		slog.Info("control: cancel dispatched",
			"session_id", msg.SessionID,
			"reason", msg.Reason,
			"complete", ack.Complete,
		)
	}
	return ack
}

func (s *Server) writeAck(ctx context.Context, conn *websocket.Conn, ack Ack) error {
	data, err := json.Marshal(ack)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Register adds the control channel route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/control", s.Handler)
}
