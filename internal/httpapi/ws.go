package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/interviewer/internal/protocol"
)

const (
	wsIdleTimeout  = 10 * time.Minute
	wsWriteTimeout = 10 * time.Second
)

// handleWS runs a turn-based websocket conversation. Messages are handled in
// arrival order, so turns on one connection never overlap.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.SessionEvent("ws_connected")

	// Detached from the request so the handshake deadline does not apply.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	inbound := make(chan any, 16)
	outbound := make(chan any, 256)

	send := func(v any) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case outbound <- v:
			return nil
		}
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		defer close(outbound)
		s.runConversation(ctx, cancel, sess.ID, inbound, send)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		failed := false
		for msg := range outbound {
			if failed {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				failed = true
				cancel()
				continue
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.WSMessage("outbound", string(t))
			}
		}
		if !failed {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
				time.Now().Add(wsWriteTimeout))
		}
		// Unblocks the read loop below.
		_ = conn.Close()
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		var parsed any
		parsed, err = protocol.ParseClientMessage(data)
		if err != nil {
			s.metrics.WSMessage("inbound", "invalid")
			parsed = invalidMessage{err: err}
		} else if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessage("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvent("ws_disconnected")
}

// invalidMessage reports an unparseable client frame to the conversation loop,
// which owns all writes to the outbound queue.
type invalidMessage struct {
	err error
}

func (s *Server) runConversation(ctx context.Context, cancel context.CancelFunc, sessionID string, inbound <-chan any, send func(any) error) {
	defer cancel()
	for {
		var msg any
		select {
		case <-ctx.Done():
			return
		case m, ok := <-inbound:
			if !ok {
				return
			}
			msg = m
		}

		switch m := msg.(type) {
		case invalidMessage:
			_ = send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Detail:    m.err.Error(),
			})
		case protocol.CandidateTurn:
			s.wsTurn(ctx, sessionID, m.Text, send)
		case protocol.ClientControl:
			if m.Action != protocol.ActionEnd {
				continue
			}
			res, err := s.orchestrator.End(ctx, sessionID)
			if err != nil {
				_ = send(errorEvent(sessionID, err))
				continue
			}
			_ = send(protocol.SessionEnded{
				Type:      protocol.TypeSessionEnded,
				SessionID: sessionID,
				Report:    s.finish(ctx, res),
			})
			return
		}
	}
}

func (s *Server) wsTurn(ctx context.Context, sessionID, text string, send func(any) error) {
	turnID := uuid.NewString()
	seq := 0
	res, err := s.orchestrator.Turn(ctx, sessionID, text, func(fragment string) error {
		seq++
		return send(protocol.InterviewerDelta{
			Type:      protocol.TypeInterviewerDelta,
			SessionID: sessionID,
			TurnID:    turnID,
			Seq:       seq,
			TextDelta: fragment,
		})
	})
	if err != nil {
		_ = send(errorEvent(sessionID, err))
		return
	}
	reason := "completed"
	switch {
	case res.Disconnected:
		reason = "disconnected"
	case res.Degraded:
		reason = "degraded"
	}
	_ = send(protocol.InterviewerTurnEnd{
		Type:      protocol.TypeInterviewerTurnEnd,
		SessionID: sessionID,
		TurnID:    turnID,
		TurnCount: res.TurnCount,
		Reason:    reason,
	})
}

func errorEvent(sessionID string, err error) protocol.ErrorEvent {
	status, code := statusFor(err)
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Retryable: status == http.StatusServiceUnavailable,
		Detail:    err.Error(),
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.CandidateTurn:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.InterviewerDelta:
		return m.Type, true
	case protocol.InterviewerTurnEnd:
		return m.Type, true
	case protocol.SessionEnded:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
