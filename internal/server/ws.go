package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"motorbay/internal/app"
	"motorbay/internal/realtime"
	"motorbay/internal/usertoken"
	"motorbay/internal/util"
	"motorbay/pkg/domain"
)

const wsKeepaliveInterval = 30 * time.Second

// wsTransport adapts a websocket connection to the hub's Transport.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) WriteEvent(ctx context.Context, ev realtime.Event) error {
	return wsjson.Write(ctx, t.conn, ev)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}

// inboundFrame is the envelope clients send over the socket.
type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.tokenVerifier == nil {
		writeError(w, http.StatusInternalServerError, "token verifier not configured")
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token, _ = bearerToken(r)
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	identity, err := s.tokenVerifier.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.allowedOrigins,
	})
	if err != nil {
		return
	}

	logger := util.LoggerFromContext(r.Context()).With("user_id", identity.UserID)
	client := s.hub.Admit(identity.UserID, &wsTransport{conn: conn})
	defer s.hub.Evict(client)
	logger.Info("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.keepalive(ctx, conn, client)

	for {
		var frame inboundFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			logger.Info("websocket closed", "err", err)
			return
		}
		s.handleInboundFrame(client, identity, frame)
	}
}

func (s *Server) keepalive(ctx context.Context, conn *websocket.Conn, client *realtime.Client) {
	ticker := time.NewTicker(wsKeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				s.hub.Evict(client)
				return
			}
		}
	}
}

type wsTransitionRequest struct {
	RequestID string `json:"requestId"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// handleInboundFrame executes a client command. Failures are answered on the
// same connection only; siblings and the peer see nothing for a bad frame.
func (s *Server) handleInboundFrame(client *realtime.Client, identity usertoken.Identity, frame inboundFrame) {
	switch frame.Type {
	case "message.send":
		if !s.allowSend(identity.UserID) {
			s.sendWSError(client, "message rate limit exceeded")
			return
		}
		var req sendMessageRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			s.sendWSError(client, "invalid message.send payload")
			return
		}
		if _, err := s.app.Send(identity.UserID, req.ReceiverID, req.Text, req.Attachment, req.CorrelationToken); err != nil {
			s.sendWSError(client, clientErrorMessage(err))
		}
	case "workflow.transition":
		role, ok := actorRole(identity)
		if !ok {
			s.sendWSError(client, "forbidden")
			return
		}
		var req wsTransitionRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			s.sendWSError(client, "invalid workflow.transition payload")
			return
		}
		_, err := s.app.Transition(req.RequestID, identity.UserID, role, domain.TransitionEvent(req.Event), app.TransitionPayload{Reason: req.Reason})
		if err != nil {
			s.sendWSError(client, clientErrorMessage(err))
		}
	default:
		s.sendWSError(client, "unknown frame type")
	}
}

func (s *Server) sendWSError(client *realtime.Client, msg string) {
	client.Send(realtime.Event{Type: realtime.EventError, Data: realtime.ErrorData{Message: msg}})
}

func clientErrorMessage(err error) string {
	switch {
	case errors.Is(err, app.ErrForbidden):
		return "forbidden"
	case errors.Is(err, app.ErrValidation),
		errors.Is(err, app.ErrNotFound),
		errors.Is(err, app.ErrInvalidState),
		errors.Is(err, app.ErrConflict):
		return err.Error()
	default:
		return "internal error"
	}
}
