package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/fabfab/fund-agent/chat"
	"github.com/fabfab/fund-agent/index"
	"github.com/fabfab/fund-agent/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Cross-origin is already open for the HTTP endpoints.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsHandshake is the first message on a chat channel. Settings are bound
// here for the lifetime of the conversation.
type wsHandshake struct {
	SessionID string          `json:"session_id"`
	Settings  json.RawMessage `json:"settings"`
	FundName  string          `json:"fund_name"`
	History   [][2]string     `json:"history"`
}

// wsTurn is every subsequent message. Any settings or session_id fields a
// client re-sends are ignored; the handshake binding wins.
type wsTurn struct {
	Query string `json:"query"`
}

// handleChat runs one WebSocket chat channel. Turns are strictly sequential:
// the next inbound message is not processed until the previous turn's frame
// sequence has completed. A dedicated reader goroutine feeds the loop so a
// client disconnect cancels the connection context and aborts in-flight
// retrieval and generation, not just the next write.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	// The connection is hijacked, so r.Context() no longer tracks the client.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan []byte)
	go func() {
		defer cancel()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				s.logger.Printf("websocket closed: %v", err)
				return
			}
			select {
			case inbound <- raw:
			case <-ctx.Done():
				return
			}
		}
	}()

	emit := func(frame chat.Frame) error {
		return conn.WriteJSON(frame)
	}

	var conv *chat.Conversation
	for {
		var raw []byte
		select {
		case raw = <-inbound:
		case <-ctx.Done():
			return
		}

		if conv == nil {
			conv, err = s.openConversation(ctx, raw)
			if err != nil {
				// Surface the failure and keep the channel open for another
				// handshake attempt.
				if writeErr := emit(chat.ErrorFrame(handshakeErrorMessage(err))); writeErr != nil {
					return
				}
				conv = nil
				continue
			}
			s.logger.Printf("chat session %s opened (fund %q)", conv.SessionID(), conv.FundName())
			continue
		}

		var turn wsTurn
		if err := json.Unmarshal(raw, &turn); err != nil {
			if writeErr := emit(chat.ErrorFrame("Invalid message format.")); writeErr != nil {
				return
			}
			continue
		}

		if err := conv.Turn(ctx, turn.Query, emit); err != nil {
			// Frames can no longer be delivered.
			s.logger.Printf("chat session %s ended: %v", conv.SessionID(), err)
			return
		}
	}
}

func (s *Server) openConversation(ctx context.Context, raw []byte) (*chat.Conversation, error) {
	var hs wsHandshake
	if err := json.Unmarshal(raw, &hs); err != nil {
		return nil, &session.SettingsError{Key: "handshake", Reason: "is not valid JSON"}
	}

	settings, err := session.ParseSettings(hs.Settings)
	if err != nil {
		return nil, err
	}

	conv, err := s.engine.Handshake(ctx, chat.Handshake{
		SessionID: hs.SessionID,
		Settings:  settings,
		FundName:  hs.FundName,
		History:   hs.History,
	})
	if err != nil {
		s.logger.Printf("chat handshake failed (session %s): %v", hs.SessionID, err)
		return nil, err
	}
	return conv, nil
}

// handshakeErrorMessage picks a user-safe message for a failed handshake.
// Input faults keep their specific text; backend detail stays in the log.
func handshakeErrorMessage(err error) string {
	switch {
	case errors.Is(err, index.ErrSessionNotFound):
		return "Unknown session. Upload documents first."
	case isClientFault(err):
		return err.Error()
	default:
		return "Sorry, something went wrong. Try again."
	}
}
