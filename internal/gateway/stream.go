// Package gateway terminates room audio connections and translates the
// wire protocol into orchestrator calls. One websocket connection
// carries one room's capture stream.
package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hearthd/voice-pipeline/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Room satellites live on the local network; origin checks are
		// enforced at the reverse proxy.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// StreamMessage is the envelope a room satellite sends over the
// websocket.
type StreamMessage struct {
	Event   string `json:"event"` // "wake", "media", "cancel", "stop"
	RoomID  string `json:"room_id,omitempty"`
	Mode    string `json:"mode,omitempty"`    // "single" or "conversation", wake only
	Payload string `json:"payload,omitempty"` // base64 PCM16 frame, media only
}

// ackMessage is the gateway's reply to a wake event.
type ackMessage struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RoomStream is one connected satellite.
type RoomStream struct {
	conn   *websocket.Conn
	orch   *session.Orchestrator
	logger zerolog.Logger

	mu     sync.Mutex
	roomID string
	active bool
}

// HandleRoomWS is the websocket entry point for room satellites.
func HandleRoomWS(orch *session.Orchestrator, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error().Err(err).Msg("Websocket upgrade failed")
			return
		}
		defer conn.Close()

		stream := &RoomStream{
			conn:   conn,
			orch:   orch,
			logger: logger.With().Str("component", "gateway").Logger(),
			active: true,
		}
		stream.run()
	}
}

func (s *RoomStream) run() {
	defer func() {
		// A dropped connection must not leave the room stuck mid-session.
		s.mu.Lock()
		roomID := s.roomID
		s.mu.Unlock()
		if roomID != "" {
			s.orch.Cancel(roomID)
		}
	}()

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("Websocket read error")
			}
			return
		}

		var msg StreamMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.logger.Error().Err(err).Msg("Failed to parse stream message")
			continue
		}

		switch msg.Event {
		case "wake":
			s.handleWake(msg)

		case "media":
			s.handleMedia(msg)

		case "cancel":
			s.mu.Lock()
			roomID := s.roomID
			s.mu.Unlock()
			if roomID != "" {
				s.orch.Cancel(roomID)
			}

		case "stop":
			s.mu.Lock()
			roomID := s.roomID
			s.mu.Unlock()
			if roomID != "" {
				s.orch.Cancel(roomID)
			}
			return

		default:
			s.logger.Warn().Str("event", msg.Event).Msg("Unknown stream event")
		}
	}
}

func (s *RoomStream) handleWake(msg StreamMessage) {
	if msg.RoomID == "" {
		s.sendAck(ackMessage{Event: "wake_rejected", Error: "room_id required"})
		return
	}

	mode := session.ModeSingle
	if msg.Mode == string(session.ModeConversation) {
		mode = session.ModeConversation
	}

	id, err := s.orch.Wake(msg.RoomID, mode)
	if err != nil {
		if errors.Is(err, session.ErrRoomBusy) {
			s.sendAck(ackMessage{Event: "wake_rejected", Error: "room busy"})
			return
		}
		s.logger.Error().Err(err).Str("room_id", msg.RoomID).Msg("Wake failed")
		s.sendAck(ackMessage{Event: "wake_rejected", Error: "internal error"})
		return
	}

	s.mu.Lock()
	s.roomID = msg.RoomID
	s.mu.Unlock()

	s.sendAck(ackMessage{Event: "wake_accepted", SessionID: id.String()})
}

func (s *RoomStream) handleMedia(msg StreamMessage) {
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()
	if roomID == "" {
		return
	}

	frame, err := base64.StdEncoding.DecodeString(msg.Payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Undecodable media payload")
		return
	}

	if err := s.orch.Frame(roomID, frame); err != nil {
		if errors.Is(err, session.ErrSessionTimeout) {
			s.sendAck(ackMessage{Event: "session_timeout"})
			return
		}
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("Frame processing failed")
	}
}

func (s *RoomStream) sendAck(ack ackMessage) {
	data, err := json.Marshal(ack)
	if err != nil {
		return
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Warn().Err(err).Msg("Ack write failed")
	}
}
