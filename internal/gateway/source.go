package gateway

import (
	"errors"

	"github.com/hearthd/voice-pipeline/internal/audio"
	"github.com/hearthd/voice-pipeline/internal/session"
)

// PumpFrames drains a local capture device into the room's session,
// one frame per NextFrame call, until the source closes or the session
// times out. Deployments with an on-box microphone use this instead of
// the websocket ingest.
func PumpFrames(orch *session.Orchestrator, roomID string, src audio.FrameSource) error {
	for {
		frame, err := src.NextFrame()
		if err != nil {
			if errors.Is(err, audio.ErrStreamClosed) {
				return nil
			}
			return err
		}
		if err := orch.Frame(roomID, frame); err != nil {
			return err
		}
	}
}
