package lifecycle

import (
	"context"

	"github.com/gsharad007/spacerama/logging"
)

const (
	// EventSessionStarted is emitted when a session begins simulating.
	EventSessionStarted logging.EventType = "lifecycle.session_started"
	// EventSessionEnded is emitted when a session is torn down.
	EventSessionEnded logging.EventType = "lifecycle.session_ended"
)

// SessionStartedPayload captures the tuning a session runs with.
type SessionStartedPayload struct {
	Mode                  string  `json:"mode"`
	Players               int     `json:"players"`
	InputDelayTicks       int     `json:"inputDelayTicks"`
	MaxPredictionTicks    int     `json:"maxPredictionTicks"`
	CorrectionTicksFactor float64 `json:"correctionTicksFactor"`
}

// SessionEndedPayload captures why a session stopped.
type SessionEndedPayload struct {
	Reason    string `json:"reason"`
	Rollbacks uint64 `json:"rollbacks"`
	Desyncs   uint64 `json:"desyncs"`
}

// SessionStarted publishes a session start event.
func SessionStarted(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SessionStartedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventSessionStarted,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// SessionEnded publishes a session end event.
func SessionEnded(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SessionEndedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventSessionEnded,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}
