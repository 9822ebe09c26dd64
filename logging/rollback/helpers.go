package rollback

import (
	"context"

	"github.com/gsharad007/spacerama/logging"
)

const (
	// EventRollbackPerformed is emitted after a successful restore and resimulation.
	EventRollbackPerformed logging.EventType = "rollback.performed"
	// EventDesync is emitted when a rollback cannot be serviced and is skipped.
	EventDesync logging.EventType = "rollback.desync"
	// EventSyncTestMismatch is emitted when a forced resimulation produces a different checksum.
	EventSyncTestMismatch logging.EventType = "rollback.synctest_mismatch"
	// EventPredictionLimit is emitted when remote input falls too far behind the local tick.
	EventPredictionLimit logging.EventType = "rollback.prediction_limit"
	// EventDuplicateLocalInput is emitted when local input is recorded twice for one tick.
	EventDuplicateLocalInput logging.EventType = "rollback.duplicate_local_input"
	// EventResyncHint is emitted when the desync ratio crosses the policy threshold.
	EventResyncHint logging.EventType = "rollback.resync_hint"
)

// PerformedPayload describes one resimulation pass.
type PerformedPayload struct {
	Target           uint64 `json:"target"`
	Current          uint64 `json:"current"`
	Resimulated      int    `json:"resimulated"`
	CorrectionTicks  int    `json:"correctionTicks"`
	TriggeredByState bool   `json:"triggeredByState,omitempty"`
}

// DesyncPayload captures why a rollback was abandoned.
type DesyncPayload struct {
	Target  uint64 `json:"target"`
	Current uint64 `json:"current"`
	Reason  string `json:"reason"`
}

// SyncTestPayload carries the checksums that disagreed.
type SyncTestPayload struct {
	Expected uint64 `json:"expected"`
	Actual   uint64 `json:"actual"`
}

// PredictionLimitPayload reports how far ahead of confirmed input the simulation is.
type PredictionLimitPayload struct {
	Confirmed uint64 `json:"confirmed"`
	Depth     uint64 `json:"depth"`
	Limit     int    `json:"limit"`
}

// ResyncHintPayload summarises the desync policy decision.
type ResyncHintPayload struct {
	Reasons   []string `json:"reasons"`
	Rollbacks uint64   `json:"rollbacks"`
	Desyncs   uint64   `json:"desyncs"`
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, tick uint64, actor logging.EntityRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryRollback,
		Payload:  payload,
		Extra:    extra,
	})
}

// Performed publishes a debug event for a completed rollback.
func Performed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PerformedPayload, extra map[string]any) {
	publish(ctx, pub, EventRollbackPerformed, logging.SeverityDebug, tick, actor, payload, extra)
}

// Desync publishes a warning when a rollback is skipped.
func Desync(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload DesyncPayload, extra map[string]any) {
	publish(ctx, pub, EventDesync, logging.SeverityWarn, tick, actor, payload, extra)
}

// SyncTestMismatch publishes an error: the stepper is not deterministic.
func SyncTestMismatch(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SyncTestPayload, extra map[string]any) {
	publish(ctx, pub, EventSyncTestMismatch, logging.SeverityError, tick, actor, payload, extra)
}

// PredictionLimit publishes a warning when prediction depth exceeds the configured maximum.
func PredictionLimit(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PredictionLimitPayload, extra map[string]any) {
	publish(ctx, pub, EventPredictionLimit, logging.SeverityWarn, tick, actor, payload, extra)
}

// DuplicateLocalInput publishes a warning for a rejected second local sample.
func DuplicateLocalInput(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, extra map[string]any) {
	publish(ctx, pub, EventDuplicateLocalInput, logging.SeverityWarn, tick, actor, nil, extra)
}

// ResyncHint publishes a warning carrying the desync policy reasons.
func ResyncHint(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ResyncHintPayload, extra map[string]any) {
	publish(ctx, pub, EventResyncHint, logging.SeverityWarn, tick, actor, payload, extra)
}
