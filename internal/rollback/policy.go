package rollback

import (
	"fmt"

	"github.com/gsharad007/spacerama/internal/sim"
)

// DesyncReason records one abandoned rollback.
type DesyncReason struct {
	Kind string
	Tick sim.Tick
}

// DesyncSignal is handed out once the desync ratio crosses the threshold.
type DesyncSignal struct {
	Desyncs   uint64
	Rollbacks uint64
	Reasons   []DesyncReason
}

// DesyncPolicy tracks how many rollbacks had to be abandoned. A handful of
// desyncs is tolerated; a sustained ratio above the threshold raises a
// resync hint for the session to report.
type DesyncPolicy struct {
	rollbacks uint64
	desyncs   uint64
	pending   bool
	reasons   []DesyncReason
}

const (
	desyncThresholdPercent = 10
	desyncMinimum          = 3
	desyncReasonLimit      = 8
)

func NewDesyncPolicy() *DesyncPolicy {
	return &DesyncPolicy{reasons: make([]DesyncReason, 0, desyncReasonLimit)}
}

func (p *DesyncPolicy) NoteRollback() {
	if p == nil {
		return
	}
	if p.rollbacks == ^uint64(0) {
		p.rollbacks = p.rollbacks / 2
		p.desyncs = p.desyncs / 2
	}
	p.rollbacks++
}

func (p *DesyncPolicy) NoteDesync(kind string, tick sim.Tick) {
	if p == nil {
		return
	}
	p.desyncs++
	if len(p.reasons) < desyncReasonLimit {
		p.reasons = append(p.reasons, DesyncReason{Kind: kind, Tick: tick})
	}
	p.evaluate()
}

func (p *DesyncPolicy) evaluate() {
	if p == nil || p.pending || p.desyncs < desyncMinimum {
		return
	}
	attempts := p.rollbacks + p.desyncs
	if p.desyncs*100 >= attempts*desyncThresholdPercent {
		p.pending = true
	}
}

// Consume returns the pending signal once and resets the counters.
func (p *DesyncPolicy) Consume() (DesyncSignal, bool) {
	if p == nil || !p.pending {
		return DesyncSignal{}, false
	}
	signal := DesyncSignal{
		Desyncs:   p.desyncs,
		Rollbacks: p.rollbacks,
		Reasons:   append([]DesyncReason(nil), p.reasons...),
	}
	p.pending = false
	p.rollbacks = 0
	p.desyncs = 0
	if len(p.reasons) > 0 {
		p.reasons = p.reasons[:0]
	}
	return signal, true
}

func (s DesyncSignal) Summary() string {
	if s.Desyncs == 0 && s.Rollbacks == 0 {
		return ""
	}
	return fmt.Sprintf("desyncs=%d rollbacks=%d reasons=%v", s.Desyncs, s.Rollbacks, s.Reasons)
}

// ReasonStrings flattens the reasons for event payloads.
func (s DesyncSignal) ReasonStrings() []string {
	out := make([]string, 0, len(s.Reasons))
	for _, reason := range s.Reasons {
		out = append(out, fmt.Sprintf("%s@%d", reason.Kind, reason.Tick))
	}
	return out
}
