package replay

import "time"

// Recording is one recorded session.
type Recording struct {
	ID                 string `gorm:"primaryKey;size:36"`
	CreatedAt          time.Time
	Mode               string
	Actors             []byte
	InputDelayTicks    int
	MaxPredictionTicks int
	TickRate           int
	ProtocolID         uint64
	Ticks              []TickRecord `gorm:"foreignKey:RecordingID"`
}

// TickRecord holds the final inputs and state checksum of one tick.
type TickRecord struct {
	ID          uint   `gorm:"primaryKey"`
	RecordingID string `gorm:"index:idx_recording_tick,priority:1;size:36"`
	Tick        uint64 `gorm:"index:idx_recording_tick,priority:2"`
	// Checksum is the xxhash of the tick's snapshot, stored bit-for-bit.
	Checksum int64
	Inputs   []byte
}

// Models lists every table the replay schema migrates.
var Models = []any{
	&Recording{},
	&TickRecord{},
}
