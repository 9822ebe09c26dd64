package snapshot

import "github.com/gsharad007/spacerama/internal/sim"

type slot struct {
	tick     sim.Tick
	valid    bool
	entities []EntityState
}

// Store keeps the most recent snapshots in a ring indexed by tick modulo its
// capacity. A slot only answers for the tick it was written for, so a load
// of an overwritten tick reports eviction instead of returning stale data.
type Store struct {
	slots []slot
}

// NewStore allocates a ring holding capacity ticks.
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{slots: make([]slot, capacity)}
}

// Capacity reports how many ticks the ring retains.
func (s *Store) Capacity() int {
	if s == nil {
		return 0
	}
	return len(s.slots)
}

// Save stores a deep copy of entities for tick, overwriting the slot.
func (s *Store) Save(tick sim.Tick, entities []EntityState) {
	if s == nil {
		return
	}
	entry := &s.slots[s.index(tick)]
	entry.tick = tick
	entry.valid = true
	entry.entities = append(entry.entities[:0], entities...)
}

// Load returns a copy of the snapshot for tick, or false when that tick was
// never saved or has been overwritten.
func (s *Store) Load(tick sim.Tick) ([]EntityState, bool) {
	if s == nil {
		return nil, false
	}
	entry := s.slots[s.index(tick)]
	if !entry.valid || entry.tick != tick {
		return nil, false
	}
	return Clone(entry.entities), true
}

// Patch replaces one entity inside a stored tick. It returns false when the
// tick is not held or the entity is unknown.
func (s *Store) Patch(tick sim.Tick, state EntityState) bool {
	if s == nil {
		return false
	}
	entry := &s.slots[s.index(tick)]
	if !entry.valid || entry.tick != tick {
		return false
	}
	for i := range entry.entities {
		if entry.entities[i].Entity == state.Entity {
			entry.entities[i] = state
			return true
		}
	}
	return false
}

// Oldest reports the earliest tick still held, if any.
func (s *Store) Oldest() (sim.Tick, bool) {
	if s == nil {
		return 0, false
	}
	var (
		oldest sim.Tick
		found  bool
	)
	for _, entry := range s.slots {
		if entry.valid && (!found || entry.tick < oldest) {
			oldest = entry.tick
			found = true
		}
	}
	return oldest, found
}

// Reset drops every snapshot.
func (s *Store) Reset() {
	if s == nil {
		return
	}
	for i := range s.slots {
		s.slots[i] = slot{}
	}
}

func (s *Store) index(tick sim.Tick) int {
	return int(uint64(tick) % uint64(len(s.slots)))
}
