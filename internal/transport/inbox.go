package transport

import (
	"sync"

	"github.com/gsharad007/spacerama/internal/telemetry"
)

const inboxOccupancyMetricKey = "transport_inbox_occupancy"

// Inbox stores received datagrams in a fixed-size ring. It is safe for
// concurrent producers and a single consumer. A full inbox drops the newest
// datagram, which the session treats like packet loss.
type Inbox struct {
	mu      sync.Mutex
	data    [][]byte
	head    int
	tail    int
	count   int
	metrics telemetry.Metrics
}

// NewInbox constructs a ring with the provided capacity.
func NewInbox(capacity int, metrics telemetry.Metrics) *Inbox {
	if capacity < 1 {
		capacity = 1
	}
	return &Inbox{
		data:    make([][]byte, capacity),
		metrics: metrics,
	}
}

// Capacity reports the maximum number of datagrams the ring holds.
func (b *Inbox) Capacity() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Push stages a datagram, returning false if the ring is full.
func (b *Inbox) Push(payload []byte) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == len(b.data) {
		if b.metrics != nil {
			b.metrics.Add(telemetry.MetricInboxDropped, 1)
		}
		return false
	}
	b.data[b.tail] = payload
	b.tail = (b.tail + 1) % len(b.data)
	b.count++
	b.storeOccupancyLocked()
	return true
}

// Drain returns all staged datagrams in FIFO order and clears the ring.
func (b *Inbox) Drain() [][]byte {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return nil
	}
	drained := make([][]byte, b.count)
	for i := 0; i < b.count; i++ {
		idx := (b.head + i) % len(b.data)
		drained[i] = b.data[idx]
		b.data[idx] = nil
	}
	b.head = 0
	b.tail = 0
	b.count = 0
	b.storeOccupancyLocked()
	return drained
}

// Len reports the number of staged datagrams.
func (b *Inbox) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *Inbox) storeOccupancyLocked() {
	if b.metrics == nil {
		return
	}
	b.metrics.Store(inboxOccupancyMetricKey, uint64(b.count))
}
