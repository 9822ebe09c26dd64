package transport

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/gsharad007/spacerama/internal/telemetry"
	"github.com/gsharad007/spacerama/logging"
)

// ConditionerConfig simulates a bad link on the receiving side.
type ConditionerConfig struct {
	Latency time.Duration
	Jitter  time.Duration
	// Loss is the probability in [0, 1] that an inbound datagram is dropped.
	Loss float64
	Seed int64
}

// Enabled reports whether the conditioner would change anything.
func (c ConditionerConfig) Enabled() bool {
	return c.Latency > 0 || c.Jitter > 0 || c.Loss > 0
}

type delayed struct {
	release time.Time
	seq     uint64
	payload []byte
}

// Conditioner decorates a Transport with inbound latency, jitter and loss.
// With a fixed seed and clock the outcome is reproducible.
type Conditioner struct {
	next    Transport
	cfg     ConditionerConfig
	clock   logging.Clock
	metrics telemetry.Metrics

	mu      sync.Mutex
	rng     *rand.Rand
	pending []delayed
	seq     uint64
}

func NewConditioner(next Transport, cfg ConditionerConfig, clock logging.Clock, metrics telemetry.Metrics) *Conditioner {
	if clock == nil {
		clock = logging.SystemClock{}
	}
	if cfg.Loss < 0 {
		cfg.Loss = 0
	}
	if cfg.Loss > 1 {
		cfg.Loss = 1
	}
	return &Conditioner{
		next:    next,
		cfg:     cfg,
		clock:   clock,
		metrics: metrics,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (c *Conditioner) Send(peer Peer, payload []byte) error {
	return c.next.Send(peer, payload)
}

// Recv pulls from the wrapped transport, schedules each datagram and returns
// the ones whose release time has passed, earliest first.
func (c *Conditioner) Recv() [][]byte {
	incoming := c.next.Recv()
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, payload := range incoming {
		if c.cfg.Loss > 0 && c.rng.Float64() < c.cfg.Loss {
			if c.metrics != nil {
				c.metrics.Add(telemetry.MetricConditionerDropped, 1)
			}
			continue
		}
		delay := c.cfg.Latency
		if c.cfg.Jitter > 0 {
			delay += time.Duration((c.rng.Float64()*2 - 1) * float64(c.cfg.Jitter))
		}
		if delay < 0 {
			delay = 0
		}
		c.seq++
		c.pending = append(c.pending, delayed{release: now.Add(delay), seq: c.seq, payload: payload})
	}
	if len(c.pending) == 0 {
		return nil
	}
	sort.Slice(c.pending, func(i, j int) bool {
		if c.pending[i].release.Equal(c.pending[j].release) {
			return c.pending[i].seq < c.pending[j].seq
		}
		return c.pending[i].release.Before(c.pending[j].release)
	})
	ready := 0
	for ready < len(c.pending) && !c.pending[ready].release.After(now) {
		ready++
	}
	if ready == 0 {
		return nil
	}
	out := make([][]byte, ready)
	for i := 0; i < ready; i++ {
		out[i] = c.pending[i].payload
	}
	c.pending = append(c.pending[:0], c.pending[ready:]...)
	return out
}

// Pending reports how many datagrams are held back.
func (c *Conditioner) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Conditioner) Close() error {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	return c.next.Close()
}
