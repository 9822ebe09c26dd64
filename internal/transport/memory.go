package transport

import "sync"

// MemoryNetwork connects in-process endpoints, used when a server and client
// share one process. Queues are unbounded, so producers never block.
type MemoryNetwork struct {
	mu        sync.Mutex
	endpoints map[Peer]*Memory
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{endpoints: make(map[Peer]*Memory)}
}

// Endpoint registers (or returns the existing) endpoint for peer.
func (n *MemoryNetwork) Endpoint(peer Peer) *Memory {
	n.mu.Lock()
	defer n.mu.Unlock()
	if existing, ok := n.endpoints[peer]; ok {
		return existing
	}
	endpoint := &Memory{network: n, peer: peer}
	n.endpoints[peer] = endpoint
	return endpoint
}

// Peers lists the registered endpoints.
func (n *MemoryNetwork) Peers() []Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	peers := make([]Peer, 0, len(n.endpoints))
	for peer := range n.endpoints {
		peers = append(peers, peer)
	}
	return peers
}

func (n *MemoryNetwork) remove(peer Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.endpoints, peer)
}

func (n *MemoryNetwork) targets(from, to Peer) ([]*Memory, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if to != Broadcast {
		endpoint, ok := n.endpoints[to]
		if !ok {
			return nil, ErrUnknownPeer
		}
		return []*Memory{endpoint}, nil
	}
	targets := make([]*Memory, 0, len(n.endpoints))
	for peer, endpoint := range n.endpoints {
		if peer != from {
			targets = append(targets, endpoint)
		}
	}
	return targets, nil
}

// Memory is one endpoint of a MemoryNetwork.
type Memory struct {
	network *MemoryNetwork
	peer    Peer

	mu     sync.Mutex
	queue  [][]byte
	closed bool
}

// Peer returns the endpoint's own name.
func (m *Memory) Peer() Peer {
	return m.peer
}

func (m *Memory) Send(peer Peer, payload []byte) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	targets, err := m.network.targets(m.peer, peer)
	if err != nil {
		return err
	}
	for _, target := range targets {
		target.deliver(append([]byte(nil), payload...))
	}
	return nil
}

func (m *Memory) deliver(payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.queue = append(m.queue, payload)
}

func (m *Memory) Recv() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	drained := m.queue
	m.queue = nil
	return drained
}

func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.queue = nil
	m.mu.Unlock()
	m.network.remove(m.peer)
	return nil
}
