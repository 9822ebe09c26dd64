// Package ws hosts the relay that fans session datagrams out between peers
// connected over websockets.
package ws

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gsharad007/spacerama/internal/telemetry"
	"github.com/gsharad007/spacerama/internal/transport"
	"github.com/gsharad007/spacerama/logging"
	loggingnetwork "github.com/gsharad007/spacerama/logging/network"
)

const (
	writeWait = 10 * time.Second

	metricRelayFrames    = "relay_frames_total"
	metricRelayDropped   = "relay_frames_dropped_total"
	metricRelayMalformed = "relay_frames_malformed_total"
	metricRelayPeers     = "relay_peers"
)

type HandlerConfig struct {
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
}

// Handler upgrades relay connections and routes frames between them. A peer
// id may be held by one connection at a time; a reconnect replaces the
// previous one.
type Handler struct {
	upgrader  websocket.Upgrader
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	publisher logging.Publisher

	mu    sync.RWMutex
	peers map[transport.Peer]*peerConn
	wg    sync.WaitGroup
}

type peerConn struct {
	id      transport.Peer
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peerConn) write(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.BinaryMessage, data)
}

func NewHandler(cfg HandlerConfig) *Handler {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Handler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		publisher: publisher,
		peers:     make(map[transport.Peer]*peerConn),
	}
}

// Handle serves one relay connection until the peer goes away.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	id := transport.Peer(r.URL.Query().Get("id"))
	if id == "" || id == transport.Broadcast {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logf("upgrade failed for %s: %v", id, err)
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()
	peer := &peerConn{id: id, conn: conn}
	h.register(r.Context(), peer, r.RemoteAddr)
	h.serve(r.Context(), peer)
}

func (h *Handler) serve(ctx context.Context, peer *peerConn) {
	defer h.unregister(ctx, peer)
	for {
		_, data, err := peer.conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := transport.DecodeFrame(data)
		if err != nil {
			loggingnetwork.MalformedMessage(ctx, h.publisher, 0, peerRef(peer.id), loggingnetwork.MalformedPayload{Bytes: len(data), Error: err.Error()}, nil)
			h.count(metricRelayMalformed, 1)
			continue
		}
		// Senders cannot speak for another peer.
		frame.From = peer.id
		h.route(frame)
	}
}

func (h *Handler) route(frame transport.RelayFrame) {
	data, err := transport.EncodeFrame(frame)
	if err != nil {
		h.logf("failed to encode frame from %s: %v", frame.From, err)
		return
	}

	h.mu.RLock()
	var targets []*peerConn
	if frame.To == transport.Broadcast {
		targets = make([]*peerConn, 0, len(h.peers))
		for id, peer := range h.peers {
			if id != frame.From {
				targets = append(targets, peer)
			}
		}
	} else if peer, ok := h.peers[frame.To]; ok {
		targets = append(targets, peer)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		h.count(metricRelayDropped, 1)
		return
	}
	for _, peer := range targets {
		if err := peer.write(data); err != nil {
			h.count(metricRelayDropped, 1)
			peer.conn.Close()
			continue
		}
		h.count(metricRelayFrames, 1)
	}
}

func (h *Handler) register(ctx context.Context, peer *peerConn, remote string) {
	h.mu.Lock()
	previous := h.peers[peer.id]
	h.peers[peer.id] = peer
	count := len(h.peers)
	h.mu.Unlock()

	if previous != nil {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "replaced")
		previous.writeMu.Lock()
		previous.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
		previous.writeMu.Unlock()
		previous.conn.Close()
	}
	h.store(metricRelayPeers, uint64(count))
	loggingnetwork.PeerConnected(ctx, h.publisher, 0, peerRef(peer.id), loggingnetwork.PeerPayload{Peer: string(peer.id), Remote: remote}, nil)
}

func (h *Handler) unregister(ctx context.Context, peer *peerConn) {
	h.mu.Lock()
	current, ok := h.peers[peer.id]
	if ok && current == peer {
		delete(h.peers, peer.id)
	}
	count := len(h.peers)
	h.mu.Unlock()

	peer.conn.Close()
	if !ok || current != peer {
		return
	}
	h.store(metricRelayPeers, uint64(count))
	loggingnetwork.PeerDisconnected(ctx, h.publisher, 0, peerRef(peer.id), loggingnetwork.PeerPayload{Peer: string(peer.id), Reason: "closed"}, nil)
}

// Peers lists the connected peer ids in sorted order.
func (h *Handler) Peers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.peers))
	for id := range h.peers {
		out = append(out, string(id))
	}
	sort.Strings(out)
	return out
}

// Close disconnects every peer and waits for their handlers to return.
func (h *Handler) Close() {
	h.mu.Lock()
	peers := make([]*peerConn, 0, len(h.peers))
	for _, peer := range h.peers {
		peers = append(peers, peer)
	}
	h.mu.Unlock()
	for _, peer := range peers {
		peer.conn.Close()
	}
	h.wg.Wait()
}

func (h *Handler) count(key string, delta uint64) {
	if h.metrics != nil {
		h.metrics.Add(key, delta)
	}
}

func (h *Handler) store(key string, value uint64) {
	if h.metrics != nil {
		h.metrics.Store(key, value)
	}
}

func (h *Handler) logf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf("[relay] "+format, args...)
	}
}

func peerRef(id transport.Peer) logging.EntityRef {
	return logging.EntityRef{ID: string(id), Kind: logging.EntityKindPeer}
}
