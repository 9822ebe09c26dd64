// Package transport moves opaque datagrams between session peers. No
// ordering or delivery guarantee is made by any implementation; the rollback
// core absorbs loss, duplication and reordering.
package transport

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("transport: closed")
	// ErrUnknownPeer is returned when a datagram targets a peer that was never registered.
	ErrUnknownPeer = errors.New("transport: unknown peer")
)

// Peer names an endpoint. Broadcast targets every other endpoint.
type Peer string

const Broadcast Peer = "*"

// Transport is the unreliable datagram channel the synchronization layer runs on.
type Transport interface {
	// Send queues payload for peer. It never blocks on the receiver.
	Send(peer Peer, payload []byte) error
	// Recv drains everything that arrived since the previous call without blocking.
	Recv() [][]byte
	Close() error
}

// RelayFrame wraps a datagram for transports that hop through the relay server.
type RelayFrame struct {
	From    Peer   `msgpack:"f"`
	To      Peer   `msgpack:"t"`
	Payload []byte `msgpack:"p"`
}

// EncodeFrame serializes a relay frame.
func EncodeFrame(frame RelayFrame) ([]byte, error) {
	data, err := msgpack.Marshal(&frame)
	if err != nil {
		return nil, fmt.Errorf("encode relay frame: %w", err)
	}
	return data, nil
}

// DecodeFrame parses a relay frame.
func DecodeFrame(data []byte) (RelayFrame, error) {
	var frame RelayFrame
	if err := msgpack.Unmarshal(data, &frame); err != nil {
		return RelayFrame{}, fmt.Errorf("decode relay frame: %w", err)
	}
	return frame, nil
}
