package network

import (
	"context"

	"github.com/gsharad007/spacerama/logging"
)

const (
	// EventMalformedMessage is emitted when an inbound payload cannot be decoded.
	EventMalformedMessage logging.EventType = "network.malformed_message"
	// EventProtocolMismatch is emitted when a peer speaks a different protocol id.
	EventProtocolMismatch logging.EventType = "network.protocol_mismatch"
	// EventPeerConnected is emitted when a peer joins the relay or session.
	EventPeerConnected logging.EventType = "network.peer_connected"
	// EventPeerDisconnected is emitted when a peer leaves.
	EventPeerDisconnected logging.EventType = "network.peer_disconnected"
)

// MalformedPayload captures decode failure details.
type MalformedPayload struct {
	Bytes int    `json:"bytes"`
	Error string `json:"error"`
}

// ProtocolMismatchPayload records both protocol ids.
type ProtocolMismatchPayload struct {
	Expected uint64 `json:"expected"`
	Received uint64 `json:"received"`
}

// PeerPayload describes a connection change.
type PeerPayload struct {
	Peer   string `json:"peer"`
	Remote string `json:"remote,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// MalformedMessage publishes a debug event; malformed traffic is expected on lossy links.
func MalformedMessage(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload MalformedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventMalformedMessage,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// ProtocolMismatch publishes a warning when an envelope carries the wrong protocol id.
func ProtocolMismatch(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ProtocolMismatchPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventProtocolMismatch,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// PeerConnected publishes an info event for a new peer.
func PeerConnected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PeerPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPeerConnected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// PeerDisconnected publishes an info event when a peer leaves.
func PeerDisconnected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PeerPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPeerDisconnected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}
