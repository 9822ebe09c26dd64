package netsync

import (
	"strconv"

	"github.com/gsharad007/spacerama/internal/input"
	"github.com/gsharad007/spacerama/internal/transport"
)

func formatActor(actor input.ActorID) string {
	return strconv.FormatUint(uint64(actor), 10)
}

// PeerFor names the transport peer of an actor.
func PeerFor(actor input.ActorID) transport.Peer {
	return transport.Peer(formatActor(actor))
}
