package netsync

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/gsharad007/spacerama/internal/input"
	"github.com/gsharad007/spacerama/internal/snapshot"
)

// Kind tags the payload carried by an Envelope.
type Kind uint8

const (
	KindInput Kind = iota + 1
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindState:
		return "state"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// InputRecord is one confirmed input on the wire.
type InputRecord struct {
	Tick   uint64             `msgpack:"k"`
	Action input.ActionVector `msgpack:"a"`
}

// StateRecord is an authoritative snapshot on the wire.
type StateRecord struct {
	Tick     uint64                 `msgpack:"k"`
	Entities []snapshot.EntityState `msgpack:"e"`
}

// Envelope is the unit exchanged between peers. Input envelopes carry the
// sender's most recent confirmed inputs so a single lost datagram heals on
// the next one.
type Envelope struct {
	Protocol uint64        `msgpack:"pid"`
	Kind     Kind          `msgpack:"kind"`
	Actor    uint64        `msgpack:"actor"`
	Inputs   []InputRecord `msgpack:"inputs,omitempty"`
	State    *StateRecord  `msgpack:"state,omitempty"`
}

// Encode serializes an envelope with msgpack.
func Encode(env Envelope) ([]byte, error) {
	data, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Kind, err)
	}
	return data, nil
}

// Decode parses an envelope and checks it is structurally complete.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Kind {
	case KindInput:
		if len(env.Inputs) == 0 {
			return Envelope{}, fmt.Errorf("decode envelope: input envelope without inputs")
		}
	case KindState:
		if env.State == nil {
			return Envelope{}, fmt.Errorf("decode envelope: state envelope without state")
		}
	default:
		return Envelope{}, fmt.Errorf("decode envelope: unknown %s", env.Kind)
	}
	return env, nil
}
