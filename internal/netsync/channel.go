// Package netsync turns transport datagrams into per-tick remote updates.
// Nothing here assumes ordering: duplicates, gaps and reordering flow
// straight through to the input buffer and rollback engine, which are
// idempotent per (actor, tick).
package netsync

import (
	"context"

	"github.com/gsharad007/spacerama/internal/input"
	"github.com/gsharad007/spacerama/internal/sim"
	"github.com/gsharad007/spacerama/internal/snapshot"
	"github.com/gsharad007/spacerama/internal/telemetry"
	"github.com/gsharad007/spacerama/internal/transport"
	"github.com/gsharad007/spacerama/logging"
	loggingnetwork "github.com/gsharad007/spacerama/logging/network"
)

// DefaultInputRedundancy is how many recent inputs ride along with each send.
const DefaultInputRedundancy = 8

// RemoteUpdate is either a confirmed remote input or an authoritative state.
type RemoteUpdate struct {
	Kind  Kind
	Input InputUpdate
	State StateUpdate
}

// InputUpdate confirms an actor's input for one tick.
type InputUpdate struct {
	Actor  input.ActorID
	Tick   sim.Tick
	Action input.ActionVector
}

// StateUpdate carries trusted state for every entity at Tick.
type StateUpdate struct {
	Tick     sim.Tick
	Entities []snapshot.EntityState
}

// Config tunes a Channel.
type Config struct {
	ProtocolID uint64
	Local      input.ActorID
	// Redundancy is the number of recent local inputs repeated per send.
	Redundancy int
	Logger     telemetry.Logger
	Metrics    telemetry.Metrics
	Publisher  logging.Publisher
}

// Channel is the synchronization layer over one transport. It belongs to a
// single session goroutine.
type Channel struct {
	transport transport.Transport
	cfg       Config
	history   []InputRecord
	lastTick  sim.Tick
}

func NewChannel(tr transport.Transport, cfg Config) *Channel {
	if cfg.Redundancy <= 0 {
		cfg.Redundancy = DefaultInputRedundancy
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	return &Channel{
		transport: tr,
		cfg:       cfg,
		history:   make([]InputRecord, 0, cfg.Redundancy),
	}
}

// SendInput broadcasts the local confirmed input for tick together with the
// previous Redundancy-1 inputs.
func (c *Channel) SendInput(tick sim.Tick, action input.ActionVector) error {
	if c == nil || c.transport == nil {
		return nil
	}
	c.lastTick = tick
	if len(c.history) == c.cfg.Redundancy {
		copy(c.history, c.history[1:])
		c.history = c.history[:len(c.history)-1]
	}
	c.history = append(c.history, InputRecord{Tick: uint64(tick), Action: action})
	data, err := Encode(Envelope{
		Protocol: c.cfg.ProtocolID,
		Kind:     KindInput,
		Actor:    uint64(c.cfg.Local),
		Inputs:   append([]InputRecord(nil), c.history...),
	})
	if err != nil {
		return err
	}
	return c.transport.Send(transport.Broadcast, data)
}

// SendState broadcasts authoritative state for tick.
func (c *Channel) SendState(tick sim.Tick, entities []snapshot.EntityState) error {
	if c == nil || c.transport == nil {
		return nil
	}
	c.lastTick = tick
	data, err := Encode(Envelope{
		Protocol: c.cfg.ProtocolID,
		Kind:     KindState,
		Actor:    uint64(c.cfg.Local),
		State:    &StateRecord{Tick: uint64(tick), Entities: snapshot.Clone(entities)},
	})
	if err != nil {
		return err
	}
	return c.transport.Send(transport.Broadcast, data)
}

// Poll drains the transport without blocking. Malformed datagrams and
// envelopes for another protocol are dropped and counted.
func (c *Channel) Poll() []RemoteUpdate {
	if c == nil || c.transport == nil {
		return nil
	}
	datagrams := c.transport.Recv()
	if len(datagrams) == 0 {
		return nil
	}
	updates := make([]RemoteUpdate, 0, len(datagrams))
	for _, data := range datagrams {
		env, err := Decode(data)
		if err != nil {
			c.count(telemetry.MetricMalformedMessages)
			loggingnetwork.MalformedMessage(context.Background(), c.cfg.Publisher, uint64(c.lastTick), c.localRef(), loggingnetwork.MalformedPayload{
				Bytes: len(data),
				Error: err.Error(),
			}, nil)
			continue
		}
		if env.Protocol != c.cfg.ProtocolID {
			c.count(telemetry.MetricProtocolMismatches)
			loggingnetwork.ProtocolMismatch(context.Background(), c.cfg.Publisher, uint64(c.lastTick), c.localRef(), loggingnetwork.ProtocolMismatchPayload{
				Expected: c.cfg.ProtocolID,
				Received: env.Protocol,
			}, nil)
			continue
		}
		if input.ActorID(env.Actor) == c.cfg.Local {
			continue
		}
		switch env.Kind {
		case KindInput:
			for _, record := range env.Inputs {
				updates = append(updates, RemoteUpdate{
					Kind: KindInput,
					Input: InputUpdate{
						Actor:  input.ActorID(env.Actor),
						Tick:   sim.Tick(record.Tick),
						Action: record.Action,
					},
				})
			}
		case KindState:
			updates = append(updates, RemoteUpdate{
				Kind: KindState,
				State: StateUpdate{
					Tick:     sim.Tick(env.State.Tick),
					Entities: env.State.Entities,
				},
			})
		}
	}
	return updates
}

// Close closes the underlying transport.
func (c *Channel) Close() error {
	if c == nil || c.transport == nil {
		return nil
	}
	return c.transport.Close()
}

func (c *Channel) count(key string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.Add(key, 1)
	}
}

func (c *Channel) localRef() logging.EntityRef {
	return logging.EntityRef{ID: formatActor(c.cfg.Local), Kind: logging.EntityKindActor}
}
