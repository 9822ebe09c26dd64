package sinks

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gsharad007/spacerama/logging"
)

// JSON emits newline-delimited structured events through zerolog.
type JSON struct {
	mu        sync.Mutex
	writer    *bufio.Writer
	logger    zerolog.Logger
	autoFlush bool
	stop      chan struct{}
	done      chan struct{}
}

// NewJSON constructs a JSON sink writing to the provided io.Writer. A
// non-positive flushInterval flushes after every event.
func NewJSON(w io.Writer, flushInterval time.Duration) *JSON {
	if w == nil {
		w = io.Discard
	}
	buf := bufio.NewWriter(w)
	sink := &JSON{
		writer:    buf,
		logger:    zerolog.New(buf).Level(zerolog.DebugLevel),
		autoFlush: flushInterval <= 0,
	}
	if flushInterval > 0 {
		sink.stop = make(chan struct{})
		sink.done = make(chan struct{})
		go sink.periodicFlush(flushInterval)
	}
	return sink
}

// Write satisfies logging.Sink.
func (s *JSON) Write(event logging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.entry(event.Severity).
		Time("time", event.Time).
		Str("type", string(event.Type)).
		Uint64("tick", event.Tick).
		Str("category", event.Category).
		Dict("actor", zerolog.Dict().Str("id", event.Actor.ID).Str("kind", string(event.Actor.Kind)))
	if len(event.Targets) > 0 {
		targets := zerolog.Arr()
		for _, target := range event.Targets {
			targets = targets.Dict(zerolog.Dict().Str("id", target.ID).Str("kind", string(target.Kind)))
		}
		entry = entry.Array("targets", targets)
	}
	if event.Payload != nil {
		entry = entry.Interface("payload", event.Payload)
	}
	if len(event.Extra) > 0 {
		entry = entry.Dict("extra", zerolog.Dict().Fields(event.Extra))
	}
	entry.Send()

	if s.autoFlush {
		return s.writer.Flush()
	}
	return nil
}

func (s *JSON) entry(severity logging.Severity) *zerolog.Event {
	switch severity {
	case logging.SeverityDebug:
		return s.logger.Debug()
	case logging.SeverityWarn:
		return s.logger.Warn()
	case logging.SeverityError:
		return s.logger.Error()
	default:
		return s.logger.Info()
	}
}

// Close stops the flush loop and flushes buffers.
func (s *JSON) Close(context.Context) error {
	if s.stop != nil {
		select {
		case <-s.stop:
		default:
			close(s.stop)
			<-s.done
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Flush()
}

func (s *JSON) periodicFlush(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			_ = s.writer.Flush()
			s.mu.Unlock()
		}
	}
}
