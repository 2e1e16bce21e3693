package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
)

var (
	ErrClosed     = errors.New("event stream closed")
	ErrOutOfOrder = errors.New("event out of order")
)

const DefaultBuffer = 64

// Emitter accepts events for one turn.
type Emitter interface {
	Emit(ctx context.Context, ev model.Event) error
}

// Stream is a channel-backed Emitter. A single producer calls Emit and
// Close; any number of readers drain Events.
//
// Stream enforces the per-node ordering node_start, content*, then exactly
// one node_complete or node_error, with no interleaving between nodes.
type Stream struct {
	ch  chan model.Event
	now func() time.Time

	mu     sync.Mutex
	open   string
	closed bool
}

func NewStream(buffer int) *Stream {
	if buffer < 0 {
		buffer = DefaultBuffer
	}
	return &Stream{ch: make(chan model.Event, buffer), now: time.Now}
}

// Events is closed after Close.
func (s *Stream) Events() <-chan model.Event {
	return s.ch
}

// Emit stamps and delivers ev. It blocks while the buffer is full and gives
// up when ctx is done.
func (s *Stream) Emit(ctx context.Context, ev model.Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err := s.advance(ev); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if ev.ID == "" {
		ev.ID = "evt_" + uuid.NewString()
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = s.now().UnixMilli()
	}

	select {
	case s.ch <- ev:
		return nil
	default:
	}
	select {
	case s.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Stream) advance(ev model.Event) error {
	switch {
	case ev.Type == model.EventNodeStart:
		if s.open != "" {
			return fmt.Errorf("%w: node_start for %q while %q is open", ErrOutOfOrder, ev.NodeID, s.open)
		}
		s.open = ev.NodeID
	case ev.Type == model.EventContent:
		if s.open != ev.NodeID {
			return fmt.Errorf("%w: content for %q outside its node", ErrOutOfOrder, ev.NodeID)
		}
	case ev.Type.Terminal():
		if s.open != ev.NodeID {
			return fmt.Errorf("%w: %s for %q without node_start", ErrOutOfOrder, ev.Type, ev.NodeID)
		}
		s.open = ""
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrOutOfOrder, ev.Type)
	}
	return nil
}

// pending returns the id of the node whose terminal event is still due.
func (s *Stream) pending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Close ends the stream. It is idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Collect drains events until the channel closes or ctx is done.
func Collect(ctx context.Context, events <-chan model.Event) []model.Event {
	out := []model.Event{}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-ctx.Done():
			return out
		}
	}
}
