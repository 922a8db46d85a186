package dictation

import (
	"errors"
	"fmt"

	"github.com/roelfdiedericks/goscribe/internal/bus"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
)

// State is the recording lifecycle: Idle -> Recording -> Transcribing -> Idle.
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateTranscribing State = "transcribing"
)

// Record event types sent by the capture UI.
const (
	EventStart = "start"
	EventEnd   = "end"
)

// ErrInvalidTransition is returned for a state change the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid recording state transition")

var transitions = map[State][]State{
	StateIdle:         {StateRecording, StateTranscribing},
	StateRecording:    {StateIdle, StateTranscribing},
	StateTranscribing: {StateIdle},
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state
}

func (p *Pipeline) transition(to State) error {
	p.stateMu.Lock()
	from := p.state
	if from == to {
		p.stateMu.Unlock()
		return nil
	}
	if !allowed(from, to) {
		p.stateMu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	p.state = to
	p.stateMu.Unlock()

	L_debug("dictation: state changed", "from", from, "to", to)
	if p.events != nil {
		p.events.Publish(bus.TopicRecordingState, string(to), "pipeline")
	}
	return nil
}

// RecordEvent drives Idle <-> Recording from the capture UI ("start" / "end").
func (p *Pipeline) RecordEvent(kind string) error {
	switch kind {
	case EventStart:
		if p.State() != StateIdle {
			return fmt.Errorf("%w: start while %s", ErrInvalidTransition, p.State())
		}
		return p.transition(StateRecording)
	case EventEnd:
		if p.State() != StateRecording {
			return fmt.Errorf("%w: end while %s", ErrInvalidTransition, p.State())
		}
		return p.transition(StateIdle)
	}
	return fmt.Errorf("unknown record event %q", kind)
}

// Subscribe calls fn on every state change. Returns the id for Unsubscribe on the bus.
func (p *Pipeline) Subscribe(fn func(State)) bus.SubscriptionID {
	return p.events.Subscribe(bus.TopicRecordingState, func(e bus.Event) {
		if s, ok := e.Data.(string); ok {
			fn(State(s))
		}
	})
}
