package player

import (
	"context"
)

// EventKind identifies an event republished to observers.
type EventKind string

const (
	EventInterval     EventKind = "interval"     // Periodic engine tick
	EventEnded        EventKind = "ended"        // Playback reached the end
	EventStateLoading EventKind = "stateloading" // A command step is being dispatched
)

// Event is delivered to observers.
type Event struct {
	PlayerID string
	Kind     EventKind
	Data     map[string]any
}

// Observer receives player events. Observers are called synchronously in
// publish order and must not block.
type Observer func(Event)

// Outcome is the eventual result of a command.
type Outcome struct {
	done chan struct{}
	err  error
}

func newOutcome() *Outcome {
	return &Outcome{done: make(chan struct{})}
}

// settled returns an already resolved outcome.
func settled(err error) *Outcome {
	o := newOutcome()
	o.resolve(err)
	return o
}

func (o *Outcome) resolve(err error) {
	o.err = err
	close(o.done)
}

// Done is closed when the command has completed.
func (o *Outcome) Done() <-chan struct{} {
	return o.done
}

// Err returns the command error. It is nil until Done is closed.
func (o *Outcome) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}

// Wait blocks until the command completes or ctx is done.
func (o *Outcome) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
