// Package player provides the control plane for a single audio player instance.
package player

import (
	"github.com/cockroachdb/errors"
)

// State represents the lifecycle state of a player.
// Declaration order is the rank order used by the predicates.
type State int

const (
	StateError     State = iota // Engine or command failure; left only by Destroy
	StateIdle                   // Created or destroyed, no media loaded
	StatePreparing              // Prepare issued, waiting for the engine
	StatePrepared               // Media loaded, not playing
	StatePlaying                // Playing
	StatePaused                 // Paused
	StateSeeking                // Seek in flight
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateError:
		return "error"
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StatePrepared:
		return "prepared"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateSeeking:
		return "seeking"
	default:
		return "unknown"
	}
}

// CanPrepare reports whether a prepare may be issued.
func (s State) CanPrepare() bool { return s == StateIdle }

// CanPlay reports whether media is loaded.
func (s State) CanPlay() bool { return s >= StatePrepared }

// CanStop reports whether playback has started.
func (s State) CanStop() bool { return s >= StatePlaying }

// IsStopped reports whether playback has not started.
func (s State) IsStopped() bool { return s <= StatePrepared }

func (s State) IsPrepared() bool { return s == StatePrepared }
func (s State) IsPlaying() bool  { return s == StatePlaying }
func (s State) IsPaused() bool   { return s == StatePaused }

// Trigger is an input to the state machine.
type Trigger int

const (
	TriggerPrepare  Trigger = iota // prepare requested
	TriggerPrepared                // prepare succeeded
	TriggerFail                    // command failed or engine error
	TriggerPlay
	TriggerPause
	TriggerSeek
	TriggerSeekDone
	TriggerStop
	TriggerEnded
	TriggerLooped
	TriggerReset
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	switch t {
	case TriggerPrepare:
		return "prepare"
	case TriggerPrepared:
		return "prepared"
	case TriggerFail:
		return "fail"
	case TriggerPlay:
		return "play"
	case TriggerPause:
		return "pause"
	case TriggerSeek:
		return "seek"
	case TriggerSeekDone:
		return "seekdone"
	case TriggerStop:
		return "stop"
	case TriggerEnded:
		return "ended"
	case TriggerLooped:
		return "looped"
	case TriggerReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Next returns the state that trigger t leads to from state s.
// SEEKING is resolved by the machine, so TriggerSeekDone is illegal here.
func Next(s State, t Trigger) (State, error) {
	switch t {
	case TriggerFail:
		return StateError, nil
	case TriggerReset:
		return StateIdle, nil
	case TriggerLooped:
		return s, nil
	}

	to := s
	legal := false
	switch t {
	case TriggerPrepare:
		legal, to = s == StateIdle, StatePreparing
	case TriggerPrepared:
		legal, to = s == StatePreparing, StatePrepared
	case TriggerPlay:
		legal, to = s == StatePrepared || s == StatePaused, StatePlaying
	case TriggerPause:
		legal, to = s == StatePlaying, StatePaused
	case TriggerSeek:
		legal, to = s == StatePrepared || s == StatePlaying || s == StatePaused || s == StateSeeking, StateSeeking
	case TriggerStop, TriggerEnded:
		legal, to = s == StatePlaying || s == StatePaused, StatePrepared
	}
	if !legal {
		return s, errors.Wrapf(ErrIllegalTransition, "%s from %s", t, s)
	}
	return to, nil
}

// machine holds the live lifecycle state and the state saved across a seek.
type machine struct {
	state   State
	preSeek State // meaningful only while state is StateSeeking

	// queued is the state the queued lifecycle commands lead to; it is
	// meaningful only while inflight is positive.
	queued   State
	inflight int
}

// effective returns the state that play/pause/stop/ended are judged against.
func (m *machine) effective() State {
	if m.state == StateSeeking {
		return m.preSeek
	}
	return m.state
}

// projected returns the state a new request is judged against: where the
// queued lifecycle commands leave the player.
func (m *machine) projected() State {
	if m.state == StateError || m.inflight == 0 {
		return m.effective()
	}
	return m.queued
}

// check validates t against the effective state and returns the target state.
func (m *machine) check(t Trigger) (State, error) {
	if t == TriggerSeek {
		return Next(m.state, t)
	}
	return Next(m.effective(), t)
}

// request validates a requested lifecycle trigger against the projected
// state. Seek is judged as an in-progress transition and is not queued.
func (m *machine) request(t Trigger) (State, error) {
	to, err := Next(m.projected(), t)
	if err != nil {
		return to, err
	}
	switch t {
	case TriggerSeek:
	case TriggerPrepare:
		m.queued = StatePrepared
		m.inflight++
	default:
		m.queued = to
		m.inflight++
	}
	return to, nil
}

// begin applies an in-progress transition at request time.
func (m *machine) begin(t Trigger) error {
	to, err := m.request(t)
	if err != nil {
		return err
	}
	if t == TriggerSeek && m.state != StateSeeking {
		m.preSeek = m.state
	}
	m.state = to
	return nil
}

// settled records that one queued lifecycle command finished.
func (m *machine) settled() {
	if m.inflight > 0 {
		m.inflight--
	}
}

// land applies a completed transition. When deferred and a seek is in flight,
// the result becomes the state restored after the seek.
// ERROR is left only by reset.
func (m *machine) land(to State, deferred bool) {
	switch {
	case m.state == StateError:
	case m.state == StateSeeking && deferred:
		m.preSeek = to
	default:
		m.state = to
	}
}

// finishSeek restores the state saved when the seek began.
func (m *machine) finishSeek() {
	if m.state == StateSeeking {
		m.state = m.preSeek
	}
}

func (m *machine) fail() {
	m.state = StateError
}

func (m *machine) reset() {
	*m = machine{state: StateIdle, preSeek: StateIdle}
}
