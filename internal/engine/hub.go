package engine

import (
	"sync"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/audioplayer/internal/app/player"
)

// hub fans engine events out to per-player subscribers.
type hub struct {
	mu   sync.Mutex
	subs map[string][]*hubSub
	// buffer is the capacity of each subscriber channel.
	buffer int
}

// hubSub is one subscriber channel. done is closed before ch so that a
// sender blocked on a full channel lets go first.
type hubSub struct {
	mu     sync.Mutex
	ch     chan player.EngineEvent
	done   chan struct{}
	closed bool
}

func newHub(buffer int) *hub {
	return &hub{
		subs:   make(map[string][]*hubSub),
		buffer: buffer,
	}
}

// lossless reports whether dropping an event of kind would strand a player
// in a stale lifecycle state.
func lossless(kind player.EngineEventKind) bool {
	switch kind {
	case player.KindEnded, player.KindError, player.KindPause, player.KindForcePause, player.KindLooped:
		return true
	default:
		return false
	}
}

// subscribe returns a channel of events for id and a function that removes
// and closes it.
func (h *hub) subscribe(id string) (<-chan player.EngineEvent, func()) {
	sub := &hubSub{
		ch:   make(chan player.EngineEvent, h.buffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[id] = append(h.subs[id], sub)
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			subs := h.subs[id]
			for i, s := range subs {
				if s == sub {
					h.subs[id] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(h.subs[id]) == 0 {
				delete(h.subs, id)
			}
			h.mu.Unlock()

			close(sub.done)
			sub.mu.Lock()
			sub.closed = true
			close(sub.ch)
			sub.mu.Unlock()
		})
	}
}

// emit delivers an event. Progress events are dropped for a full subscriber;
// lifecycle events wait until the subscriber reads them or unsubscribes.
func (h *hub) emit(id string, kind player.EngineEventKind, data map[string]any) {
	h.mu.Lock()
	subs := append([]*hubSub(nil), h.subs[id]...)
	h.mu.Unlock()

	ev := player.EngineEvent{PlayerID: id, Kind: kind, Data: data}
	for _, sub := range subs {
		sub.send(ev)
	}
}

func (s *hubSub) send(ev player.EngineEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if lossless(ev.Kind) {
		select {
		case s.ch <- ev:
		case <-s.done:
		}
		return
	}
	select {
	case s.ch <- ev:
	default:
		zlog.Warn().Msgf("engine: dropping %s event for %s", ev.Kind, ev.PlayerID)
	}
}

func (h *hub) count(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[id])
}
