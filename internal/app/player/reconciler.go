package player

import (
	zlog "github.com/rs/zerolog/log"
)

// listen drains engine events until the stream closes or the player is closed.
func (p *Player) listen(events <-chan EngineEvent) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.reconcile(ev)
		case <-p.done:
			return
		}
	}
}

// reconcile applies one engine event to local state and republishes it
// where observers expect it.
func (p *Player) reconcile(ev EngineEvent) {
	switch ev.Kind {
	case KindInterval:
		p.publish(EventInterval, ev.Data)

	case KindEnded:
		if p.applyEnded() {
			p.publish(EventEnded, ev.Data)
		}

	case KindPause:
		p.applyPause(ev.Data)

	case KindForcePause:
		out := p.Pause()
		select {
		case <-out.Done():
			if err := out.Err(); err != nil {
				zlog.Debug().Msgf("player: %s: ignoring forced pause: %v", p.id, err)
			}
		default:
		}

	case KindLooped:
		p.mu.Lock()
		p.timeline.rewind(p.now())
		p.mu.Unlock()

	case KindError:
		p.mu.Lock()
		p.machine.fail()
		p.mu.Unlock()
		zlog.Error().Msgf("player: %s: engine error: %v", p.id, ev.Data)

	default:
		zlog.Debug().Msgf("player: %s: ignoring engine event %s", p.id, ev.Kind)
	}
}

func (p *Player) applyEnded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.machine.check(TriggerEnded); err != nil {
		zlog.Debug().Msgf("player: %s: ignoring ended: %v", p.id, err)
		return false
	}
	p.machine.land(StatePrepared, true)
	p.timeline.clear()
	return true
}

func (p *Player) applyPause(data map[string]any) {
	info, err := DecodeInfo(data)
	if err != nil {
		zlog.Warn().Msgf("player: %s: bad pause payload: %v", p.id, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.machine.effective() {
	case StatePaused:
		// already paused locally
	case StatePlaying:
		p.machine.land(StatePaused, true)
	default:
		zlog.Debug().Msgf("player: %s: ignoring pause in state %s", p.id, p.machine.state)
		return
	}
	p.timeline.store(info, p.now())
}
