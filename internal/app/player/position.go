package player

import (
	"time"

	"github.com/samber/mo"
)

// UnknownPosition is reported when no position has been synced.
const UnknownPosition time.Duration = -1

// estimator holds the last authoritative timing sync.
type estimator struct {
	duration         mo.Option[time.Duration]
	position         mo.Option[time.Duration]
	syncedAt         mo.Option[time.Time]
	durationReadable string
	positionReadable string

	// writes counts position writes; a refresh only applies if it is unchanged.
	writes uint64

	// anchor restarts extrapolation after a speed change. It is derived
	// locally and never replaces the synced position.
	anchor   mo.Option[time.Duration]
	anchorAt time.Time
}

// store writes position and duration from one snapshot. A nil snapshot is a no-op.
func (e *estimator) store(info *Info, now time.Time) bool {
	if info == nil {
		return false
	}
	e.duration = mo.Some(info.Duration)
	e.position = mo.Some(info.Position)
	e.syncedAt = mo.Some(now)
	e.durationReadable = info.DurationReadable
	e.positionReadable = info.PositionReadable
	e.anchor = mo.None[time.Duration]()
	e.writes++
	return true
}

// clear forgets the position after stop or ended.
func (e *estimator) clear() {
	e.position = mo.None[time.Duration]()
	e.syncedAt = mo.None[time.Time]()
	e.positionReadable = ""
	e.anchor = mo.None[time.Duration]()
	e.writes++
}

// rewind moves the position back to the start after a loop.
func (e *estimator) rewind(now time.Time) {
	e.position = mo.Some(time.Duration(0))
	e.syncedAt = mo.Some(now)
	e.positionReadable = FormatClock(0)
	e.anchor = mo.None[time.Duration]()
	e.writes++
}

// rebase anchors extrapolation at the position reached with the old speed,
// so a rate change only affects time elapsed after now.
func (e *estimator) rebase(speed float64, now time.Time) {
	if pos := e.estimate(StatePlaying, speed, now); pos != UnknownPosition {
		e.anchor = mo.Some(pos)
		e.anchorAt = now
	}
}

func (e *estimator) reset() {
	*e = estimator{writes: e.writes + 1}
}

// estimate interpolates the position at now. While playing the position
// advances with speed and is clamped to a known duration.
func (e *estimator) estimate(state State, speed float64, now time.Time) time.Duration {
	last, ok := e.position.Get()
	if !ok {
		return UnknownPosition
	}
	from := e.syncedAt.OrElse(now)
	if anchor, ok := e.anchor.Get(); ok {
		last, from = anchor, e.anchorAt
	}
	if state != StatePlaying {
		return last
	}

	elapsed := now.Sub(from)
	if elapsed < 0 {
		elapsed = 0
	}
	pos := last + time.Duration(float64(elapsed)*speed)
	if d, ok := e.duration.Get(); ok && pos > d {
		pos = d
	}
	return pos
}

func (e *estimator) durationOr(fallback time.Duration) time.Duration {
	return e.duration.OrElse(fallback)
}
