package player

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/mo"

	"github.com/osa030/audioplayer/internal/app/notification"
)

// settings are the desired playback parameters held locally.
type settings struct {
	volume   float64
	pan      float64
	speed    float64
	looping  bool
	wakeLock bool
}

func defaultSettings() settings {
	return settings{volume: 1, speed: 1}
}

func (s settings) params() Params {
	return Params{
		Volume:   mo.Some(s.volume),
		Pan:      mo.Some(s.pan),
		Speed:    mo.Some(s.speed),
		Looping:  mo.Some(s.looping),
		WakeLock: mo.Some(s.wakeLock),
	}
}

// Status is a point-in-time view of a player.
type Status struct {
	ID               string
	Path             string
	Options          Options
	State            State
	Position         time.Duration
	Duration         time.Duration
	DurationReadable string
	PositionReadable string
	Volume           float64
	Pan              float64
	Speed            float64
	Looping          bool
	WakeLock         bool
}

// Player controls one media resource on an Engine.
type Player struct {
	mu sync.Mutex

	id      string
	path    string
	options Options
	engine  Engine

	machine  machine
	timeline estimator
	settings settings

	// Command ordering
	seq        uint64 // latest issued lifecycle command
	seekSeq    uint64 // latest issued seek
	epoch      uint64 // bumped by Destroy
	refreshing bool   // a CurrentTime refresh is in flight

	// Context
	baseCtx context.Context
	stopAll context.CancelFunc
	ctx     context.Context // current epoch
	cancel  context.CancelFunc

	pipeline    *pipeline
	observers   *notification.Manager[Event]
	unsubscribe func()
	done        chan struct{}
	closed      bool
	closeOnce   sync.Once

	now func() time.Time
}

// New creates an idle player for path and starts its worker and event
// goroutines. An empty id is replaced by a generated one.
func New(engine Engine, id, path string, opts Options) *Player {
	if id == "" {
		id = uuid.New().String()
	}
	base, stopAll := context.WithCancel(context.Background())
	ctx, cancel := context.WithCancel(base)

	p := &Player{
		id:        id,
		path:      path,
		options:   opts,
		engine:    engine,
		machine:   machine{state: StateIdle, preSeek: StateIdle},
		settings:  defaultSettings(),
		baseCtx:   base,
		stopAll:   stopAll,
		ctx:       ctx,
		cancel:    cancel,
		observers: notification.NewManager[Event](),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	p.pipeline = newPipeline(p.announce)

	events, unsubscribe := engine.Subscribe(id)
	p.unsubscribe = unsubscribe

	go p.pipeline.run()
	go p.listen(events)

	zlog.Debug().Msgf("player: created id=%s path=%s options=%+v", id, path, opts)
	return p
}

// ID returns the player id.
func (p *Player) ID() string { return p.id }

// Path returns the media path.
func (p *Player) Path() string { return p.path }

// Options returns the construction options.
func (p *Player) Options() Options { return p.options }

// Done is closed when the player has been closed.
func (p *Player) Done() <-chan struct{} { return p.done }

// Prepare loads the media and pushes the current playback parameters.
func (p *Player) Prepare() *Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return settled(ErrClosed)
	}
	if err := p.machine.begin(TriggerPrepare); err != nil {
		return settled(err)
	}
	path, opts := p.path, p.options
	return p.issueLocked("prepare", []step{
		{name: "prepare", run: func(ctx context.Context) (*Info, error) {
			return p.engine.Prepare(ctx, p.id, path, opts)
		}},
		{name: "set", run: func(ctx context.Context) (*Info, error) {
			return p.engine.Set(ctx, p.id, p.desiredParams())
		}},
	}, p.settleTo(StatePrepared, false))
}

// Play starts or resumes playback.
func (p *Player) Play() *Outcome {
	return p.lifecycle(TriggerPlay, p.engine.Play, StatePlaying, false)
}

// Pause pauses playback.
func (p *Player) Pause() *Outcome {
	return p.lifecycle(TriggerPause, p.engine.Pause, StatePaused, false)
}

// Stop stops playback and forgets the position.
func (p *Player) Stop() *Outcome {
	return p.lifecycle(TriggerStop, p.engine.Stop, StatePrepared, true)
}

// PlayPause pauses when playing and plays otherwise. It reports whether a
// pause was issued. Queued commands count as already applied.
func (p *Player) PlayPause() (*Outcome, bool) {
	p.mu.Lock()
	playing := p.machine.projected().IsPlaying()
	p.mu.Unlock()

	if playing {
		return p.Pause(), true
	}
	return p.Play(), false
}

// Seek moves the playback position. A seek overtaken by a newer command
// resolves without error and leaves state to the newer command.
func (p *Player) Seek(position time.Duration) *Outcome {
	if position < 0 {
		return settled(errors.Wrapf(ErrInvalidParam, "negative seek position %s", position))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return settled(ErrClosed)
	}
	if err := p.machine.begin(TriggerSeek); err != nil {
		return settled(err)
	}
	out := p.issueLocked("seek", []step{
		{name: "seek", run: func(ctx context.Context) (*Info, error) {
			return p.engine.Seek(ctx, p.id, position)
		}},
	}, func(cmd *command, results []*Info, err error) error {
		if cmd.seq != p.seq {
			zlog.Debug().Msgf("player: %s: seek to %s superseded", p.id, position)
			return nil
		}
		if err != nil {
			if errors.Is(err, ErrSeekSuperseded) {
				zlog.Debug().Msgf("player: %s: engine superseded seek to %s", p.id, position)
				return nil
			}
			return p.failLocked(err)
		}
		p.machine.finishSeek()
		p.timeline.store(latest(results), p.now())
		return nil
	})
	p.seekSeq = p.seq
	return out
}

// SetCurrentTime is Seek.
func (p *Player) SetCurrentTime(position time.Duration) *Outcome {
	return p.Seek(position)
}

// Destroy releases the media and resets the player to its initial state.
// Queued and in-flight commands resolve with ErrDestroyed. The player can be
// prepared again afterwards.
func (p *Player) Destroy() *Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return settled(ErrClosed)
	}
	return p.destroyLocked()
}

func (p *Player) destroyLocked() *Outcome {
	p.epoch++
	p.cancel()
	p.ctx, p.cancel = context.WithCancel(p.baseCtx)

	p.machine.reset()
	p.timeline.reset()
	p.settings = defaultSettings()
	p.refreshing = false

	cmd := &command{
		name: "destroy",
		ctx:  p.baseCtx,
		steps: []step{{name: "destroy", run: func(ctx context.Context) (*Info, error) {
			return nil, p.engine.Destroy(ctx, p.id)
		}}},
		settle: func(_ []*Info, err error) error {
			if err != nil {
				zlog.Warn().Msgf("player: %s: release failed: %v", p.id, err)
			}
			return err
		},
		out: newOutcome(),
	}
	p.pipeline.enqueue(cmd)
	return cmd.out
}

// Close destroys the player, detaches it from the engine and drops all
// observers. Later commands resolve with ErrClosed.
func (p *Player) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.destroyLocked()
		p.closed = true
		p.mu.Unlock()

		p.pipeline.stop()
		p.unsubscribe()
		close(p.done)
		p.observers.Close()

		go func() {
			<-p.pipeline.exited
			p.stopAll()
		}()
		zlog.Debug().Msgf("player: closed id=%s", p.id)
	})
}

// Subscribe registers an observer. The returned function removes it.
func (p *Player) Subscribe(fn Observer) func() {
	id := p.observers.Subscribe(notification.StreamFunc[Event](func(e notification.Envelope[Event]) error {
		fn(e.Payload)
		return nil
	}))
	return func() { p.observers.Unsubscribe(id) }
}

// State returns the live lifecycle state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.machine.state
}

// CanPrepare reports whether Prepare is legal now.
func (p *Player) CanPrepare() bool { return p.State().CanPrepare() }

// CanPlay reports whether media is loaded.
func (p *Player) CanPlay() bool { return p.State().CanPlay() }

// CanStop reports whether playback has started.
func (p *Player) CanStop() bool { return p.State().CanStop() }

// IsStopped reports whether the player is at or below PREPARED.
func (p *Player) IsStopped() bool { return p.State().IsStopped() }

// IsPrepared reports whether the player is PREPARED.
func (p *Player) IsPrepared() bool { return p.State().IsPrepared() }

// IsPlaying reports whether the player is PLAYING.
func (p *Player) IsPlaying() bool { return p.State().IsPlaying() }

// IsPaused reports whether the player is PAUSED.
func (p *Player) IsPaused() bool { return p.State().IsPaused() }

// CurrentTime returns the estimated position, or UnknownPosition. It never
// blocks; it schedules a refresh from the engine when none is in flight.
func (p *Player) CurrentTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos := p.timeline.estimate(p.machine.state, p.settings.speed, p.now())
	p.refreshLocked()
	return pos
}

// Duration returns the media duration, or UnknownPosition.
func (p *Player) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeline.durationOr(UnknownPosition)
}

// DurationReadable returns the engine-formatted duration.
func (p *Player) DurationReadable() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeline.durationReadable
}

// PositionReadable returns the engine-formatted position of the last sync.
func (p *Player) PositionReadable() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeline.positionReadable
}

// Status returns a snapshot of the player.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Status{
		ID:               p.id,
		Path:             p.path,
		Options:          p.options,
		State:            p.machine.state,
		Position:         p.timeline.estimate(p.machine.state, p.settings.speed, p.now()),
		Duration:         p.timeline.durationOr(UnknownPosition),
		DurationReadable: p.timeline.durationReadable,
		PositionReadable: p.timeline.positionReadable,
		Volume:           p.settings.volume,
		Pan:              p.settings.pan,
		Speed:            p.settings.speed,
		Looping:          p.settings.looping,
		WakeLock:         p.settings.wakeLock,
	}
	p.refreshLocked()
	return s
}

// Volume returns the desired volume.
func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings.volume
}

// SetVolume sets the volume in [0, 1].
func (p *Player) SetVolume(v float64) error {
	if err := validate.Var(v, "gte=0,lte=1"); err != nil {
		return errors.Mark(errors.Wrapf(err, "volume %v", v), ErrInvalidParam)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings.volume = v
	p.pushLocked(Params{Volume: mo.Some(v)})
	return nil
}

// Pan returns the desired stereo pan.
func (p *Player) Pan() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings.pan
}

// SetPan sets the stereo pan in [-1, 1].
func (p *Player) SetPan(v float64) error {
	if err := validate.Var(v, "gte=-1,lte=1"); err != nil {
		return errors.Mark(errors.Wrapf(err, "pan %v", v), ErrInvalidParam)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings.pan = v
	p.pushLocked(Params{Pan: mo.Some(v)})
	return nil
}

// Speed returns the desired playback rate.
func (p *Player) Speed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings.speed
}

// SetSpeed sets the playback rate. It must be positive.
func (p *Player) SetSpeed(v float64) error {
	if err := validate.Var(v, "gt=0"); err != nil {
		return errors.Mark(errors.Wrapf(err, "speed %v", v), ErrInvalidParam)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.machine.state == StatePlaying {
		p.timeline.rebase(p.settings.speed, p.now())
	}
	p.settings.speed = v
	p.pushLocked(Params{Speed: mo.Some(v)})
	return nil
}

// Looping reports whether the media repeats.
func (p *Player) Looping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings.looping
}

// SetLooping sets whether the media repeats.
func (p *Player) SetLooping(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings.looping = v
	p.pushLocked(Params{Looping: mo.Some(v)})
}

// WakeLock reports whether the device is kept awake during playback.
func (p *Player) WakeLock() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings.wakeLock
}

// SetWakeLock sets whether the device is kept awake during playback.
func (p *Player) SetWakeLock(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings.wakeLock = v
	p.pushLocked(Params{WakeLock: mo.Some(v)})
}

func (p *Player) desiredParams() Params {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings.params()
}

// lifecycle validates t and queues a single-step command.
func (p *Player) lifecycle(t Trigger, call func(context.Context, string) (*Info, error), to State, forget bool) *Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return settled(ErrClosed)
	}
	if _, err := p.machine.request(t); err != nil {
		return settled(err)
	}
	name := t.String()
	return p.issueLocked(name, []step{
		{name: name, run: func(ctx context.Context) (*Info, error) {
			return call(ctx, p.id)
		}},
	}, p.settleTo(to, forget))
}

// issueLocked assigns the next lifecycle sequence number and queues the
// command. settle runs with the lock held and only for the current epoch.
func (p *Player) issueLocked(name string, steps []step, settle func(cmd *command, results []*Info, err error) error) *Outcome {
	p.seq++
	epoch := p.epoch
	cmd := &command{
		name:     name,
		seq:      p.seq,
		ctx:      p.ctx,
		announce: true,
		steps:    steps,
		out:      newOutcome(),
	}
	cmd.settle = func(results []*Info, err error) error {
		p.mu.Lock()
		defer p.mu.Unlock()

		if epoch != p.epoch {
			zlog.Debug().Msgf("player: %s: dropping %s result after destroy", p.id, name)
			return errors.Wrapf(ErrDestroyed, "%s", name)
		}
		return settle(cmd, results, err)
	}
	p.pipeline.enqueue(cmd)
	return cmd.out
}

// settleTo lands the target state and records the latest snapshot, or
// clears the position.
func (p *Player) settleTo(to State, forget bool) func(*command, []*Info, error) error {
	return func(cmd *command, results []*Info, err error) error {
		p.machine.settled()
		if err != nil {
			return p.failLocked(err)
		}
		p.machine.land(to, p.deferredLocked(cmd.seq))
		if forget {
			p.timeline.clear()
		} else {
			p.timeline.store(latest(results), p.now())
		}
		return nil
	}
}

// deferredLocked reports whether a result of command seq must wait behind a
// newer pending seek.
func (p *Player) deferredLocked(seq uint64) bool {
	return p.machine.state == StateSeeking && p.seekSeq > seq
}

func (p *Player) failLocked(err error) error {
	p.machine.fail()
	zlog.Error().Msgf("player: %s: %v", p.id, err)
	return err
}

// pushLocked sends parameters to the engine once media is loaded.
func (p *Player) pushLocked(params Params) {
	if p.closed || !p.machine.state.CanPlay() {
		return
	}
	p.pipeline.enqueue(&command{
		name: "set",
		ctx:  p.ctx,
		steps: []step{{name: "set", run: func(ctx context.Context) (*Info, error) {
			return p.engine.Set(ctx, p.id, params)
		}}},
		settle: func(_ []*Info, err error) error {
			if err != nil {
				zlog.Warn().Msgf("player: %s: parameter push failed: %v", p.id, err)
			}
			return nil
		},
		out: newOutcome(),
	})
}

// refreshLocked asks the engine for the position unless a request is in flight.
func (p *Player) refreshLocked() {
	if p.refreshing || p.closed || !p.machine.state.CanPlay() {
		return
	}
	p.refreshing = true
	ctx, epoch, writes := p.ctx, p.epoch, p.timeline.writes

	go func() {
		info, err := p.engine.CurrentTime(ctx, p.id)

		p.mu.Lock()
		defer p.mu.Unlock()

		if epoch != p.epoch {
			return
		}
		p.refreshing = false
		if err != nil {
			zlog.Debug().Msgf("player: %s: position refresh failed: %v", p.id, err)
			return
		}
		if writes != p.timeline.writes {
			return
		}
		p.timeline.store(info, p.now())
	}()
}

func (p *Player) publish(kind EventKind, data map[string]any) {
	p.observers.Publish(Event{PlayerID: p.id, Kind: kind, Data: data})
}

// announce emits stateloading markers around a step dispatch.
func (p *Player) announce(cmd *command, s step, dispatched bool) {
	message := "loading"
	if dispatched && cmd.name == TriggerPlay.String() {
		message = "playing"
	}
	p.publish(EventStateLoading, map[string]any{
		"message":    message,
		"command":    cmd.name,
		"step":       s.name,
		"dispatched": dispatched,
	})
}
