// Package engine provides audio engines the player package drives.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/audioplayer/internal/app/player"
)

// SimConfig holds simulated engine configuration.
type SimConfig struct {
	Interval        time.Duration            // interval event period; zero disables ticks
	SeekLatency     time.Duration            // time a seek takes to complete
	DefaultDuration time.Duration            // duration of media missing from Catalog
	Catalog         map[string]time.Duration // media path -> duration
}

// Sim is an in-memory engine that plays media against the wall clock.
// It produces the same command results and events as a device engine.
type Sim struct {
	mu     sync.Mutex
	config SimConfig
	tracks map[string]*simTrack
	events *hub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type simTrack struct {
	id       string
	path     string
	opts     player.Options
	duration time.Duration

	// Position is offset at startedAt, advancing with speed while playing.
	offset    time.Duration
	startedAt time.Time
	playing   bool

	volume   float64
	pan      float64
	speed    float64
	looping  bool
	wakeLock bool

	endTimer *time.Timer
	endGen   uint64
	seek     *simSeek
}

type simSeek struct {
	timer *time.Timer
	done  chan seekResult
}

type seekResult struct {
	info *player.Info
	err  error
}

var _ player.Engine = (*Sim)(nil)

// NewSim creates a simulated engine and starts its interval ticker.
func NewSim(config SimConfig) *Sim {
	if config.DefaultDuration <= 0 {
		config.DefaultDuration = 3 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sim{
		config: config,
		tracks: make(map[string]*simTrack),
		events: newHub(64),
		ctx:    ctx,
		cancel: cancel,
	}
	if config.Interval > 0 {
		s.wg.Add(1)
		go s.tick()
	}
	return s
}

// Close stops the ticker and releases all media.
func (s *Sim) Close() error {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		s.releaseLocked(t)
	}
	s.tracks = make(map[string]*simTrack)
	return nil
}

func (s *Sim) Prepare(_ context.Context, id, path string, opts player.Options) (*player.Info, error) {
	if path == "" {
		return nil, errors.Wrapf(player.ErrNoPath, "prepare %s", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tracks[id]; ok {
		return t.info(time.Now()), nil
	}
	duration, ok := s.config.Catalog[path]
	if !ok {
		duration = s.config.DefaultDuration
	}
	t := &simTrack{
		id:       id,
		path:     path,
		opts:     opts,
		duration: duration,
		volume:   1,
		speed:    1,
	}
	s.tracks[id] = t
	zlog.Debug().Msgf("sim: prepared %s path=%s duration=%s", id, path, duration)
	return t.info(time.Now()), nil
}

func (s *Sim) Set(_ context.Context, id string, params player.Params) (*player.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.trackLocked(id)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if v, ok := params.Speed.Get(); ok && v != t.speed {
		t.rebase(now)
		t.speed = v
		if t.playing {
			s.scheduleEndLocked(t, now)
		}
	}
	if v, ok := params.Volume.Get(); ok {
		t.volume = v
	}
	if v, ok := params.Pan.Get(); ok {
		t.pan = v
	}
	if v, ok := params.Looping.Get(); ok {
		t.looping = v
	}
	if v, ok := params.WakeLock.Get(); ok {
		t.wakeLock = v
	}
	return t.info(now), nil
}

func (s *Sim) Play(_ context.Context, id string) (*player.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.trackLocked(id)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if !t.playing {
		t.rebase(now)
		if t.offset >= t.duration {
			t.offset = 0
		}
		t.playing = true
		s.scheduleEndLocked(t, now)
	}
	return t.info(now), nil
}

func (s *Sim) Pause(_ context.Context, id string) (*player.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.trackLocked(id)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	s.haltLocked(t, now)
	return t.info(now), nil
}

func (s *Sim) Stop(_ context.Context, id string) (*player.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.trackLocked(id)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	s.cancelSeekLocked(t, player.ErrSeekSuperseded)
	s.haltLocked(t, now)
	t.offset = 0
	return t.info(now), nil
}

// Seek completes after the configured latency. A newer seek or a stop
// supersedes a pending one.
func (s *Sim) Seek(ctx context.Context, id string, position time.Duration) (*player.Info, error) {
	if position < 0 {
		return nil, errors.Wrapf(player.ErrInvalidParam, "seek %s to %s", id, position)
	}

	s.mu.Lock()
	t, err := s.trackLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.cancelSeekLocked(t, player.ErrSeekSuperseded)
	if position > t.duration {
		position = t.duration
	}
	pending := &simSeek{done: make(chan seekResult, 1)}
	pending.timer = time.AfterFunc(s.config.SeekLatency, func() { s.completeSeek(t, pending, position) })
	t.seek = pending
	s.mu.Unlock()

	select {
	case r := <-pending.done:
		return r.info, r.err
	case <-ctx.Done():
		s.mu.Lock()
		if t.seek == pending {
			pending.timer.Stop()
			t.seek = nil
		}
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (s *Sim) completeSeek(t *simTrack, pending *simSeek, position time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.seek != pending {
		return
	}
	t.seek = nil
	now := time.Now()
	t.offset = position
	t.startedAt = now
	if t.playing {
		s.scheduleEndLocked(t, now)
	}
	info := t.info(now)
	s.emitLocked(t.id, player.KindSeeked, map[string]any{"info": info.Data()})
	pending.done <- seekResult{info: info}
}

func (s *Sim) CurrentTime(_ context.Context, id string) (*player.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.trackLocked(id)
	if err != nil {
		return nil, err
	}
	return t.info(time.Now()), nil
}

// Destroy releases the media of id. Unknown ids are not an error.
func (s *Sim) Destroy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tracks[id]
	if !ok {
		return nil
	}
	s.releaseLocked(t)
	delete(s.tracks, id)
	s.emitLocked(id, player.KindInfo, map[string]any{"message": "Destroyed player"})
	return nil
}

func (s *Sim) Subscribe(id string) (<-chan player.EngineEvent, func()) {
	return s.events.subscribe(id)
}

// Interrupt pauses id as if another application took audio focus and emits
// a pause event carrying the position.
func (s *Sim) Interrupt(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.trackLocked(id)
	if err != nil {
		return err
	}
	if !t.playing {
		return nil
	}
	now := time.Now()
	s.haltLocked(t, now)
	s.emitLocked(id, player.KindPause, map[string]any{"info": t.info(now).Data()})
	return nil
}

// RequestPause asks the owner of id to pause through its normal pause path.
func (s *Sim) RequestPause(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(id, player.KindForcePause, map[string]any{"message": "pause requested"})
}

// Fail reports an engine error for id.
func (s *Sim) Fail(id, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(id, player.KindError, map[string]any{"message": message})
}

func (s *Sim) trackLocked(id string) (*simTrack, error) {
	t, ok := s.tracks[id]
	if !ok {
		return nil, errors.Wrapf(player.ErrPlayerNotFound, "sim: %s", id)
	}
	return t, nil
}

func (s *Sim) haltLocked(t *simTrack, now time.Time) {
	if !t.playing {
		return
	}
	t.rebase(now)
	t.playing = false
	s.stopEndLocked(t)
}

func (s *Sim) releaseLocked(t *simTrack) {
	s.stopEndLocked(t)
	s.cancelSeekLocked(t, player.ErrSeekSuperseded)
	t.playing = false
}

func (s *Sim) cancelSeekLocked(t *simTrack, err error) {
	if t.seek == nil {
		return
	}
	t.seek.timer.Stop()
	t.seek.done <- seekResult{err: err}
	t.seek = nil
}

func (s *Sim) stopEndLocked(t *simTrack) {
	t.endGen++
	if t.endTimer != nil {
		t.endTimer.Stop()
		t.endTimer = nil
	}
}

// scheduleEndLocked arms the timer that fires when playback reaches the end.
func (s *Sim) scheduleEndLocked(t *simTrack, now time.Time) {
	s.stopEndLocked(t)
	remaining := t.duration - t.position(now)
	if remaining < 0 {
		remaining = 0
	}
	gen := t.endGen
	t.endTimer = time.AfterFunc(time.Duration(float64(remaining)/t.speed), func() {
		s.finish(t, gen)
	})
}

func (s *Sim) finish(t *simTrack, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.endGen != gen || s.tracks[t.id] != t || !t.playing {
		return
	}
	now := time.Now()
	if t.looping {
		t.offset = 0
		t.startedAt = now
		s.scheduleEndLocked(t, now)
		s.emitLocked(t.id, player.KindLooped, map[string]any{"info": t.info(now).Data()})
		return
	}

	t.playing = false
	t.offset = 0
	t.endTimer = nil
	s.emitLocked(t.id, player.KindEnded, map[string]any{
		"message": "completed",
		"info":    player.NewInfo(t.duration, t.duration).Data(),
	})
	if t.opts.AutoDestroy {
		s.releaseLocked(t)
		delete(s.tracks, t.id)
		s.emitLocked(t.id, player.KindInfo, map[string]any{"message": "Destroyed player"})
	}
}

func (s *Sim) tick() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for id, t := range s.tracks {
				if t.playing {
					s.emitLocked(id, player.KindInterval, map[string]any{"info": t.info(now).Data()})
				}
			}
			s.mu.Unlock()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Sim) emitLocked(id string, kind player.EngineEventKind, data map[string]any) {
	s.events.emit(id, kind, data)
}

func (t *simTrack) position(now time.Time) time.Duration {
	if !t.playing {
		return t.offset
	}
	pos := t.offset + time.Duration(float64(now.Sub(t.startedAt))*t.speed)
	if pos > t.duration {
		pos = t.duration
	}
	return pos
}

func (t *simTrack) rebase(now time.Time) {
	t.offset = t.position(now)
	t.startedAt = now
}

func (t *simTrack) info(now time.Time) *player.Info {
	return player.NewInfo(t.duration, t.position(now))
}
