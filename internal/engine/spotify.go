package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/audioplayer/internal/app/player"
	"github.com/osa030/audioplayer/internal/infra/spotify"
)

// SpotifyClient is the subset of the Spotify client the engine uses.
type SpotifyClient interface {
	GetTrack(ctx context.Context, ref string) (*spotify.Track, error)
	StartPlayback(ctx context.Context, uri string) error
	Resume(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, position time.Duration) error
	SetVolume(ctx context.Context, percent int) error
	SetRepeat(ctx context.Context, on bool) error
	CurrentlyPlaying(ctx context.Context) (*spotify.Playback, error)
}

// Spotify drives a Spotify Connect device. Only one player owns the device
// at a time; playing another player's media takes it over.
type Spotify struct {
	mu       sync.Mutex
	client   SpotifyClient
	interval time.Duration
	tracks   map[string]*remoteTrack
	active   string // player whose track is loaded on the device
	last     *spotify.Playback
	// ignoreNext skips change detection for the poll after our own command.
	ignoreNext bool
	events     *hub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type remoteTrack struct {
	id       string
	trackID  string
	uri      string
	opts     player.Options
	duration time.Duration
	started  bool
	// offset is the position to apply when the track is started.
	offset  time.Duration
	volume  float64
	looping bool
}

var _ player.Engine = (*Spotify)(nil)

// NewSpotify creates the engine and starts polling the device every interval.
func NewSpotify(client SpotifyClient, interval time.Duration) *Spotify {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Spotify{
		client:   client,
		interval: interval,
		tracks:   make(map[string]*remoteTrack),
		events:   newHub(64),
		ctx:      ctx,
		cancel:   cancel,
	}
	if interval > 0 {
		s.wg.Add(1)
		go s.poll()
	}
	return s
}

// Close stops polling.
func (s *Spotify) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Spotify) Prepare(ctx context.Context, id, path string, opts player.Options) (*player.Info, error) {
	if path == "" {
		return nil, errors.Wrapf(player.ErrNoPath, "prepare %s", id)
	}

	s.mu.Lock()
	if t, ok := s.tracks[id]; ok {
		s.mu.Unlock()
		return player.NewInfo(t.duration, t.offset), nil
	}
	s.mu.Unlock()

	tr, err := s.client.GetTrack(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "prepare %s", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks[id] = &remoteTrack{
		id:       id,
		trackID:  tr.ID,
		uri:      tr.URI,
		opts:     opts,
		duration: tr.Duration,
		volume:   1,
	}
	zlog.Debug().Msgf("spotify engine: prepared %s track=%s duration=%s", id, tr.ID, tr.Duration)
	return player.NewInfo(tr.Duration, 0), nil
}

// Set stores parameters and applies volume and repeat when the player owns
// the device. Pan, speed and wake lock have no Spotify equivalent.
func (s *Spotify) Set(ctx context.Context, id string, params player.Params) (*player.Info, error) {
	s.mu.Lock()
	t, err := s.trackLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if v, ok := params.Volume.Get(); ok {
		t.volume = v
	}
	if v, ok := params.Looping.Get(); ok {
		t.looping = v
	}
	owns := s.active == id
	volume, looping := t.volume, t.looping
	s.mu.Unlock()

	if params.Speed.IsPresent() || params.Pan.IsPresent() || params.WakeLock.IsPresent() {
		zlog.Debug().Msgf("spotify engine: %s: speed, pan and wake lock are not supported", id)
	}
	if !owns {
		return nil, nil
	}
	if params.Volume.IsPresent() {
		if err := s.client.SetVolume(ctx, volumePercent(volume)); err != nil {
			return nil, err
		}
	}
	if params.Looping.IsPresent() {
		if err := s.client.SetRepeat(ctx, looping); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (s *Spotify) Play(ctx context.Context, id string) (*player.Info, error) {
	s.mu.Lock()
	t, err := s.trackLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	resume := s.active == id && t.started
	uri, offset, volume, looping := t.uri, t.offset, t.volume, t.looping
	s.ignoreNext = true
	s.mu.Unlock()

	if resume {
		if err := s.client.Resume(ctx); err != nil {
			return nil, err
		}
		return s.snapshot(ctx, id)
	}

	if err := s.client.StartPlayback(ctx, uri); err != nil {
		return nil, err
	}
	if offset > 0 {
		if err := s.client.Seek(ctx, offset); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	if prev, ok := s.tracks[s.active]; ok && s.active != id {
		prev.started = false
	}
	s.active = id
	t.started = true
	t.offset = 0
	s.mu.Unlock()

	if err := s.client.SetVolume(ctx, volumePercent(volume)); err != nil {
		zlog.Warn().Msgf("spotify engine: %s: volume not applied: %v", id, err)
	}
	if err := s.client.SetRepeat(ctx, looping); err != nil {
		zlog.Warn().Msgf("spotify engine: %s: repeat not applied: %v", id, err)
	}
	return player.NewInfo(t.duration, offset), nil
}

func (s *Spotify) Pause(ctx context.Context, id string) (*player.Info, error) {
	s.mu.Lock()
	t, err := s.trackLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	owns := s.active == id
	s.ignoreNext = true
	s.mu.Unlock()

	if !owns {
		return player.NewInfo(t.duration, t.offset), nil
	}
	if err := s.client.Pause(ctx); err != nil {
		return nil, err
	}
	return s.snapshot(ctx, id)
}

func (s *Spotify) Stop(ctx context.Context, id string) (*player.Info, error) {
	s.mu.Lock()
	t, err := s.trackLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	owns := s.active == id
	t.offset = 0
	s.ignoreNext = true
	s.mu.Unlock()

	if owns {
		if err := s.client.Pause(ctx); err != nil {
			return nil, err
		}
		if err := s.client.Seek(ctx, 0); err != nil {
			return nil, err
		}
	}
	return player.NewInfo(t.duration, 0), nil
}

func (s *Spotify) Seek(ctx context.Context, id string, position time.Duration) (*player.Info, error) {
	if position < 0 {
		return nil, errors.Wrapf(player.ErrInvalidParam, "seek %s to %s", id, position)
	}

	s.mu.Lock()
	t, err := s.trackLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if position > t.duration {
		position = t.duration
	}
	owns := s.active == id && t.started
	if !owns {
		t.offset = position
	}
	s.ignoreNext = true
	s.mu.Unlock()

	if owns {
		if err := s.client.Seek(ctx, position); err != nil {
			return nil, err
		}
	}
	return player.NewInfo(t.duration, position), nil
}

func (s *Spotify) CurrentTime(ctx context.Context, id string) (*player.Info, error) {
	s.mu.Lock()
	t, err := s.trackLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	owns := s.active == id
	s.mu.Unlock()

	if !owns {
		return player.NewInfo(t.duration, t.offset), nil
	}
	return s.snapshot(ctx, id)
}

// Destroy pauses the device if id owns it and forgets the media.
func (s *Spotify) Destroy(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.tracks[id]
	owns := s.active == id
	delete(s.tracks, id)
	if owns {
		s.active = ""
		s.last = nil
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if owns {
		if err := s.client.Pause(ctx); err != nil {
			zlog.Warn().Msgf("spotify engine: %s: pause on release failed: %v", id, err)
		}
	}
	s.events.emit(id, player.KindInfo, map[string]any{"message": "Destroyed player"})
	return nil
}

func (s *Spotify) Subscribe(id string) (<-chan player.EngineEvent, func()) {
	return s.events.subscribe(id)
}

// snapshot reads the device position for id's track.
func (s *Spotify) snapshot(ctx context.Context, id string) (*player.Info, error) {
	pb, err := s.client.CurrentlyPlaying(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.trackLocked(id)
	if err != nil {
		return nil, err
	}
	if pb.TrackID != t.trackID {
		return nil, nil
	}
	return player.NewInfo(t.duration, pb.Progress), nil
}

func (s *Spotify) trackLocked(id string) (*remoteTrack, error) {
	t, ok := s.tracks[id]
	if !ok {
		return nil, errors.Wrapf(player.ErrPlayerNotFound, "spotify engine: %s", id)
	}
	return t, nil
}

func (s *Spotify) poll() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pollOnce(s.ctx)
		case <-s.ctx.Done():
			return
		}
	}
}

// pollOnce compares the device state with the previous poll and emits
// interval, pause, looped and ended events for the active player.
func (s *Spotify) pollOnce(ctx context.Context) {
	s.mu.Lock()
	id := s.active
	s.mu.Unlock()
	if id == "" {
		return
	}

	pb, err := s.client.CurrentlyPlaying(ctx)
	if err != nil {
		zlog.Debug().Msgf("spotify engine: poll failed: %v", err)
		return
	}

	s.mu.Lock()
	t, ok := s.tracks[id]
	if !ok || s.active != id {
		s.mu.Unlock()
		return
	}
	last, ignore := s.last, s.ignoreNext
	s.last, s.ignoreNext = pb, false
	wasPlaying := last != nil && last.Playing && last.TrackID == t.trackID
	duration := t.duration
	s.mu.Unlock()

	var kind player.EngineEventKind
	info := player.NewInfo(duration, pb.Progress)
	switch {
	case pb.TrackID != t.trackID:
		if wasPlaying {
			kind = player.KindEnded
		}
	case pb.Playing:
		if wasPlaying && !ignore && pb.Progress+s.interval < last.Progress {
			kind = player.KindLooped
		} else {
			kind = player.KindInterval
		}
	case wasPlaying && !ignore:
		if pb.Progress == 0 || pb.Progress >= duration-2*s.interval {
			kind = player.KindEnded
		} else {
			kind = player.KindPause
		}
	}

	switch kind {
	case "":
		return
	case player.KindEnded:
		s.finish(t)
		s.events.emit(id, kind, map[string]any{"message": "completed", "info": player.NewInfo(duration, duration).Data()})
		if t.opts.AutoDestroy {
			s.mu.Lock()
			delete(s.tracks, id)
			s.mu.Unlock()
			s.events.emit(id, player.KindInfo, map[string]any{"message": "Destroyed player"})
		}
	default:
		s.events.emit(id, kind, map[string]any{"info": info.Data()})
	}
}

func (s *Spotify) finish(t *remoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.started = false
	t.offset = 0
	if s.active == t.id {
		s.active = ""
		s.last = nil
	}
}

func volumePercent(v float64) int {
	return int(math.Round(math.Max(0, math.Min(1, v)) * 100))
}
