package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/audioplayer/internal/app/player"
	"github.com/osa030/audioplayer/internal/infra/spotify"
)

type fakeSpotify struct {
	mu       sync.Mutex
	calls    []string
	tracks   map[string]*spotify.Track
	playback spotify.Playback
	volume   int
	repeat   bool
	err      error
}

var _ SpotifyClient = (*fakeSpotify)(nil)

func newFakeSpotify() *fakeSpotify {
	return &fakeSpotify{
		tracks: map[string]*spotify.Track{
			"track1": {ID: "track1", URI: "spotify:track:track1", Name: "One", Duration: 3 * time.Minute},
			"track2": {ID: "track2", URI: "spotify:track:track2", Name: "Two", Duration: 2 * time.Minute},
		},
	}
}

func (f *fakeSpotify) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeSpotify) GetTrack(_ context.Context, ref string) (*spotify.Track, error) {
	if err := f.record("GetTrack"); err != nil {
		return nil, err
	}
	t, ok := f.tracks[ref]
	if !ok {
		return nil, errors.Newf("unknown track %s", ref)
	}
	return t, nil
}

func (f *fakeSpotify) StartPlayback(_ context.Context, uri string) error {
	if err := f.record("StartPlayback"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, t := range f.tracks {
		if t.URI == uri {
			f.playback = spotify.Playback{TrackID: id, Duration: t.Duration, Playing: true}
		}
	}
	return nil
}

func (f *fakeSpotify) Resume(context.Context) error {
	if err := f.record("Resume"); err != nil {
		return err
	}
	f.set(func(pb *spotify.Playback) { pb.Playing = true })
	return nil
}

func (f *fakeSpotify) Pause(context.Context) error {
	if err := f.record("Pause"); err != nil {
		return err
	}
	f.set(func(pb *spotify.Playback) { pb.Playing = false })
	return nil
}

func (f *fakeSpotify) Seek(_ context.Context, position time.Duration) error {
	if err := f.record("Seek"); err != nil {
		return err
	}
	f.set(func(pb *spotify.Playback) { pb.Progress = position })
	return nil
}

func (f *fakeSpotify) SetVolume(_ context.Context, percent int) error {
	if err := f.record("SetVolume"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = percent
	return nil
}

func (f *fakeSpotify) SetRepeat(_ context.Context, on bool) error {
	if err := f.record("SetRepeat"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repeat = on
	return nil
}

func (f *fakeSpotify) CurrentlyPlaying(context.Context) (*spotify.Playback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pb := f.playback
	return &pb, nil
}

func (f *fakeSpotify) set(fn func(pb *spotify.Playback)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.playback)
}

func (f *fakeSpotify) called(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

// newTestSpotify returns an engine without a poller; tests drive pollOnce.
func newTestSpotify(t *testing.T) (*Spotify, *fakeSpotify) {
	t.Helper()
	client := newFakeSpotify()
	s := NewSpotify(client, 0)
	s.interval = time.Second
	t.Cleanup(func() { _ = s.Close() })
	return s, client
}

func TestSpotify_PrepareAndPlay(t *testing.T) {
	s, client := newTestSpotify(t)
	ctx := context.Background()

	info, err := s.Prepare(ctx, "p1", "track1", player.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, info.Duration)

	_, err = s.Prepare(ctx, "p1", "track1", player.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, client.called("GetTrack"))

	_, err = s.Set(ctx, "p1", player.Params{Volume: someFloat(0.5), Speed: someFloat(2)})
	require.NoError(t, err)
	assert.Equal(t, 0, client.called("SetVolume"))

	_, err = s.Play(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, client.called("StartPlayback"))
	assert.Equal(t, 50, client.volume)

	_, err = s.Pause(ctx, "p1")
	require.NoError(t, err)
	_, err = s.Play(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, client.called("StartPlayback"))
	assert.Equal(t, 1, client.called("Resume"))
}

func TestSpotify_Errors(t *testing.T) {
	s, client := newTestSpotify(t)
	ctx := context.Background()

	_, err := s.Prepare(ctx, "p1", "", player.DefaultOptions())
	assert.True(t, errors.Is(err, player.ErrNoPath))

	_, err = s.Play(ctx, "missing")
	assert.True(t, errors.Is(err, player.ErrPlayerNotFound))

	_, err = s.Seek(ctx, "missing", -time.Second)
	assert.True(t, errors.Is(err, player.ErrInvalidParam))

	client.err = errors.New("boom")
	_, err = s.Prepare(ctx, "p1", "track1", player.DefaultOptions())
	assert.Error(t, err)
}

func TestSpotify_SeekBeforePlay(t *testing.T) {
	s, client := newTestSpotify(t)
	ctx := context.Background()
	_, err := s.Prepare(ctx, "p1", "track1", player.DefaultOptions())
	require.NoError(t, err)

	info, err := s.Seek(ctx, "p1", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, info.Position)
	assert.Equal(t, 0, client.called("Seek"))

	_, err = s.Seek(ctx, "p1", 30*time.Second)
	require.NoError(t, err)
	info, err = s.CurrentTime(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, info.Position)

	_, err = s.Play(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, client.called("Seek"))
	info, err = s.CurrentTime(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, info.Position)
}

func TestSpotify_Takeover(t *testing.T) {
	s, _ := newTestSpotify(t)
	ctx := context.Background()
	_, err := s.Prepare(ctx, "p1", "track1", player.DefaultOptions())
	require.NoError(t, err)
	_, err = s.Prepare(ctx, "p2", "track2", player.DefaultOptions())
	require.NoError(t, err)

	_, err = s.Play(ctx, "p1")
	require.NoError(t, err)
	_, err = s.Play(ctx, "p2")
	require.NoError(t, err)

	s.mu.Lock()
	assert.Equal(t, "p2", s.active)
	assert.False(t, s.tracks["p1"].started)
	s.mu.Unlock()
}

func TestSpotify_Poll(t *testing.T) {
	tests := []struct {
		name   string
		change func(pb *spotify.Playback)
		want   player.EngineEventKind
	}{
		{
			name:   "still playing",
			change: func(pb *spotify.Playback) { pb.Progress = 11 * time.Second },
			want:   player.KindInterval,
		},
		{
			name: "paused elsewhere",
			change: func(pb *spotify.Playback) {
				pb.Progress = 11 * time.Second
				pb.Playing = false
			},
			want: player.KindPause,
		},
		{
			name:   "repeated",
			change: func(pb *spotify.Playback) { pb.Progress = 0 },
			want:   player.KindLooped,
		},
		{
			name: "reached the end",
			change: func(pb *spotify.Playback) {
				pb.Progress = 0
				pb.Playing = false
			},
			want: player.KindEnded,
		},
		{
			name:   "another track",
			change: func(pb *spotify.Playback) { pb.TrackID = "track2" },
			want:   player.KindEnded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, client := newTestSpotify(t)
			ctx := context.Background()
			opts := player.DefaultOptions()
			opts.AutoDestroy = false
			_, err := s.Prepare(ctx, "p1", "track1", opts)
			require.NoError(t, err)
			events, cancel := s.Subscribe("p1")
			defer cancel()

			_, err = s.Play(ctx, "p1")
			require.NoError(t, err)
			client.set(func(pb *spotify.Playback) { pb.Progress = 10 * time.Second })
			s.pollOnce(ctx)
			assert.Equal(t, player.KindInterval, (<-events).Kind)

			client.set(tt.change)
			s.pollOnce(ctx)
			assert.Equal(t, tt.want, (<-events).Kind)
		})
	}
}

func TestSpotify_PollIgnoresOwnPause(t *testing.T) {
	s, client := newTestSpotify(t)
	ctx := context.Background()
	_, err := s.Prepare(ctx, "p1", "track1", player.DefaultOptions())
	require.NoError(t, err)
	events, cancel := s.Subscribe("p1")
	defer cancel()

	_, err = s.Play(ctx, "p1")
	require.NoError(t, err)
	client.set(func(pb *spotify.Playback) { pb.Progress = 10 * time.Second })
	s.pollOnce(ctx)
	<-events

	_, err = s.Pause(ctx, "p1")
	require.NoError(t, err)
	s.pollOnce(ctx)
	assert.Empty(t, events)
}

func TestSpotify_EndedAutoDestroy(t *testing.T) {
	s, client := newTestSpotify(t)
	ctx := context.Background()
	_, err := s.Prepare(ctx, "p1", "track1", player.DefaultOptions())
	require.NoError(t, err)
	events, cancel := s.Subscribe("p1")
	defer cancel()

	_, err = s.Play(ctx, "p1")
	require.NoError(t, err)
	s.pollOnce(ctx)
	<-events

	client.set(func(pb *spotify.Playback) { pb.TrackID = "" })
	s.pollOnce(ctx)
	ev := <-events
	assert.Equal(t, player.KindEnded, ev.Kind)
	assert.Equal(t, "completed", ev.Data["message"])
	assert.Equal(t, player.KindInfo, (<-events).Kind)

	_, err = s.CurrentTime(ctx, "p1")
	assert.True(t, errors.Is(err, player.ErrPlayerNotFound))
}

func TestSpotify_Destroy(t *testing.T) {
	s, client := newTestSpotify(t)
	ctx := context.Background()
	_, err := s.Prepare(ctx, "p1", "track1", player.DefaultOptions())
	require.NoError(t, err)
	_, err = s.Play(ctx, "p1")
	require.NoError(t, err)

	require.NoError(t, s.Destroy(ctx, "p1"))
	assert.Equal(t, 1, client.called("Pause"))
	assert.NoError(t, s.Destroy(ctx, "p1"))
	assert.Equal(t, 1, client.called("Pause"))
}

func TestVolumePercent(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{0, 0},
		{0.5, 50},
		{0.333, 33},
		{1, 100},
		{1.5, 100},
		{-1, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, volumePercent(tt.in))
	}
}
