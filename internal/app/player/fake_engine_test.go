package player

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type engineCall struct {
	method   string
	id       string
	path     string
	params   Params
	position time.Duration
}

// fakeEngine records calls and lets tests hold a method until released.
type fakeEngine struct {
	mu       sync.Mutex
	calls    []engineCall
	results  map[string]*Info
	errs     map[string]error
	gates    map[string]chan struct{}
	seekFn   func(position time.Duration) (*Info, error)
	duration time.Duration

	events       chan EngineEvent
	unsubscribed bool
}

var _ Engine = (*fakeEngine)(nil)

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		results:  make(map[string]*Info),
		errs:     make(map[string]error),
		gates:    make(map[string]chan struct{}),
		duration: 180 * time.Second,
		events:   make(chan EngineEvent, 16),
	}
}

// hold makes method block until release is called once per call.
func (f *fakeEngine) hold(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gates[method] = make(chan struct{})
}

func (f *fakeEngine) release(t *testing.T, method string) {
	t.Helper()
	f.mu.Lock()
	gate := f.gates[method]
	f.mu.Unlock()
	select {
	case gate <- struct{}{}:
	case <-time.After(time.Second):
		t.Fatalf("no %s call waiting", method)
	}
}

func (f *fakeEngine) setResult(method string, info *Info) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[method] = info
}

func (f *fakeEngine) setErr(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = err
}

func (f *fakeEngine) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.method)
	}
	return out
}

func (f *fakeEngine) callsOf(method string) []engineCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []engineCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeEngine) emit(kind EngineEventKind, data map[string]any) {
	f.events <- EngineEvent{Kind: kind, Data: data}
}

func (f *fakeEngine) do(ctx context.Context, c engineCall) (*Info, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	gate := f.gates[c.method]
	info, err := f.results[c.method], f.errs[c.method]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return info, err
}

func (f *fakeEngine) Prepare(ctx context.Context, id, path string, _ Options) (*Info, error) {
	return f.do(ctx, engineCall{method: "prepare", id: id, path: path})
}

func (f *fakeEngine) Set(ctx context.Context, id string, params Params) (*Info, error) {
	return f.do(ctx, engineCall{method: "set", id: id, params: params})
}

func (f *fakeEngine) Play(ctx context.Context, id string) (*Info, error) {
	return f.do(ctx, engineCall{method: "play", id: id})
}

func (f *fakeEngine) Pause(ctx context.Context, id string) (*Info, error) {
	return f.do(ctx, engineCall{method: "pause", id: id})
}

func (f *fakeEngine) Stop(ctx context.Context, id string) (*Info, error) {
	return f.do(ctx, engineCall{method: "stop", id: id})
}

func (f *fakeEngine) Seek(ctx context.Context, id string, position time.Duration) (*Info, error) {
	info, err := f.do(ctx, engineCall{method: "seek", id: id, position: position})
	if err != nil || info != nil {
		return info, err
	}
	f.mu.Lock()
	seekFn, duration := f.seekFn, f.duration
	f.mu.Unlock()
	if seekFn != nil {
		return seekFn(position)
	}
	return NewInfo(duration, position), nil
}

func (f *fakeEngine) CurrentTime(ctx context.Context, id string) (*Info, error) {
	return f.do(ctx, engineCall{method: "currenttime", id: id})
}

func (f *fakeEngine) Destroy(ctx context.Context, id string) error {
	_, err := f.do(ctx, engineCall{method: "destroy", id: id})
	return err
}

func (f *fakeEngine) Subscribe(string) (<-chan EngineEvent, func()) {
	return f.events, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribed = true
	}
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestPlayer creates a player on a fake engine with a frozen clock.
func newTestPlayer(t *testing.T) (*Player, *fakeEngine, *fakeClock) {
	t.Helper()
	engine := newFakeEngine()
	engine.setResult("prepare", NewInfo(180*time.Second, 0))
	clock := newFakeClock()
	p := New(engine, "p1", "/music/track.mp3", DefaultOptions())
	p.now = clock.Now
	t.Cleanup(p.Close)
	return p, engine, clock
}

// await waits for an outcome and returns its error.
func await(t *testing.T, out *Outcome) error {
	t.Helper()
	select {
	case <-out.Done():
		return out.Err()
	case <-time.After(2 * time.Second):
		t.Fatal("outcome did not resolve")
		return nil
	}
}

func mustPrepare(t *testing.T, p *Player) {
	t.Helper()
	require.NoError(t, await(t, p.Prepare()))
	require.Equal(t, StatePrepared, p.State())
}

func mustPlay(t *testing.T, p *Player) {
	t.Helper()
	mustPrepare(t, p)
	require.NoError(t, await(t, p.Play()))
	require.Equal(t, StatePlaying, p.State())
}
