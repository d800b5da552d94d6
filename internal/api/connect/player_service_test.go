package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/audioplayer/internal/app/registry"
	"github.com/osa030/audioplayer/internal/engine"
)

const testToken = "secret"

type testServer struct {
	client *Client
	reg    *registry.Registry
	sim    *engine.Sim
	url    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	sim := engine.NewSim(engine.SimConfig{
		DefaultDuration: time.Minute,
		SeekLatency:     5 * time.Millisecond,
		Catalog:         map[string]time.Duration{"/short.mp3": 80 * time.Millisecond},
	})
	reg := registry.New(sim, map[string]any{"autoDestroy": false})

	mux := http.NewServeMux()
	mux.Handle(NewPlayerServiceHandler(
		NewPlayerService(reg, sim),
		connect.WithInterceptors(NewTokenInterceptor(testToken)),
	))
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		reg.Close()
		_ = sim.Close()
	})

	return &testServer{
		client: NewClient(server.Client(), server.URL, testToken),
		reg:    reg,
		sim:    sim,
		url:    server.URL,
	}
}

func (s *testServer) call(t *testing.T, procedure string, fields map[string]any) map[string]any {
	t.Helper()
	res, err := s.client.Call(context.Background(), procedure, fields)
	require.NoError(t, err)
	return res
}

func TestPlayerService_Lifecycle(t *testing.T) {
	s := newTestServer(t)

	res := s.call(t, PlayerServiceCreateProcedure, map[string]any{"id": "p1", "path": "/a.mp3"})
	assert.Equal(t, "idle", res["state"])
	assert.Equal(t, float64(-1), res["duration_ms"])
	assert.Equal(t, false, res["options"].(map[string]any)["autoDestroy"])

	res = s.call(t, PlayerServicePrepareProcedure, map[string]any{"id": "p1"})
	assert.Equal(t, "prepared", res["state"])
	assert.Equal(t, float64(60000), res["duration_ms"])
	assert.Equal(t, "00:01:00", res["duration_readable"])

	res = s.call(t, PlayerServiceSeekProcedure, map[string]any{"id": "p1", "position_ms": 30000})
	assert.Equal(t, "prepared", res["state"])
	assert.Equal(t, float64(30000), res["position_ms"])

	res = s.call(t, PlayerServicePlayProcedure, map[string]any{"id": "p1"})
	assert.Equal(t, "playing", res["state"])

	res = s.call(t, PlayerServicePlayPauseProcedure, map[string]any{"id": "p1"})
	assert.Equal(t, "paused", res["state"])
	assert.Equal(t, true, res["paused"])

	res = s.call(t, PlayerServiceStopProcedure, map[string]any{"id": "p1"})
	assert.Equal(t, "prepared", res["state"])

	res = s.call(t, PlayerServiceDestroyProcedure, map[string]any{"id": "p1"})
	assert.Equal(t, "idle", res["state"])

	s.call(t, PlayerServiceRemoveProcedure, map[string]any{"id": "p1"})
	assert.Equal(t, 0, s.reg.Count())
}

func TestPlayerService_Set(t *testing.T) {
	s := newTestServer(t)
	s.call(t, PlayerServiceCreateProcedure, map[string]any{"id": "p1", "path": "/a.mp3"})

	res := s.call(t, PlayerServiceSetProcedure, map[string]any{
		"id":        "p1",
		"volume":    0.25,
		"speed":     1.5,
		"looping":   true,
		"wake_lock": true,
	})
	assert.Equal(t, 0.25, res["volume"])
	assert.Equal(t, 1.5, res["speed"])
	assert.Equal(t, float64(0), res["pan"])
	assert.Equal(t, true, res["looping"])
	assert.Equal(t, true, res["wake_lock"])
}

func TestPlayerService_Errors(t *testing.T) {
	s := newTestServer(t)
	s.call(t, PlayerServiceCreateProcedure, map[string]any{"id": "p1", "path": "/a.mp3"})

	tests := []struct {
		name      string
		procedure string
		fields    map[string]any
		want      connect.Code
	}{
		{"unknown player", PlayerServicePlayProcedure, map[string]any{"id": "nope"}, connect.CodeNotFound},
		{"missing id", PlayerServiceStatusProcedure, map[string]any{}, connect.CodeInvalidArgument},
		{"duplicate id", PlayerServiceCreateProcedure, map[string]any{"id": "p1", "path": "/b.mp3"}, connect.CodeAlreadyExists},
		{"missing path", PlayerServiceCreateProcedure, map[string]any{"id": "p2"}, connect.CodeInvalidArgument},
		{"bad options", PlayerServiceCreateProcedure, map[string]any{"path": "/b.mp3", "options": map[string]any{"category": "Loud"}}, connect.CodeInvalidArgument},
		{"play before prepare", PlayerServicePlayProcedure, map[string]any{"id": "p1"}, connect.CodeFailedPrecondition},
		{"negative seek", PlayerServiceSeekProcedure, map[string]any{"id": "p1", "position_ms": -1}, connect.CodeInvalidArgument},
		{"volume out of range", PlayerServiceSetProcedure, map[string]any{"id": "p1", "volume": 2}, connect.CodeInvalidArgument},
		{"unknown simulated event", PlayerServiceSimulateProcedure, map[string]any{"id": "p1", "event": "explode"}, connect.CodeInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.client.Call(context.Background(), tt.procedure, tt.fields)
			require.Error(t, err)
			assert.Equal(t, tt.want, connect.CodeOf(err))
		})
	}
}

func TestPlayerService_List(t *testing.T) {
	s := newTestServer(t)
	s.call(t, PlayerServiceCreateProcedure, map[string]any{"id": "b", "path": "/b.mp3"})
	s.call(t, PlayerServiceCreateProcedure, map[string]any{"id": "a", "path": "/a.mp3"})

	res := s.call(t, PlayerServiceListProcedure, map[string]any{})
	players := res["players"].([]any)
	require.Len(t, players, 2)
	assert.Equal(t, "a", players[0].(map[string]any)["id"])
	assert.Equal(t, "b", players[1].(map[string]any)["id"])
}

func TestPlayerService_Unauthenticated(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name  string
		token string
	}{
		{"no token", ""},
		{"wrong token", "guess"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(http.DefaultClient, s.url, tt.token)
			_, err := client.Call(context.Background(), PlayerServiceListProcedure, map[string]any{})
			assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

			err = client.Subscribe(context.Background(), "p1", func(map[string]any) bool { return true })
			assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
		})
	}
}

func TestPlayerService_Subscribe(t *testing.T) {
	s := newTestServer(t)
	s.call(t, PlayerServiceCreateProcedure, map[string]any{"id": "p1", "path": "/short.mp3"})
	s.call(t, PlayerServicePrepareProcedure, map[string]any{"id": "p1"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		mu    sync.Mutex
		kinds []string
	)
	done := make(chan error, 1)
	go func() {
		done <- s.client.Subscribe(ctx, "p1", func(ev map[string]any) bool {
			mu.Lock()
			defer mu.Unlock()
			kinds = append(kinds, ev["kind"].(string))
			return ev["kind"] != "ended"
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) > 0
	}, 2*time.Second, 5*time.Millisecond)
	s.call(t, PlayerServicePlayProcedure, map[string]any{"id": "p1"})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("stream did not deliver ended")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "status", kinds[0])
	assert.Contains(t, kinds, "stateloading")
	assert.Equal(t, "ended", kinds[len(kinds)-1])
}

func TestPlayerService_Simulate(t *testing.T) {
	s := newTestServer(t)
	s.call(t, PlayerServiceCreateProcedure, map[string]any{"id": "p1", "path": "/a.mp3"})
	s.call(t, PlayerServicePrepareProcedure, map[string]any{"id": "p1"})
	s.call(t, PlayerServicePlayProcedure, map[string]any{"id": "p1"})

	s.call(t, PlayerServiceSimulateProcedure, map[string]any{"id": "p1", "event": "interrupt"})
	require.Eventually(t, func() bool {
		res := s.call(t, PlayerServiceStatusProcedure, map[string]any{"id": "p1"})
		return res["state"] == "paused"
	}, 2*time.Second, 10*time.Millisecond)

	s.call(t, PlayerServiceSimulateProcedure, map[string]any{"id": "p1", "event": "error"})
	require.Eventually(t, func() bool {
		res := s.call(t, PlayerServiceStatusProcedure, map[string]any{"id": "p1"})
		return res["state"] == "error"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPlayerService_SimulateUnsupported(t *testing.T) {
	sim := engine.NewSim(engine.SimConfig{})
	reg := registry.New(sim, nil)
	t.Cleanup(func() {
		reg.Close()
		_ = sim.Close()
	})
	svc := NewPlayerService(reg, nil)

	_, err := svc.Simulate(context.Background(), connect.NewRequest(&structpb.Struct{}))
	assert.Equal(t, connect.CodeUnimplemented, connect.CodeOf(err))
}

func TestToConnectError(t *testing.T) {
	assert.Nil(t, toConnectError(nil))
	assert.Equal(t, connect.CodeInternal, connect.CodeOf(toConnectError(errors.New("boom"))))
	assert.Equal(t, connect.CodeDeadlineExceeded, connect.CodeOf(toConnectError(errors.Wrap(context.DeadlineExceeded, "wait"))))

	cerr := connect.NewError(connect.CodeUnavailable, errors.New("down"))
	assert.Same(t, cerr, toConnectError(cerr))
}
