package connect

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/audioplayer/internal/app/player"
	"github.com/osa030/audioplayer/internal/app/registry"
)

// Simulator injects engine-side events. The simulated engine implements it.
type Simulator interface {
	Interrupt(id string) error
	RequestPause(id string)
	Fail(id, message string)
}

type unaryFunc func(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error)

// PlayerService implements the player RPCs on top of a registry.
type PlayerService struct {
	registry  *registry.Registry
	simulator Simulator // nil when the engine cannot simulate events

	// eventBuffer is the per-stream queue length before events are dropped.
	eventBuffer int
}

// NewPlayerService creates a new PlayerService. simulator may be nil.
func NewPlayerService(reg *registry.Registry, simulator Simulator) *PlayerService {
	return &PlayerService{
		registry:    reg,
		simulator:   simulator,
		eventBuffer: 256,
	}
}

// NewPlayerServiceHandler builds an HTTP handler serving every procedure of
// svc. It returns the path to mount the handler on.
func NewPlayerServiceHandler(svc *PlayerService, opts ...connect.HandlerOption) (string, http.Handler) {
	unary := map[string]unaryFunc{
		PlayerServiceCreateProcedure:    svc.Create,
		PlayerServicePrepareProcedure:   svc.Prepare,
		PlayerServicePlayProcedure:      svc.Play,
		PlayerServicePauseProcedure:     svc.Pause,
		PlayerServicePlayPauseProcedure: svc.PlayPause,
		PlayerServiceStopProcedure:      svc.Stop,
		PlayerServiceSeekProcedure:      svc.Seek,
		PlayerServiceSetProcedure:       svc.Set,
		PlayerServiceDestroyProcedure:   svc.Destroy,
		PlayerServiceStatusProcedure:    svc.Status,
		PlayerServiceListProcedure:      svc.List,
		PlayerServiceRemoveProcedure:    svc.Remove,
		PlayerServiceSimulateProcedure:  svc.Simulate,
	}

	mux := http.NewServeMux()
	for procedure, fn := range unary {
		mux.Handle(procedure, connect.NewUnaryHandler[structpb.Struct, structpb.Struct](procedure, fn, opts...))
	}
	mux.Handle(PlayerServiceSubscribeProcedure, connect.NewServerStreamHandler[structpb.Struct, structpb.Struct](
		PlayerServiceSubscribeProcedure, svc.Subscribe, opts...,
	))
	return "/" + PlayerServiceName + "/", mux
}

// Create creates a player. An empty id is generated.
func (s *PlayerService) Create(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	var r createRequest
	if err := decodeRequest(req.Msg, &r); err != nil {
		return nil, err
	}
	p, err := s.registry.Create(r.ID, r.Path, r.Options)
	if err != nil {
		return nil, toConnectError(err)
	}
	return newResponse(statusFields(p.Status()))
}

// Prepare loads the media of a player.
func (s *PlayerService) Prepare(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	return s.command(ctx, req.Msg, (*player.Player).Prepare)
}

// Play starts or resumes playback.
func (s *PlayerService) Play(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	return s.command(ctx, req.Msg, (*player.Player).Play)
}

// Pause pauses playback.
func (s *PlayerService) Pause(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	return s.command(ctx, req.Msg, (*player.Player).Pause)
}

// Stop stops playback.
func (s *PlayerService) Stop(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	return s.command(ctx, req.Msg, (*player.Player).Stop)
}

// Destroy releases the media of a player. The player stays registered.
func (s *PlayerService) Destroy(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	return s.command(ctx, req.Msg, (*player.Player).Destroy)
}

// PlayPause toggles playback. The response reports whether it paused.
func (s *PlayerService) PlayPause(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	var r playerRequest
	if err := decodeRequest(req.Msg, &r); err != nil {
		return nil, err
	}
	p, err := s.registry.Get(r.ID)
	if err != nil {
		return nil, toConnectError(err)
	}

	out, paused := p.PlayPause()
	if err := wait(ctx, out, r.Async); err != nil {
		return nil, toConnectError(err)
	}
	fields := statusFields(p.Status())
	fields["paused"] = paused
	return newResponse(fields)
}

// Seek moves the playback position.
func (s *PlayerService) Seek(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	var r seekRequest
	if err := decodeRequest(req.Msg, &r); err != nil {
		return nil, err
	}
	p, err := s.registry.Get(r.ID)
	if err != nil {
		return nil, toConnectError(err)
	}

	position := time.Duration(r.PositionMs * float64(time.Millisecond))
	if err := wait(ctx, p.Seek(position), r.Async); err != nil {
		return nil, toConnectError(err)
	}
	return newResponse(statusFields(p.Status()))
}

// Set changes playback parameters. Absent fields are left unchanged.
func (s *PlayerService) Set(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	var r setRequest
	if err := decodeRequest(req.Msg, &r); err != nil {
		return nil, err
	}
	p, err := s.registry.Get(r.ID)
	if err != nil {
		return nil, toConnectError(err)
	}

	setters := []struct {
		value *float64
		set   func(float64) error
	}{
		{r.Volume, p.SetVolume},
		{r.Pan, p.SetPan},
		{r.Speed, p.SetSpeed},
	}
	for _, setter := range setters {
		if setter.value == nil {
			continue
		}
		if err := setter.set(*setter.value); err != nil {
			return nil, toConnectError(err)
		}
	}
	if r.Looping != nil {
		p.SetLooping(*r.Looping)
	}
	if r.WakeLock != nil {
		p.SetWakeLock(*r.WakeLock)
	}
	return newResponse(statusFields(p.Status()))
}

// Status returns a player snapshot.
func (s *PlayerService) Status(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	var r playerRequest
	if err := decodeRequest(req.Msg, &r); err != nil {
		return nil, err
	}
	p, err := s.registry.Get(r.ID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return newResponse(statusFields(p.Status()))
}

// List returns every player ordered by id.
func (s *PlayerService) List(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	players := lo.Map(s.registry.All(), func(p *player.Player, _ int) any {
		return statusFields(p.Status())
	})
	return newResponse(map[string]any{"players": players})
}

// Remove closes a player and unregisters it.
func (s *PlayerService) Remove(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	var r playerRequest
	if err := decodeRequest(req.Msg, &r); err != nil {
		return nil, err
	}
	if err := s.registry.Remove(r.ID); err != nil {
		return nil, toConnectError(err)
	}
	return newResponse(map[string]any{"id": r.ID})
}

// Simulate injects an engine event for a player.
func (s *PlayerService) Simulate(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	if s.simulator == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("engine cannot simulate events"))
	}
	var r simulateRequest
	if err := decodeRequest(req.Msg, &r); err != nil {
		return nil, err
	}
	if _, err := s.registry.Get(r.ID); err != nil {
		return nil, toConnectError(err)
	}

	switch r.Event {
	case "interrupt":
		if err := s.simulator.Interrupt(r.ID); err != nil {
			return nil, toConnectError(err)
		}
	case "forcePause":
		s.simulator.RequestPause(r.ID)
	case "error":
		s.simulator.Fail(r.ID, lo.Ternary(r.Message != "", r.Message, "simulated failure"))
	}
	zlog.Info().Msgf("api: simulated %s for %s", r.Event, r.ID)
	return newResponse(map[string]any{"id": r.ID, "event": r.Event})
}

// Subscribe streams the events of a player until the client goes away or the
// player is removed.
func (s *PlayerService) Subscribe(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
	stream *connect.ServerStream[structpb.Struct],
) error {
	var r playerRequest
	if err := decodeRequest(req.Msg, &r); err != nil {
		return err
	}
	p, err := s.registry.Get(r.ID)
	if err != nil {
		return toConnectError(err)
	}

	// Observers must not block, so events are queued and sent from here.
	events := make(chan map[string]any, s.eventBuffer)
	var seq uint64
	unsubscribe := p.Subscribe(func(ev player.Event) {
		seq++
		select {
		case events <- eventFields(ev, seq):
		default:
			zlog.Warn().Msgf("api: %s: subscriber too slow, dropping %s", r.ID, ev.Kind)
		}
	})
	defer unsubscribe()

	initial := map[string]any{"player_id": r.ID, "kind": "status", "sequence_no": float64(0), "data": statusFields(p.Status())}
	if err := send(stream, initial); err != nil {
		return err
	}

	for {
		select {
		case fields := <-events:
			if err := send(stream, fields); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		case <-p.Done():
			return nil
		}
	}
}

// command runs a lifecycle command on the requested player.
func (s *PlayerService) command(ctx context.Context, msg *structpb.Struct, fn func(*player.Player) *player.Outcome) (*connect.Response[structpb.Struct], error) {
	var r playerRequest
	if err := decodeRequest(msg, &r); err != nil {
		return nil, err
	}
	p, err := s.registry.Get(r.ID)
	if err != nil {
		return nil, toConnectError(err)
	}
	if err := wait(ctx, fn(p), r.Async); err != nil {
		return nil, toConnectError(err)
	}
	return newResponse(statusFields(p.Status()))
}

func wait(ctx context.Context, out *player.Outcome, async bool) error {
	if async {
		select {
		case <-out.Done():
			return out.Err()
		default:
			return nil
		}
	}
	return out.Wait(ctx)
}

func send(stream *connect.ServerStream[structpb.Struct], fields map[string]any) error {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		zlog.Warn().Msgf("api: dropping unencodable event: %v", err)
		return nil
	}
	return stream.Send(msg)
}
