package connect

import (
	"context"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/audioplayer/internal/app/player"
	"github.com/osa030/audioplayer/internal/app/registry"
)

var validate = validator.New()

type playerRequest struct {
	ID string `mapstructure:"id" validate:"required"`
	// Async returns as soon as the command is queued.
	Async bool `mapstructure:"async"`
}

type createRequest struct {
	ID      string         `mapstructure:"id"`
	Path    string         `mapstructure:"path" validate:"required"`
	Options map[string]any `mapstructure:"options"`
}

type seekRequest struct {
	playerRequest `mapstructure:",squash"`
	PositionMs    float64 `mapstructure:"position_ms" validate:"gte=0"`
}

type setRequest struct {
	playerRequest `mapstructure:",squash"`
	Volume        *float64 `mapstructure:"volume"`
	Pan           *float64 `mapstructure:"pan"`
	Speed         *float64 `mapstructure:"speed"`
	Looping       *bool    `mapstructure:"looping"`
	WakeLock      *bool    `mapstructure:"wake_lock"`
}

type simulateRequest struct {
	playerRequest `mapstructure:",squash"`
	Event         string `mapstructure:"event" validate:"required,oneof=interrupt forcePause error"`
	Message       string `mapstructure:"message"`
}

// decodeRequest decodes msg into out and validates it.
func decodeRequest(msg *structpb.Struct, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return connect.NewError(connect.CodeInternal, err)
	}
	if err := decoder.Decode(msg.AsMap()); err != nil {
		return connect.NewError(connect.CodeInvalidArgument, errors.Wrap(err, "malformed request"))
	}
	if err := validate.Struct(out); err != nil {
		return connect.NewError(connect.CodeInvalidArgument, errors.Wrap(err, "invalid request"))
	}
	return nil
}

// newResponse wraps fields into a Struct response.
func newResponse(fields map[string]any) (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, errors.Wrap(err, "failed to encode response"))
	}
	return connect.NewResponse(msg), nil
}

// statusFields encodes a player status. Times are milliseconds and unknown
// values are -1.
func statusFields(s player.Status) map[string]any {
	return map[string]any{
		"id":                s.ID,
		"path":              s.Path,
		"state":             s.State.String(),
		"position_ms":       millis(s.Position),
		"duration_ms":       millis(s.Duration),
		"position_readable": s.PositionReadable,
		"duration_readable": s.DurationReadable,
		"volume":            s.Volume,
		"pan":               s.Pan,
		"speed":             s.Speed,
		"looping":           s.Looping,
		"wake_lock":         s.WakeLock,
		"options":           s.Options.Map(),
	}
}

func eventFields(ev player.Event, seq uint64) map[string]any {
	return map[string]any{
		"player_id":   ev.PlayerID,
		"kind":        string(ev.Kind),
		"sequence_no": float64(seq),
		"data":        ev.Data,
	}
}

func millis(d time.Duration) float64 {
	if d == player.UnknownPosition {
		return -1
	}
	return float64(d.Milliseconds())
}

// toConnectError maps player and registry errors to Connect codes.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}

	code := connect.CodeInternal
	switch {
	case errors.Is(err, player.ErrPlayerNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, registry.ErrDuplicateID):
		code = connect.CodeAlreadyExists
	case errors.Is(err, player.ErrInvalidParam), errors.Is(err, player.ErrNoPath):
		code = connect.CodeInvalidArgument
	case errors.Is(err, player.ErrIllegalTransition):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, player.ErrDestroyed):
		code = connect.CodeAborted
	case errors.Is(err, player.ErrClosed):
		code = connect.CodeUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	}
	return connect.NewError(code, err)
}
