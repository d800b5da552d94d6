package player

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	"github.com/samber/mo"
)

// Engine is the audio engine a player drives. Implementations address media
// by player id and report results as Info snapshots.
type Engine interface {
	Prepare(ctx context.Context, id, path string, opts Options) (*Info, error)
	Set(ctx context.Context, id string, params Params) (*Info, error)
	Play(ctx context.Context, id string) (*Info, error)
	Pause(ctx context.Context, id string) (*Info, error)
	Stop(ctx context.Context, id string) (*Info, error)
	Seek(ctx context.Context, id string, position time.Duration) (*Info, error)
	CurrentTime(ctx context.Context, id string) (*Info, error)
	Destroy(ctx context.Context, id string) error
	// Subscribe returns the engine events addressed to id. The returned
	// function cancels the subscription and closes the channel.
	Subscribe(id string) (<-chan EngineEvent, func())
}

// Info is a timing snapshot reported by the engine. A nil *Info carries no
// timing data.
type Info struct {
	Duration         time.Duration
	Position         time.Duration
	DurationReadable string
	PositionReadable string
}

// NewInfo builds a snapshot with readable strings filled in.
func NewInfo(duration, position time.Duration) *Info {
	return &Info{
		Duration:         duration,
		Position:         position,
		DurationReadable: FormatClock(duration),
		PositionReadable: FormatClock(position),
	}
}

// Data encodes the snapshot the way engines put it into event payloads.
// Durations are milliseconds.
func (i *Info) Data() map[string]any {
	return map[string]any{
		"duration":         float64(i.Duration.Milliseconds()),
		"position":         float64(i.Position.Milliseconds()),
		"durationReadable": i.DurationReadable,
		"positionReadable": i.PositionReadable,
	}
}

// FormatClock formats d as HH:MM:SS.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total%3600/60, total%60)
}

type wireInfo struct {
	Duration         float64 `mapstructure:"duration"`
	Position         float64 `mapstructure:"position"`
	DurationReadable string  `mapstructure:"durationReadable"`
	PositionReadable string  `mapstructure:"positionReadable"`
}

// DecodeInfo extracts the "info" entry of an event payload.
// It returns nil when the payload has none.
func DecodeInfo(data map[string]any) (*Info, error) {
	raw, ok := data["info"]
	if !ok || raw == nil {
		return nil, nil
	}

	var w wireInfo
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &w,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode info")
	}

	return &Info{
		Duration:         time.Duration(w.Duration * float64(time.Millisecond)),
		Position:         time.Duration(w.Position * float64(time.Millisecond)),
		DurationReadable: w.DurationReadable,
		PositionReadable: w.PositionReadable,
	}, nil
}

// Params carries playback parameters for Engine.Set. Absent values are left
// unchanged by the engine.
type Params struct {
	Volume   mo.Option[float64]
	Pan      mo.Option[float64]
	Speed    mo.Option[float64]
	Looping  mo.Option[bool]
	WakeLock mo.Option[bool]
}

// EngineEventKind identifies an engine event.
type EngineEventKind string

const (
	KindInterval   EngineEventKind = "interval"
	KindProgress   EngineEventKind = "progress"
	KindEnded      EngineEventKind = "ended"
	KindInfo       EngineEventKind = "info"
	KindError      EngineEventKind = "error"
	KindPause      EngineEventKind = "pause"
	KindForcePause EngineEventKind = "forcePause"
	KindLooped     EngineEventKind = "looped"
	KindSeeked     EngineEventKind = "seeked"
)

// EngineEvent is an event emitted by the engine for one player.
type EngineEvent struct {
	PlayerID string
	Kind     EngineEventKind
	Data     map[string]any
}
