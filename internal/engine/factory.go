package engine

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/audioplayer/internal/app/player"
	"github.com/osa030/audioplayer/internal/infra/config"
	"github.com/osa030/audioplayer/internal/infra/spotify"
)

// Closer is an engine that owns background resources.
type Closer interface {
	player.Engine
	io.Closer
}

// New creates the engine selected by cfg.Engine.Type.
func New(ctx context.Context, cfg *config.Config) (Closer, error) {
	switch cfg.Engine.Type {
	case config.EngineSim, "":
		zlog.Info().Msgf("engine: using simulated engine (interval=%s)", cfg.Engine.Interval())
		return NewSim(simConfig(cfg.Engine)), nil

	case config.EngineSpotify:
		client, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			RefreshToken: cfg.Spotify.RefreshToken,
			Market:       cfg.Spotify.Market,
			DeviceID:     cfg.Spotify.DeviceID,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create spotify client")
		}
		zlog.Info().Msgf("engine: using spotify engine (interval=%s)", cfg.Engine.Interval())
		return NewSpotify(client, cfg.Engine.Interval()), nil

	default:
		return nil, errors.Newf("unknown engine type: %s", cfg.Engine.Type)
	}
}

func simConfig(cfg config.EngineConfig) SimConfig {
	catalog := make(map[string]time.Duration, len(cfg.Sim.Catalog))
	for path, ms := range cfg.Sim.Catalog {
		catalog[path] = time.Duration(ms) * time.Millisecond
	}
	return SimConfig{
		Interval:        cfg.Interval(),
		SeekLatency:     time.Duration(cfg.Sim.SeekLatencyMs) * time.Millisecond,
		DefaultDuration: time.Duration(cfg.Sim.DefaultDurationMs) * time.Millisecond,
		Catalog:         catalog,
	}
}
