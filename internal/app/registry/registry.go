// Package registry keeps the players of one engine addressable by id.
package registry

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/osa030/audioplayer/internal/app/player"
)

// ErrDuplicateID is returned when Create is given an id already in use.
// Unknown ids and empty paths use player.ErrPlayerNotFound and player.ErrNoPath.
var ErrDuplicateID = errors.New("player id already in use")

// Registry manages players sharing one engine with thread-safe access.
type Registry struct {
	mu       sync.RWMutex
	engine   player.Engine
	defaults map[string]any
	players  map[string]*player.Player
	closed   bool
}

// New creates a registry. defaults are the construction options applied to
// keys a Create call leaves out.
func New(engine player.Engine, defaults map[string]any) *Registry {
	return &Registry{
		engine:   engine,
		defaults: defaults,
		players:  make(map[string]*player.Player),
	}
}

// Create adds a player for path. An empty id is generated.
func (r *Registry) Create(id, path string, settings map[string]any) (*player.Player, error) {
	if path == "" {
		return nil, player.ErrNoPath
	}
	opts, err := player.ParseOptions(lo.Assign(r.defaults, settings))
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, player.ErrClosed
	}
	if _, ok := r.players[id]; ok && id != "" {
		return nil, errors.Wrapf(ErrDuplicateID, "%s", id)
	}
	p := player.New(r.engine, id, path, opts)
	r.players[p.ID()] = p

	zlog.Info().Msgf("registry: player %s created for %s", p.ID(), path)
	return p, nil
}

// Get retrieves a player by ID.
func (r *Registry) Get(id string) (*player.Player, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.players[id]
	if !ok {
		return nil, errors.Wrapf(player.ErrPlayerNotFound, "%s", id)
	}
	return p, nil
}

// Remove closes a player and forgets it.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	p, ok := r.players[id]
	delete(r.players, id)
	r.mu.Unlock()

	if !ok {
		return errors.Wrapf(player.ErrPlayerNotFound, "%s", id)
	}
	p.Close()
	zlog.Info().Msgf("registry: player %s removed", id)
	return nil
}

// All returns all players ordered by ID.
func (r *Registry) All() []*player.Player {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := lo.Values(r.players)
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

// Count returns the number of players.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// Close closes every player. Later Create calls fail.
func (r *Registry) Close() {
	r.mu.Lock()
	players := r.players
	r.players = make(map[string]*player.Player)
	r.closed = true
	r.mu.Unlock()

	for _, p := range players {
		p.Close()
	}
}
