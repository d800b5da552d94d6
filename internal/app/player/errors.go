package player

import "github.com/cockroachdb/errors"

// Errors
var (
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrDestroyed         = errors.New("player destroyed")
	ErrClosed            = errors.New("player closed")
	ErrInvalidParam      = errors.New("invalid parameter")

	// Engine-side errors. Engines return these (optionally wrapped) so the
	// player can tell them apart.
	ErrSeekSuperseded = errors.New("seek superseded by a newer operation")
	ErrPlayerNotFound = errors.New("player not found")
	ErrNoPath         = errors.New("no media path")
)
