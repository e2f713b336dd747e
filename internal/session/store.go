package session

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/enricmcalvo/UUTrap/pkg/types"
)

// ErrInvalidRegion is returned when a region collapses to zero width or height.
var ErrInvalidRegion = errors.New("invalid region")

// Store holds the active Config. Readers get a snapshot; writers swap the
// whole snapshot. Serialising writers is the caller's job (the controller only
// replaces the config while acquisition is quiesced).
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore creates a Store holding cfg.
func NewStore(cfg Config) *Store {
	s := &Store{}
	s.Replace(cfg)
	return s
}

// Snapshot returns a copy of the active config.
func (s *Store) Snapshot() Config {
	return *s.current.Load()
}

// Replace swaps in a new config.
func (s *Store) Replace(cfg Config) {
	c := cfg
	s.current.Store(&c)
}

// Update applies fn to a copy of the active config and stores the result.
func (s *Store) Update(fn func(*Config)) Config {
	c := s.Snapshot()
	fn(&c)
	s.Replace(c)
	return c
}

// NormalizeRegion sorts the bounds of r so that Left < Right and Bottom < Top
// and clamps them to [1, maxWidth] x [1, maxHeight].
func NormalizeRegion(r types.Region, maxWidth, maxHeight int) (types.Region, error) {
	left, right := sorted(r.Left, r.Right)
	bottom, top := sorted(r.Bottom, r.Top)

	out := types.Region{
		Left:   clamp(left, 1, maxWidth),
		Right:  clamp(right, 1, maxWidth),
		Bottom: clamp(bottom, 1, maxHeight),
		Top:    clamp(top, 1, maxHeight),
	}
	if out.Left >= out.Right || out.Bottom >= out.Top {
		return out, fmt.Errorf("%w: %+v on a %dx%d sensor", ErrInvalidRegion, r, maxWidth, maxHeight)
	}
	return out, nil
}

func sorted(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
