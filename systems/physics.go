package systems

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/navgraph/components"
)

// MovementSystem updates agent positions based on velocity.
type MovementSystem struct {
	filter ecs.Filter2[components.Position, components.Velocity]
	bounds Bounds
}

// Bounds represents the ground extent of the world.
type Bounds struct {
	Width, Height float64
}

// NewMovementSystem creates a new movement system.
func NewMovementSystem(w *ecs.World, bounds Bounds) *MovementSystem {
	return &MovementSystem{
		filter: *ecs.NewFilter2[components.Position, components.Velocity](w),
		bounds: bounds,
	}
}

// Update integrates velocities over dt seconds.
func (s *MovementSystem) Update(dt float64) {
	query := s.filter.Query()
	for query.Next() {
		pos, vel := query.Get()

		pos.X += vel.X * dt
		pos.Y += vel.Y * dt
		pos.Z += vel.Z * dt

		// Agents walk graph vertices, which never leave the world; clamp drift.
		pos.X = clamp(pos.X, 0, s.bounds.Width)
		pos.Y = clamp(pos.Y, 0, s.bounds.Height)
	}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
