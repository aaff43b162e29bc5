package components

import "github.com/pthm-cable/navgraph/geom"

// Position represents an entity's world position.
type Position struct {
	X, Y, Z float64
}

// Vec returns the position as a vector.
func (p Position) Vec() geom.Vec3 {
	return geom.V3(p.X, p.Y, p.Z)
}

// Set moves the position to v.
func (p *Position) Set(v geom.Vec3) {
	p.X, p.Y, p.Z = v.X, v.Y, v.Z
}

// Velocity represents an entity's velocity in world units per second.
type Velocity struct {
	X, Y, Z float64
}

// Vec returns the velocity as a vector.
func (v Velocity) Vec() geom.Vec3 {
	return geom.V3(v.X, v.Y, v.Z)
}

// Set replaces the velocity with d.
func (v *Velocity) Set(d geom.Vec3) {
	v.X, v.Y, v.Z = d.X, d.Y, d.Z
}
