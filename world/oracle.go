package world

import (
	"math"

	"github.com/pthm-cable/navgraph/geom"
)

// StepOracle allows a move when its altitude change is at most MaxStep.
// A non-positive MaxStep allows every move.
type StepOracle struct {
	MaxStep float64
}

// CanGo implements navgraph.CanGoOracle.
func (o StepOracle) CanGo(from, to geom.Vec3) bool {
	if o.MaxStep <= 0 {
		return true
	}
	return math.Abs(to.Z-from.Z) <= o.MaxStep
}
