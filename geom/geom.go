// Package geom provides the spatial primitives shared by graph data and the runtime:
// world vectors, integer cell coordinates and axis-aligned boxes.
package geom

import (
	"fmt"
	"iter"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Vec3 is a world-space position. X and Y span the ground plane, Z is altitude.
type Vec3 = r3.Vec

// V3 builds a Vec3.
func V3(x, y, z float64) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

// Dist returns the 3D distance between a and b.
func Dist(a, b Vec3) float64 {
	return r3.Norm(r3.Sub(a, b))
}

// DistSq returns the squared 3D distance between a and b.
func DistSq(a, b Vec3) float64 {
	return r3.Norm2(r3.Sub(a, b))
}

// Dist2D returns the distance between a and b projected on the ground plane.
func Dist2D(a, b Vec3) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Lerp interpolates between a and b.
func Lerp(a, b Vec3, t float64) Vec3 {
	return r3.Add(a, r3.Scale(t, r3.Sub(b, a)))
}

// CardinalDir identifies one side of a cell.
// East is +X, North is +Y.
type CardinalDir uint8

const (
	East CardinalDir = iota
	North
	West
	South
	NumCardinalDirs
)

// Opposite returns the facing direction.
func (d CardinalDir) Opposite() CardinalDir {
	return (d + 2) % NumCardinalDirs
}

func (d CardinalDir) String() string {
	switch d {
	case East:
		return "east"
	case North:
		return "north"
	case West:
		return "west"
	case South:
		return "south"
	}
	return fmt.Sprintf("dir(%d)", uint8(d))
}

// CellPos is an integer cell coordinate in the uniform grid.
type CellPos struct {
	X, Y int32
}

// Neighbor returns the adjacent cell in direction d.
func (p CellPos) Neighbor(d CardinalDir) CellPos {
	switch d {
	case East:
		return CellPos{p.X + 1, p.Y}
	case North:
		return CellPos{p.X, p.Y + 1}
	case West:
		return CellPos{p.X - 1, p.Y}
	case South:
		return CellPos{p.X, p.Y - 1}
	}
	return p
}

// DirTo returns the direction from p to an adjacent cell q.
// ok is false when q is not a 4-neighbor of p.
func (p CellPos) DirTo(q CellPos) (d CardinalDir, ok bool) {
	for d = East; d < NumCardinalDirs; d++ {
		if p.Neighbor(d) == q {
			return d, true
		}
	}
	return 0, false
}

func (p CellPos) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// ComputeCellPos returns the cell containing pos.
// X uses ceil-minus-one and Y uses floor: a position lying exactly on a vertical
// cell border belongs to the western cell, one on a horizontal border to the
// northern cell. The offline partitioner uses the same tie-break.
func ComputeCellPos(pos Vec3, cellSize float64) CellPos {
	return CellPos{
		X: int32(math.Ceil(pos.X/cellSize)) - 1,
		Y: int32(math.Floor(pos.Y / cellSize)),
	}
}

// CellOrigin returns the minimum corner of cell p on the ground plane.
func CellOrigin(p CellPos, cellSize float64) (x, y float64) {
	return float64(p.X) * cellSize, float64(p.Y) * cellSize
}

// CellBox is an inclusive rectangle of cells.
type CellBox struct {
	Min, Max CellPos
}

// EmptyCellBox returns a box that contains nothing and grows on first Extend.
func EmptyCellBox() CellBox {
	return CellBox{
		Min: CellPos{math.MaxInt32, math.MaxInt32},
		Max: CellPos{math.MinInt32, math.MinInt32},
	}
}

// NewCellBox returns the box spanning both corners.
func NewCellBox(a, b CellPos) CellBox {
	box := EmptyCellBox()
	box.Extend(a)
	box.Extend(b)
	return box
}

// IsEmpty reports whether the box contains no cell.
func (b CellBox) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y
}

// Extend grows the box to contain p.
func (b *CellBox) Extend(p CellPos) {
	b.Min.X = min(b.Min.X, p.X)
	b.Min.Y = min(b.Min.Y, p.Y)
	b.Max.X = max(b.Max.X, p.X)
	b.Max.Y = max(b.Max.Y, p.Y)
}

// Union grows the box to contain o.
func (b *CellBox) Union(o CellBox) {
	if o.IsEmpty() {
		return
	}
	b.Extend(o.Min)
	b.Extend(o.Max)
}

// Enlarge returns the box grown by n cells on every side.
func (b CellBox) Enlarge(n int32) CellBox {
	return CellBox{
		Min: CellPos{b.Min.X - n, b.Min.Y - n},
		Max: CellPos{b.Max.X + n, b.Max.Y + n},
	}
}

// IsInside reports whether p lies in the box.
func (b CellBox) IsInside(p CellPos) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y
}

// Width returns the number of columns.
func (b CellBox) Width() int {
	if b.IsEmpty() {
		return 0
	}
	return int(b.Max.X-b.Min.X) + 1
}

// Height returns the number of rows.
func (b CellBox) Height() int {
	if b.IsEmpty() {
		return 0
	}
	return int(b.Max.Y-b.Min.Y) + 1
}

// Count returns the number of cells in the box.
func (b CellBox) Count() int {
	return b.Width() * b.Height()
}

// RowMajorIndex returns the flat index of p inside the box.
func (b CellBox) RowMajorIndex(p CellPos) int {
	return int(p.Y-b.Min.Y)*b.Width() + int(p.X-b.Min.X)
}

// Cells yields every cell of the box in row-major order.
func (b CellBox) Cells() iter.Seq[CellPos] {
	return func(yield func(CellPos) bool) {
		for y := b.Min.Y; y <= b.Max.Y; y++ {
			for x := b.Min.X; x <= b.Max.X; x++ {
				if !yield(CellPos{x, y}) {
					return
				}
			}
		}
	}
}

// Box3 is an axis-aligned 3D box.
type Box3 struct {
	Min, Max Vec3
}

// EmptyBox3 returns an inverted box that grows on first Extend.
func EmptyBox3() Box3 {
	inf := math.Inf(1)
	return Box3{
		Min: Vec3{X: inf, Y: inf, Z: inf},
		Max: Vec3{X: -inf, Y: -inf, Z: -inf},
	}
}

// BoxAround returns the box centered on c with the given half extents.
func BoxAround(c Vec3, halfXY, halfZ float64) Box3 {
	return Box3{
		Min: Vec3{X: c.X - halfXY, Y: c.Y - halfXY, Z: c.Z - halfZ},
		Max: Vec3{X: c.X + halfXY, Y: c.Y + halfXY, Z: c.Z + halfZ},
	}
}

// IsEmpty reports whether the box is inverted.
func (b Box3) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// Extend grows the box to contain p.
func (b *Box3) Extend(p Vec3) {
	b.Min.X = math.Min(b.Min.X, p.X)
	b.Min.Y = math.Min(b.Min.Y, p.Y)
	b.Min.Z = math.Min(b.Min.Z, p.Z)
	b.Max.X = math.Max(b.Max.X, p.X)
	b.Max.Y = math.Max(b.Max.Y, p.Y)
	b.Max.Z = math.Max(b.Max.Z, p.Z)
}

// Contains reports whether p lies in the box, borders included.
func (b Box3) Contains(p Vec3) bool {
	return b.ContainsXY(p) && p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// ContainsXY reports whether the ground projection of p lies in the box.
func (b Box3) ContainsXY(p Vec3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y
}

// IntersectsXY reports whether the ground projections of b and o overlap.
func (b Box3) IntersectsXY(o Box3) bool {
	return b.Min.X <= o.Max.X && o.Min.X <= b.Max.X && b.Min.Y <= o.Max.Y && o.Min.Y <= b.Max.Y
}

// Intersects reports whether b and o overlap, borders included.
func (b Box3) Intersects(o Box3) bool {
	return b.IntersectsXY(o) && b.Min.Z <= o.Max.Z && o.Min.Z <= b.Max.Z
}

// CellBox returns the cells overlapped by the ground projection of b.
func (b Box3) CellBox(cellSize float64) CellBox {
	return NewCellBox(ComputeCellPos(b.Min, cellSize), ComputeCellPos(b.Max, cellSize))
}

// SegmentTouches reports whether the segment a-c intersects the box.
func (b Box3) SegmentTouches(a, c Vec3) bool {
	t0, t1 := 0.0, 1.0
	axes := [3][4]float64{
		{a.X, c.X - a.X, b.Min.X, b.Max.X},
		{a.Y, c.Y - a.Y, b.Min.Y, b.Max.Y},
		{a.Z, c.Z - a.Z, b.Min.Z, b.Max.Z},
	}
	for _, ax := range axes {
		p, d, lo, hi := ax[0], ax[1], ax[2], ax[3]
		if d == 0 {
			if p < lo || p > hi {
				return false
			}
			continue
		}
		ta, tb := (lo-p)/d, (hi-p)/d
		if ta > tb {
			ta, tb = tb, ta
		}
		t0 = math.Max(t0, ta)
		t1 = math.Min(t1, tb)
		if t0 > t1 {
			return false
		}
	}
	return true
}
