// Package systems provides the ECS systems that drive navigation agents.
package systems

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/navgraph/components"
	"github.com/pthm-cable/navgraph/geom"
)

// SpatialGrid buckets agents into square cells covering the world.
type SpatialGrid struct {
	cellSize float64
	cols     int
	rows     int
	cells    [][]ecs.Entity // flat grid of entity lists
	focus    []geom.Vec3
}

// NewSpatialGrid creates a spatial grid covering the given world size.
func NewSpatialGrid(width, height, cellSize float64) *SpatialGrid {
	cols := int(width/cellSize) + 1
	rows := int(height/cellSize) + 1

	cells := make([][]ecs.Entity, cols*rows)
	for i := range cells {
		cells[i] = make([]ecs.Entity, 0, 8)
	}

	return &SpatialGrid{
		cellSize: cellSize,
		cols:     cols,
		rows:     rows,
		cells:    cells,
	}
}

// Clear removes all entities from the grid.
func (g *SpatialGrid) Clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0]
	}
}

// Insert adds an entity to the grid at the given position.
func (g *SpatialGrid) Insert(e ecs.Entity, x, y float64) {
	idx := g.cellIndex(x, y)
	g.cells[idx] = append(g.cells[idx], e)
}

// Rebuild clears the grid and inserts every entity of the filter.
func (g *SpatialGrid) Rebuild(filter *ecs.Filter1[components.Position]) {
	g.Clear()
	query := filter.Query()
	for query.Next() {
		pos := query.Get()
		g.Insert(query.Entity(), pos.X, pos.Y)
	}
}

// Count returns the number of entities in the cell containing (x, y).
func (g *SpatialGrid) Count(x, y float64) int {
	return len(g.cells[g.cellIndex(x, y)])
}

// Focus returns the position of the first entity of every occupied cell.
// With cells the size of a sector this is one streaming focus per populated
// sector, however crowded it is. The returned slice is reused by the next call.
func (g *SpatialGrid) Focus(posMap *ecs.Map1[components.Position]) []geom.Vec3 {
	g.focus = g.focus[:0]
	for _, cell := range g.cells {
		if len(cell) == 0 {
			continue
		}
		if pos := posMap.Get(cell[0]); pos != nil {
			g.focus = append(g.focus, pos.Vec())
		}
	}
	return g.focus
}

// cellIndex returns the flat index for a world position.
func (g *SpatialGrid) cellIndex(x, y float64) int {
	col := int(x / g.cellSize)
	row := int(y / g.cellSize)

	// Clamp to valid range
	if col < 0 {
		col = 0
	} else if col >= g.cols {
		col = g.cols - 1
	}
	if row < 0 {
		row = 0
	} else if row >= g.rows {
		row = g.rows - 1
	}

	return row*g.cols + col
}
