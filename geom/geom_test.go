package geom

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestComputeCellPos checks the asymmetric tie-break on cell borders.
func TestComputeCellPos(t *testing.T) {
	tests := []struct {
		name string
		pos  Vec3
		want CellPos
	}{
		{"interior", V3(5, 5, 0), CellPos{0, 0}},
		{"x on border goes west", V3(10, 5, 0), CellPos{0, 0}},
		{"x just past border", V3(10.1, 5, 0), CellPos{1, 0}},
		{"y on border goes north", V3(5, 10, 0), CellPos{0, 1}},
		{"y just below border", V3(5, 9.9, 0), CellPos{0, 0}},
		{"origin", V3(0, 0, 0), CellPos{-1, 0}},
		{"negative", V3(-5, -5, 3), CellPos{-1, -1}},
		{"corner", V3(20, 20, 0), CellPos{1, 2}},
		{"altitude ignored", V3(5, 5, 1000), CellPos{0, 0}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeCellPos(tc.pos, 10)
			assert.Equal(t, tc.want, got)
			// Pure function: repeated calls agree.
			assert.Equal(t, got, ComputeCellPos(tc.pos, 10))
		})
	}
}

func TestCardinalDir(t *testing.T) {
	assert.Equal(t, West, East.Opposite())
	assert.Equal(t, South, North.Opposite())
	assert.Equal(t, East, West.Opposite())
	assert.Equal(t, North, South.Opposite())

	p := CellPos{3, 4}
	for d := East; d < NumCardinalDirs; d++ {
		got, ok := p.DirTo(p.Neighbor(d))
		assert.True(t, ok)
		assert.Equal(t, d, got)
	}
	_, ok := p.DirTo(CellPos{4, 5})
	assert.False(t, ok, "diagonal is not a 4-neighbor")
}

func TestCellBox(t *testing.T) {
	box := EmptyCellBox()
	assert.True(t, box.IsEmpty())
	assert.Equal(t, 0, box.Count())

	box.Extend(CellPos{2, 0})
	box.Extend(CellPos{3, 1})
	assert.Equal(t, 2, box.Width())
	assert.Equal(t, 2, box.Height())
	assert.True(t, box.IsInside(CellPos{3, 0}))
	assert.False(t, box.IsInside(CellPos{1, 0}))
	assert.Equal(t, 3, box.RowMajorIndex(CellPos{3, 1}))

	big := box.Enlarge(1)
	assert.Equal(t, 16, big.Count())
}

func TestBox3(t *testing.T) {
	b := EmptyBox3()
	assert.True(t, b.IsEmpty())
	b.Extend(V3(0, 0, 0))
	b.Extend(V3(10, 10, 2))

	assert.True(t, b.Contains(V3(5, 5, 1)))
	assert.False(t, b.Contains(V3(5, 5, 3)))
	assert.True(t, b.ContainsXY(V3(5, 5, 3)))
	assert.True(t, b.SegmentTouches(V3(-5, 5, 1), V3(5, 5, 1)))
	assert.False(t, b.SegmentTouches(V3(-5, -5, 1), V3(-1, -1, 1)))
	assert.True(t, b.SegmentTouches(V3(-1, 5, 1), V3(30, 5, 1)), "crossing with both ends and middle outside")
	assert.False(t, b.SegmentTouches(V3(-1, 5, 3), V3(30, 5, 3)), "passes above")

	cb := b.CellBox(10)
	assert.Equal(t, CellPos{-1, 0}, cb.Min)
	assert.Equal(t, CellPos{0, 1}, cb.Max)
}

func TestDistances(t *testing.T) {
	a := V3(0, 0, 0)
	b := V3(3, 4, 12)
	assert.InDelta(t, 13, Dist(a, b), 1e-9)
	assert.InDelta(t, 169, DistSq(a, b), 1e-9)
	assert.InDelta(t, 5, Dist2D(a, b), 1e-9)
	assert.Equal(t, V3(1.5, 2, 6), Lerp(a, b, 0.5))
}

func TestCellBoxCells(t *testing.T) {
	box := NewCellBox(CellPos{0, 0}, CellPos{1, 1})
	var got []CellPos
	for p := range box.Cells() {
		got = append(got, p)
	}
	assert.Equal(t, []CellPos{{0, 0}, {1, 0}, {0, 1}, {1, 1}}, got)

	for range EmptyCellBox().Cells() {
		t.Fatal("empty box yields nothing")
	}
}
