package graph

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/pthm-cable/navgraph/geom"
)

// ErrBadBlob is returned when a graph blob is malformed.
var ErrBadBlob = errors.New("graph: bad blob")

const (
	blobVersion   uint16 = 1
	blobMaxCount         = 1 << 24
	endianMarker  uint16 = 0x0102
	endianBigHi          = 0x01
	endianLittleL        = 0x02
)

var blobMagic = [4]byte{'N', 'G', 'R', 'B'}

type blobHeader struct {
	Magic    [4]byte
	Endian   uint16
	Version  uint16
	Guids    uint32
	Stamp    uint32
	CellSize float64
	Coord    uint8
	_        [3]byte
	CellBox  geom.CellBox
	Cells    uint32
}

type blobCell struct {
	CellPos      geom.CellPos
	Box          geom.Box3
	Vertices     uint32
	Edges        uint32
	Terrains     uint32
	LinkVertices [geom.NumCardinalDirs]VertexRange
	Interior     VertexRange
}

// EncodeGraph writes g to w in the given byte order. The header carries an
// endianness marker so a reader on any platform can decode it.
func EncodeGraph(w io.Writer, g *Graph, order binary.ByteOrder) error {
	bw := bufio.NewWriter(w)
	h := blobHeader{
		Magic:    blobMagic,
		Endian:   endianMarker,
		Version:  blobVersion,
		Guids:    uint32(len(g.Guid.Guids)),
		Stamp:    g.Guid.Timestamp,
		CellSize: g.CellSize,
		Coord:    uint8(g.CoordSystem),
		CellBox:  g.CellBox,
		Cells:    uint32(len(g.Cells)),
	}
	if err := binary.Write(bw, order, &h); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, id := range g.Guid.Guids {
		if _, err := bw.Write(id[:]); err != nil {
			return fmt.Errorf("write guid: %w", err)
		}
	}
	for i := range g.Cells {
		c := &g.Cells[i]
		bc := blobCell{
			CellPos:      c.CellPos,
			Box:          c.Box,
			Vertices:     uint32(len(c.Vertices)),
			Edges:        uint32(len(c.Edges)),
			Terrains:     uint32(len(c.TerrainTypes)),
			LinkVertices: c.LinkVertices,
			Interior:     c.InteriorVertices,
		}
		if err := binary.Write(bw, order, &bc); err != nil {
			return fmt.Errorf("write cell %v: %w", c.CellPos, err)
		}
		if err := writeArrays(bw, order, c.Vertices, c.Edges, c.TerrainTypes); err != nil {
			return fmt.Errorf("write cell %v: %w", c.CellPos, err)
		}
	}
	return bw.Flush()
}

// DecodeGraph reads a graph written by EncodeGraph, whatever byte order it was written in.
func DecodeGraph(r io.Reader) (*Graph, error) {
	br := bufio.NewReader(r)

	var prefix [6]byte
	if _, err := io.ReadFull(br, prefix[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadBlob, err)
	}
	if [4]byte(prefix[:4]) != blobMagic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadBlob, prefix[:4])
	}
	var order binary.ByteOrder
	switch {
	case prefix[4] == endianBigHi && prefix[5] == endianLittleL:
		order = binary.BigEndian
	case prefix[4] == endianLittleL && prefix[5] == endianBigHi:
		order = binary.LittleEndian
	default:
		return nil, fmt.Errorf("%w: endianness marker %x", ErrBadBlob, prefix[4:])
	}

	var h blobHeader
	rest := io.MultiReader(bytes.NewReader(prefix[:]), br)
	if err := binary.Read(rest, order, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrBadBlob, err)
	}
	if h.Version != blobVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadBlob, h.Version)
	}
	if h.Guids > blobMaxCount || h.Cells > blobMaxCount {
		return nil, fmt.Errorf("%w: counts out of range", ErrBadBlob)
	}

	g := &Graph{
		CellSize:    h.CellSize,
		CoordSystem: CoordSystem(h.Coord),
		CellBox:     h.CellBox,
		Cells:       make([]GraphCell, h.Cells),
	}
	guids := make([]uuid.UUID, h.Guids)
	for i := range guids {
		if _, err := io.ReadFull(br, guids[i][:]); err != nil {
			return nil, fmt.Errorf("%w: guid: %w", ErrBadBlob, err)
		}
	}
	g.Guid = GuidCompound{Guids: guids, Timestamp: h.Stamp}

	for i := range g.Cells {
		var bc blobCell
		if err := binary.Read(br, order, &bc); err != nil {
			return nil, fmt.Errorf("%w: cell %d: %w", ErrBadBlob, i, err)
		}
		if bc.Vertices > blobMaxCount || bc.Edges > blobMaxCount || bc.Terrains > bc.Vertices {
			return nil, fmt.Errorf("%w: cell %d counts out of range", ErrBadBlob, i)
		}
		c := &g.Cells[i]
		c.CellPos = bc.CellPos
		c.Box = bc.Box
		c.LinkVertices = bc.LinkVertices
		c.InteriorVertices = bc.Interior
		c.Vertices = make([]GraphVertex, bc.Vertices)
		c.Edges = make([]GraphEdge, bc.Edges)
		if bc.Terrains > 0 {
			c.TerrainTypes = make([]TerrainType, bc.Terrains)
		}
		if err := readArrays(br, order, c.Vertices, c.Edges, c.TerrainTypes); err != nil {
			return nil, fmt.Errorf("%w: cell %d: %w", ErrBadBlob, i, err)
		}
		if err := validateCell(c); err != nil {
			return nil, fmt.Errorf("%w: cell %d: %w", ErrBadBlob, i, err)
		}
	}
	return g, nil
}

func validateCell(c *GraphCell) error {
	n := uint32(len(c.Vertices))
	for _, e := range c.Edges {
		if e.Start >= n || e.End >= n {
			return ErrBadVertex
		}
	}
	if c.InteriorVertices.First+c.InteriorVertices.Count != n {
		return errors.New("interior range does not end the vertex array")
	}
	for _, r := range c.LinkVertices {
		if r.First+r.Count > c.InteriorVertices.First {
			return errors.New("boundary range overlaps interior vertices")
		}
	}
	return nil
}

func writeArrays(w io.Writer, order binary.ByteOrder, vertices []GraphVertex, edges []GraphEdge, terrains []TerrainType) error {
	if len(vertices) > 0 {
		if err := binary.Write(w, order, vertices); err != nil {
			return err
		}
	}
	if len(edges) > 0 {
		if err := binary.Write(w, order, edges); err != nil {
			return err
		}
	}
	if len(terrains) > 0 {
		return binary.Write(w, order, terrains)
	}
	return nil
}

func readArrays(r io.Reader, order binary.ByteOrder, vertices []GraphVertex, edges []GraphEdge, terrains []TerrainType) error {
	if len(vertices) > 0 {
		if err := binary.Read(r, order, vertices); err != nil {
			return err
		}
	}
	if len(edges) > 0 {
		if err := binary.Read(r, order, edges); err != nil {
			return err
		}
	}
	if len(terrains) > 0 {
		return binary.Read(r, order, terrains)
	}
	return nil
}
