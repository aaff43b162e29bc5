package graph

import (
	"bytes"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// GuidCompound identifies a graph: the sorted set of GUIDs of the sources it was
// generated from, plus a generation timestamp.
type GuidCompound struct {
	Guids     []uuid.UUID
	Timestamp uint32
}

// NewGuidCompound returns a compound over the given GUIDs, sorted.
func NewGuidCompound(timestamp uint32, guids ...uuid.UUID) GuidCompound {
	g := slices.Clone(guids)
	slices.SortFunc(g, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return GuidCompound{Guids: g, Timestamp: timestamp}
}

// NewRandomGuid returns a compound with one fresh random GUID.
func NewRandomGuid() GuidCompound {
	return NewGuidCompound(0, uuid.New())
}

// GuidFromName returns a compound with one name-derived GUID, stable across runs.
func GuidFromName(name string) GuidCompound {
	return NewGuidCompound(0, uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)))
}

// IsValid reports whether the compound holds at least one GUID.
func (g GuidCompound) IsValid() bool {
	return len(g.Guids) > 0
}

// Equal reports whether both compounds identify the same graph.
func (g GuidCompound) Equal(o GuidCompound) bool {
	return g.Timestamp == o.Timestamp && slices.Equal(g.Guids, o.Guids)
}

// Key returns a comparable form suitable for map keys.
func (g GuidCompound) Key() string {
	var sb strings.Builder
	sb.Grow(len(g.Guids)*16 + 4)
	for _, id := range g.Guids {
		sb.Write(id[:])
	}
	ts := g.Timestamp
	sb.WriteByte(byte(ts >> 24))
	sb.WriteByte(byte(ts >> 16))
	sb.WriteByte(byte(ts >> 8))
	sb.WriteByte(byte(ts))
	return sb.String()
}

func (g GuidCompound) String() string {
	parts := make([]string, len(g.Guids))
	for i, id := range g.Guids {
		parts[i] = id.String()
	}
	return strings.Join(parts, "+")
}
