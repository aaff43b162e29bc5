package navgraph

import (
	"github.com/pthm-cable/navgraph/geom"
)

// LockID identifies one locked volume.
type LockID uint32

// EdgeLocker keeps the volumes in which edges may not be traversed, such as a
// closed door or a collapsed corridor. Locks are geometric, so graphs streamed in
// after the lock are covered too.
type EdgeLocker struct {
	next  LockID
	locks map[LockID]geom.Box3
	order []LockID
}

func newEdgeLocker() *EdgeLocker {
	return &EdgeLocker{locks: make(map[LockID]geom.Box3)}
}

func (l *EdgeLocker) lock(box geom.Box3) LockID {
	l.next++
	l.locks[l.next] = box
	l.order = append(l.order, l.next)
	return l.next
}

func (l *EdgeLocker) unlock(id LockID) bool {
	if _, ok := l.locks[id]; !ok {
		return false
	}
	delete(l.locks, id)
	for i, o := range l.order {
		if o == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

// Count returns the number of active locks.
func (l *EdgeLocker) Count() int { return len(l.order) }

// Volume returns the box locked by id.
func (l *EdgeLocker) Volume(id LockID) (geom.Box3, bool) {
	b, ok := l.locks[id]
	return b, ok
}

func (l *EdgeLocker) isLocked(a, b geom.Vec3) bool {
	for _, id := range l.order {
		if l.locks[id].SegmentTouches(a, b) {
			return true
		}
	}
	return false
}
