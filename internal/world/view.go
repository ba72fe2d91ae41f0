package world

// ViewSet is the set of coordinates currently streamed to one session.
type ViewSet map[Coord]struct{}

// ViewDiff describes what changed when a session's view moved.
//
// SessionAdded/SessionRemoved are relative to that one session and drive the
// add/remove events it receives. Load/Evict are global residency transitions:
// Load coordinates just gained their first observer and must be fetched from
// the store, Evict coordinates lost their last observer and leave memory.
type ViewDiff struct {
	SessionAdded   []Coord
	SessionRemoved []Coord
	Load           []Coord
	Evict          []Coord
}

// ViewManager reference-counts coordinate residency across all sessions.
// A coordinate is resident exactly while its count is positive. All methods
// must be called from the room goroutine.
type ViewManager struct {
	radius int
	refs   map[Coord]int
}

func NewViewManager(radius int) *ViewManager {
	return &ViewManager{radius: radius, refs: map[Coord]int{}}
}

func (m *ViewManager) Radius() int { return m.radius }

// Resident reports whether at least one session currently views c.
func (m *ViewManager) Resident(c Coord) bool { return m.refs[c] > 0 }

// ResidentCount returns the number of resident coordinates.
func (m *ViewManager) ResidentCount() int { return len(m.refs) }

// SetView replaces a session's view with the square centered on center and
// returns the new set plus the diff. Replacement, not union: coordinates the
// session no longer sees are released even when the squares overlap.
func (m *ViewManager) SetView(prev ViewSet, center Coord) (ViewSet, ViewDiff) {
	next := make(ViewSet, (2*m.radius+1)*(2*m.radius+1))
	var d ViewDiff

	for _, c := range square(center, m.radius) {
		next[c] = struct{}{}
		if _, had := prev[c]; had {
			continue
		}
		d.SessionAdded = append(d.SessionAdded, c)
		m.refs[c]++
		if m.refs[c] == 1 {
			d.Load = append(d.Load, c)
		}
	}
	for c := range prev {
		if _, keep := next[c]; keep {
			continue
		}
		d.SessionRemoved = append(d.SessionRemoved, c)
		if m.release(c) {
			d.Evict = append(d.Evict, c)
		}
	}
	return next, d
}

// Revert undoes a SetView whose caller could not complete the load: newly
// acquired coordinates are released and released ones re-acquired, restoring
// the counts that matched the session's previous view.
func (m *ViewManager) Revert(d ViewDiff) {
	for _, c := range d.SessionAdded {
		m.release(c)
	}
	for _, c := range d.SessionRemoved {
		m.refs[c]++
	}
}

// DropView releases every coordinate of a departing session's view and
// returns the coordinates that became evictable.
func (m *ViewManager) DropView(prev ViewSet) []Coord {
	var evict []Coord
	for c := range prev {
		if m.release(c) {
			evict = append(evict, c)
		}
	}
	return evict
}

// release decrements the refcount for c and reports whether it hit zero.
func (m *ViewManager) release(c Coord) bool {
	n := m.refs[c] - 1
	if n <= 0 {
		delete(m.refs, c)
		return true
	}
	m.refs[c] = n
	return false
}
