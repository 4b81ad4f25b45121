package region

// runMap implements the region allocator map (spec §3 "Region allocator
// map"): a VA reservation divided into regionAlignment-sized units,
// represented as an ordered list of runs. Each run is either free or busy;
// adjacent free runs are coalesced lazily on walk, busy runs are never
// merged. The invariant the spec calls for — sum of run lengths equals the
// total unit count, every unit belongs to exactly one run — holds by
// construction: split/merge always replace entries with entries summing to
// the same length.
type runMap struct {
	totalUnits uint32
	runs       []run
}

type run struct {
	free   bool
	length uint32 // in units
}

func newRunMap(totalUnits uint32) *runMap {
	return &runMap{totalUnits: totalUnits, runs: []run{{free: true, length: totalUnits}}}
}

// coalesce merges adjacent free runs. Called lazily (on find/free) rather
// than eagerly on every free, matching spec §3's "coalesced lazily on walk".
func (m *runMap) coalesce() {
	out := m.runs[:0]

	for _, r := range m.runs {
		if n := len(out); n > 0 && out[n-1].free && r.free {
			out[n-1].length += r.length
			continue
		}

		out = append(out, r)
	}

	m.runs = out
}

// findForward returns the index of the first free run with length >= units,
// searching from the start of the map.
func (m *runMap) findForward(units uint32) int {
	for i, r := range m.runs {
		if r.free && r.length >= units {
			return i
		}
	}

	return -1
}

// findBackward searches from the end of the map, used for large regions
// with direction=backward so SOH and LOH/POH grow from opposite ends of the
// reservation (spec §4.1).
func (m *runMap) findBackward(units uint32) int {
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].free && m.runs[i].length >= units {
			return i
		}
	}

	return -1
}

// take carves `units` out of the free run at index i, returning the unit
// offset of the carved (now busy) run. When direction is backward the
// carved range is taken from the tail of the free run so large regions and
// the ephemeral generations approach each other rather than interleaving.
func (m *runMap) take(i int, units uint32, fromTail bool) uint32 {
	r := m.runs[i]

	offset := unitsBefore(m.runs[:i])

	if r.length == units {
		m.runs[i] = run{free: false, length: units}
		return offset
	}

	if fromTail {
		remaining := run{free: true, length: r.length - units}
		taken := run{free: false, length: units}
		m.runs = insertAt(m.runs, i, remaining, taken)

		return offset + remaining.length
	}

	taken := run{free: false, length: units}
	remaining := run{free: true, length: r.length - units}
	m.runs = insertAt(m.runs, i, taken, remaining)

	return offset
}

// free marks the busy run starting at unit offset as free. It returns false
// if no busy run starts exactly there (double-free or bad offset).
func (m *runMap) free(offset uint32) bool {
	pos := uint32(0)

	for i, r := range m.runs {
		if pos == offset {
			if r.free {
				return false
			}

			m.runs[i].free = true
			m.coalesce()

			return true
		}

		pos += r.length
	}

	return false
}

func unitsBefore(runs []run) uint32 {
	var total uint32
	for _, r := range runs {
		total += r.length
	}

	return total
}

func insertAt(runs []run, i int, replacement ...run) []run {
	out := make([]run, 0, len(runs)+len(replacement)-1)
	out = append(out, runs[:i]...)
	out = append(out, replacement...)
	out = append(out, runs[i+1:]...)

	return out
}

// freeUnits sums the free run lengths, used for get_free_va.
func (m *runMap) freeUnits() uint32 {
	var total uint32
	for _, r := range m.runs {
		if r.free {
			total += r.length
		}
	}

	return total
}

// sumLengths totals every run's length, free or busy — used by
// RegionAllocator.VerifyCoverage to check spec §8 Property 10 (sum of run
// lengths equals total units).
func (m *runMap) sumLengths() uint32 {
	var total uint32
	for _, r := range m.runs {
		total += r.length
	}

	return total
}
