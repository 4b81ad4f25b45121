package balance

import "sync"

// Join is the cross-heap rendezvous primitive GC threads use between
// phase boundaries in the parallel configuration (spec §4.7: "all GC
// threads rendezvous at named phase barriers. One thread may be elected
// 'first' to perform non-parallelizable work"). A Join is reusable
// across an unbounded number of rounds.
type Join struct {
	mu   sync.Mutex
	cond *sync.Cond

	n          int
	arrived    int
	generation uint64
}

// NewJoin creates a barrier for n participating GC threads.
func NewJoin(n int) *Join {
	j := &Join{n: n}
	j.cond = sync.NewCond(&j.mu)

	return j
}

// Enter blocks until all n threads have called Enter for the current
// round, then releases them together. Returns true for exactly one
// caller per round — the first to arrive — which the caller should use
// to decide whether it performs the round's non-parallelizable work.
func (j *Join) Enter() (first bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	myGen := j.generation
	first = j.arrived == 0
	j.arrived++

	if j.arrived == j.n {
		j.arrived = 0
		j.generation++
		j.cond.Broadcast()

		return first
	}

	for j.generation == myGen {
		j.cond.Wait()
	}

	return first
}
