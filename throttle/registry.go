package throttle

import (
	"container/heap"
	"sync"
)

// intMaxHeap is a container/heap max-heap of vote values.
type intMaxHeap []int

func (h intMaxHeap) Len() int            { return len(h) }
func (h intMaxHeap) Less(i, j int) bool  { return h[i] > h[j] }
func (h intMaxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *intMaxHeap) Push(x interface{}) { *h = append(*h, x.(int)) }
func (h *intMaxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// voteSet holds one CDEV's multiset of voter counts plus a lazily-cleaned
// max-heap of votes. A vote is pushed onto the heap each time its count
// goes from 0 to 1, so a vote that drops out and returns can sit on the
// heap more than once; an entry is never removed from the heap on its own —
// only popped off lazily when it surfaces at the top during a max query and
// its count has since dropped to 0. Each pushed entry is popped at most
// once, so the total popping cost amortizes to O(log n) per
// insert/remove/query, even though a single unlucky max() call can pop
// several stale entries in a row.
type voteSet struct {
	counts map[int]int
	heap   intMaxHeap
}

func newVoteSet() *voteSet {
	return &voteSet{counts: make(map[int]int)}
}

func (s *voteSet) insert(vote int) {
	if s.counts[vote] == 0 {
		heap.Push(&s.heap, vote)
	}
	s.counts[vote]++
}

func (s *voteSet) remove(vote int) {
	c, ok := s.counts[vote]
	if !ok {
		return
	}
	if c <= 1 {
		delete(s.counts, vote)
	} else {
		s.counts[vote] = c - 1
	}
}

// max returns the current maximum voted value and whether any voter
// remains, discarding stale zero-count entries off the top of the heap as
// it goes.
func (s *voteSet) max() (int, bool) {
	for s.heap.Len() > 0 {
		top := s.heap[0]
		if s.counts[top] > 0 {
			return top, true
		}
		heap.Pop(&s.heap)
	}
	return 0, false
}

// CdevVoteRegistry holds, for every cooling device, a multiset of the
// current per-sensor votes. Each sensor is one voter; the registry's
// authority is that a CDEV's effective state is the maximum vote across
// all sensors currently bound to it.
//
// The max for each CDEV is backed by a lazy-deletion max-heap (voteSet)
// rather than a full rescan: insert is O(log n), and a max query only
// pops the entries that have actually gone stale since they were pushed,
// which amortizes to O(log n) per operation.
type CdevVoteRegistry struct {
	mu    sync.Mutex
	votes map[string]*voteSet
}

// NewCdevVoteRegistry returns an empty registry.
func NewCdevVoteRegistry() *CdevVoteRegistry {
	return &CdevVoteRegistry{votes: make(map[string]*voteSet)}
}

// Insert registers cdev (if not already present) and adds one voter at the
// given vote. Used at sensor registration time to seed every bound CDEV
// with an initial vote of 0, and by tests.
func (r *CdevVoteRegistry) Insert(cdev string, vote int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLocked(cdev).insert(vote)
}

// Update atomically removes one voter at oldVote and adds one at newVote for
// cdev, reporting whether the registry's max vote changed as a result. The
// lock is held for the whole remove+insert+max-query sequence, and released
// via defer so a panic mid-tick can never leave the registry half-updated.
func (r *CdevVoteRegistry) Update(cdev string, oldVote, newVote int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.ensureLocked(cdev)
	before, _ := s.max()
	s.remove(oldVote)
	s.insert(newVote)
	after, _ := s.max()
	return after != before
}

// Remove drops one voter at vote for cdev (e.g. a sensor being cleared),
// reporting whether the max vote changed.
func (r *CdevVoteRegistry) Remove(cdev string, vote int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.ensureLocked(cdev)
	before, _ := s.max()
	s.remove(vote)
	after, _ := s.max()
	return after != before
}

// MaxVote returns the current maximum vote for cdev and whether the CDEV is
// known to the registry at all. Takes the write lock, not just a read
// lock, because querying the max can pop stale entries off the heap.
func (r *CdevVoteRegistry) MaxVote(cdev string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.votes[cdev]
	if !ok {
		return 0, false
	}
	return s.max()
}

func (r *CdevVoteRegistry) ensureLocked(cdev string) *voteSet {
	s, ok := r.votes[cdev]
	if !ok {
		s = newVoteSet()
		r.votes[cdev] = s
	}
	return s
}
