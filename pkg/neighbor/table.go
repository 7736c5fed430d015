package neighbor

import (
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/ryandielhenn/zephyrlink/pkg/identity"
)

// MaxLiveness is the highest value the liveness counter reaches before it wraps to 1.
const MaxLiveness = 10

// Entry is a copy of one neighbor's state. Mutating it does not affect the table.
type Entry struct {
	ID         identity.ID
	Addr       netip.AddrPort // source IP of the broadcast, advertised measurement port
	Delay      float64        // seconds, valid only when HasDelay
	HasDelay   bool
	Liveness   int
	Measuring  bool
	FirstSeen  time.Time
	LastSeen   time.Time
	MeasuredAt time.Time

	claim Claim
}

// Claim identifies one holder of a neighbor's in-flight flag. Claims are never
// reused within a table, so a claim taken on an entry that was since removed
// and re-created cannot act on the new entry.
type Claim uint64

// Table is the set of neighbors currently believed live, keyed by node id.
// Every operation is atomic with respect to the others.
type Table struct {
	mu    sync.RWMutex
	peers map[identity.ID]*Entry
	now   func() time.Time
	gen   Claim
}

func NewTable() *Table {
	return &Table{
		peers: make(map[identity.ID]*Entry),
		now:   time.Now,
	}
}

// Upsert creates an entry for id with a liveness of 1, or refreshes the address
// and last-seen time of an existing one. created reports which happened.
func (t *Table) Upsert(id identity.ID, addr netip.AddrPort) (e Entry, created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if p, ok := t.peers[id]; ok {
		p.Addr = addr
		p.LastSeen = now
		return *p, false
	}
	p := &Entry{
		ID:        id,
		Addr:      addr,
		Liveness:  1,
		FirstSeen: now,
		LastSeen:  now,
	}
	t.peers[id] = p
	return *p, true
}

// BumpLiveness increments the liveness counter of id and returns the new value.
// A counter that would exceed MaxLiveness resets to 1. Returns 0 if id is unknown.
func (t *Table) BumpLiveness(id identity.ID) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.peers[id]
	if !ok {
		return 0
	}
	p.Liveness++
	if p.Liveness > MaxLiveness {
		p.Liveness = 1
	}
	return p.Liveness
}

// SetDelay overwrites the delay estimate of id.
func (t *Table) SetDelay(id identity.ID, delay float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.peers[id]
	if !ok {
		return false
	}
	p.Delay = delay
	p.HasDelay = true
	p.MeasuredAt = t.now()
	return true
}

// TryBeginMeasurement claims the in-flight flag of id. It fails if id is unknown
// or a measurement is already running. The returned claim is required to
// release the flag or evict the entry.
func (t *Table) TryBeginMeasurement(id identity.ID) (Claim, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.peers[id]
	if !ok || p.Measuring {
		return 0, false
	}
	t.gen++
	p.Measuring = true
	p.claim = t.gen
	return t.gen, true
}

// EndMeasurement releases the flag of id if c still holds it.
func (t *Table) EndMeasurement(id identity.ID, c Claim) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[id]
	if !ok || !p.Measuring || p.claim != c {
		return false
	}
	p.Measuring = false
	p.claim = 0
	return true
}

func (t *Table) Remove(id identity.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[id]; !ok {
		return false
	}
	delete(t.peers, id)
	return true
}

// Evict removes id only while c holds its in-flight flag. An entry re-created
// after an earlier removal is left alone, claimed or not.
func (t *Table) Evict(id identity.ID, c Claim) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[id]
	if !ok || !p.Measuring || p.claim != c {
		return false
	}
	delete(t.peers, id)
	return true
}

func (t *Table) Get(id identity.ID) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.peers[id]; ok {
		return *p, true
	}
	return Entry{}, false
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// Snapshot returns copies of all entries ordered by id.
func (t *Table) Snapshot() []Entry {
	t.mu.RLock()
	out := make([]Entry, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
