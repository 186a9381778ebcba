package resolver

import (
	"math"
	"sync"

	"github.com/OCAP2/mapmarkers/internal/geo"
	"github.com/OCAP2/mapmarkers/pkg/core"
	"github.com/dhconnelly/rtreego"
)

const (
	treeMinChildren = 25
	treeMaxChildren = 50

	// half side of the box stored for each marker
	pointTolerance = 1e-9
)

// Syncer is implemented by resolvers that keep derived state between queries.
// The session calls Sync with the store version before each query.
type Syncer interface {
	Sync(version uint64, snapshot core.Snapshot)
}

// entry is a marker's slot in the R-tree; idx is its insertion index in the snapshot.
type entry struct {
	idx  int
	rect rtreego.Rect
}

func (e *entry) Bounds() rtreego.Rect {
	return e.rect
}

// Indexed answers nearest queries through an R-tree. The tree only narrows the
// candidate set; the winner is picked with the same distance and tie-break as
// Linear, so both always agree.
type Indexed struct {
	mu      sync.Mutex
	tree    *rtreego.Rtree
	size    int
	version uint64
	synced  bool
}

// NewIndexed creates an Indexed resolver with no tree built yet
func NewIndexed() *Indexed {
	return &Indexed{}
}

// Sync rebuilds the tree when version differs from the last one seen.
// After Sync, Nearest must be called with the same snapshot.
func (ix *Indexed) Sync(version uint64, snapshot core.Snapshot) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.synced && ix.version == version && ix.size == len(snapshot) {
		return
	}
	ix.tree = buildTree(snapshot)
	ix.size = len(snapshot)
	ix.version = version
	ix.synced = true
}

// Nearest implements Resolver. Without a prior Sync the tree is built for this call only.
func (ix *Indexed) Nearest(snapshot core.Snapshot, query core.Position) (core.Marker, int, error) {
	if len(snapshot) == 0 {
		return core.Marker{}, -1, ErrNoMarker
	}

	ix.mu.Lock()
	tree := ix.tree
	if !ix.synced || ix.size != len(snapshot) {
		tree = buildTree(snapshot)
	}
	ix.mu.Unlock()

	q := rtreego.Point{query.Lon, query.Lat}
	seed, ok := tree.NearestNeighbor(q).(*entry)
	if !ok || seed == nil {
		return Linear{}.Nearest(snapshot, query)
	}

	// every marker at least as close as seed lies inside this box
	r := math.Sqrt(geo.DistanceSquared(snapshot[seed.idx].Position, query))
	half := r + r*1e-9 + 2*pointTolerance
	candidates := tree.SearchIntersect(q.ToRect(half))

	best := seed.idx
	bestD := geo.DistanceSquared(snapshot[best].Position, query)
	for _, c := range candidates {
		e := c.(*entry)
		d := geo.DistanceSquared(snapshot[e.idx].Position, query)
		if d < bestD || (d == bestD && e.idx < best) {
			best = e.idx
			bestD = d
		}
	}
	return snapshot[best], best, nil
}

func buildTree(snapshot core.Snapshot) *rtreego.Rtree {
	objs := make([]rtreego.Spatial, len(snapshot))
	for i, m := range snapshot {
		objs[i] = &entry{
			idx:  i,
			rect: rtreego.Point{m.Position.Lon, m.Position.Lat}.ToRect(pointTolerance),
		}
	}
	return rtreego.NewTree(2, treeMinChildren, treeMaxChildren, objs...)
}
