package slam

import "math"

// PoseRef addresses a pose slot in a Tree
type PoseRef int32

// PathRef addresses a path slot in a Tree
type PathRef int32

const (
	// NoPose is the nil pose reference
	NoPose PoseRef = -1
	// NoPath is the nil path reference
	NoPath PathRef = -1

	// MaxPathHistory caps the ancestry list carried by each pose
	MaxPathHistory = 500

	// path IDs roll over before reaching NoPathID
	maxPathID = math.MaxUint32 - 3
)

// Tree owns every pose and path of the filter. Nodes live in slots
// addressed by stable indices; freed slots are reused.
type Tree struct {
	poses     []*Pose
	freePoses []PoseRef
	paths     []*Path
	freePaths []PathRef

	nextID    uint32
	maxLength int
}

// NewTree creates an empty tree whose paths buffer at most maxLength poses
func NewTree(maxLength int) *Tree {
	if maxLength < 1 {
		maxLength = 1
	}
	return &Tree{maxLength: maxLength}
}

// Pose resolves a pose reference, returning nil for freed slots
func (t *Tree) Pose(ref PoseRef) *Pose {
	if ref < 0 || int(ref) >= len(t.poses) {
		return nil
	}
	return t.poses[ref]
}

// Path resolves a path reference, returning nil for freed slots
func (t *Tree) Path(ref PathRef) *Path {
	if ref < 0 || int(ref) >= len(t.paths) {
		return nil
	}
	return t.paths[ref]
}

// LivePoses returns the number of allocated pose slots
func (t *Tree) LivePoses() int { return len(t.poses) - len(t.freePoses) }

// LivePaths returns the number of allocated path slots
func (t *Tree) LivePaths() int { return len(t.paths) - len(t.freePaths) }

// NextPathID returns the ID the next path will receive
func (t *Tree) NextPathID() uint32 { return t.nextID }

// NewPose allocates a pose that does not yet belong to a path
func (t *Tree) NewPose(x, y, pan float64, timeStep uint32) *Pose {
	p := &Pose{
		X:        x,
		Y:        y,
		Pan:      pan,
		TimeStep: timeStep,
		tree:     t,
		parent:   NoPose,
		path:     NoPath,
	}
	if n := len(t.freePoses); n > 0 {
		p.ref = t.freePoses[n-1]
		t.freePoses = t.freePoses[:n-1]
		t.poses[p.ref] = p
	} else {
		p.ref = PoseRef(len(t.poses))
		t.poses = append(t.poses, p)
	}
	return p
}

func (t *Tree) releasePose(p *Pose) {
	t.poses[p.ref] = nil
	t.freePoses = append(t.freePoses, p.ref)
	p.hypotheses = nil
}

func (t *Tree) newPath() *Path {
	p := &Path{
		ID:          t.nextID,
		Enabled:     true,
		MaxLength:   t.maxLength,
		tree:        t,
		branchPose:  NoPose,
		currentPose: NoPose,
	}
	t.nextID++
	if t.nextID > maxPathID {
		t.nextID = 0
	}
	if n := len(t.freePaths); n > 0 {
		p.ref = t.freePaths[n-1]
		t.freePaths = t.freePaths[:n-1]
		t.paths[p.ref] = p
	} else {
		p.ref = PathRef(len(t.paths))
		t.paths = append(t.paths, p)
	}
	return p
}

func (t *Tree) releasePath(p *Path) {
	t.paths[p.ref] = nil
	t.freePaths = append(t.freePaths, p.ref)
	p.released = true
}

// NewRootPath starts a path with no parent at the given pose
func (t *Tree) NewRootPath(x, y, pan float64, timeStep uint32) *Path {
	path := t.newPath()
	path.Add(t.NewPose(x, y, pan, timeStep))
	return path
}

// Branch forks a child path from the parent's current pose. The branch
// point is shared, and every path above the child counts it as a
// descendant until the child is removed.
func (t *Tree) Branch(parent *Path) *Path {
	bp := t.Pose(parent.currentPose)
	if bp == nil {
		panic("slam: branching from a path without a current pose")
	}
	child := t.newPath()
	bp.children++
	child.branchPose = bp.ref
	child.currentPose = bp.ref
	child.MaxLength = parent.MaxLength
	child.TotalScore = parent.TotalScore
	child.TotalPoses = parent.TotalPoses
	if owner := t.Path(bp.path); owner != nil {
		owner.adjustChildren(1)
	}
	return child
}

// Ancestry is the list of path IDs whose hypotheses a pose can see.
// It is shared by every pose of a path after the branch point.
type Ancestry struct {
	ids []uint32
	set map[uint32]struct{}
}

func newAncestry(ids []uint32) *Ancestry {
	a := &Ancestry{ids: ids, set: make(map[uint32]struct{}, len(ids))}
	for _, id := range ids {
		a.set[id] = struct{}{}
	}
	return a
}

// extend copies the most recent entries and appends id
func (a *Ancestry) extend(id uint32) *Ancestry {
	var tail []uint32
	if a != nil {
		tail = a.ids
		if min := len(tail) - (MaxPathHistory - 1); min > 0 {
			tail = tail[min:]
		}
	}
	ids := make([]uint32, 0, len(tail)+1)
	ids = append(ids, tail...)
	return newAncestry(append(ids, id))
}

// Contains reports whether the path ID is in the list
func (a *Ancestry) Contains(id uint32) bool {
	if a == nil {
		return false
	}
	_, ok := a.set[id]
	return ok
}

// Len returns the number of path IDs in the list
func (a *Ancestry) Len() int {
	if a == nil {
		return 0
	}
	return len(a.ids)
}

// IDs returns a copy of the list, oldest first
func (a *Ancestry) IDs() []uint32 {
	if a == nil {
		return nil
	}
	return append([]uint32(nil), a.ids...)
}
