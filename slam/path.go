package slam

import (
	"fmt"
	"math"
	"slices"
)

// Path is one particle: a bounded tail of poses plus the bookkeeping
// that keeps its branch of the tree alive.
type Path struct {
	ID            uint32
	Enabled       bool
	Collapsed     bool
	MaxLength     int
	TotalScore    float64
	LocalScore    float64
	TotalPoses    int
	TotalChildren int // live descendant paths

	tree        *Tree
	ref         PathRef
	branchPose  PoseRef
	currentPose PoseRef
	poses       []PoseRef
	cache       *hypothesisCache

	// live is set while the path is a member of the population
	live     bool
	released bool
}

// hypothesisCache is a fixed window of cells around the first
// hypothesis a path inserted
type hypothesisCache struct {
	originX  int
	originY  int
	width    int
	vertical int
	cells    map[Cell][]*Hypothesis
}

// Ref returns the path's slot reference
func (p *Path) Ref() PathRef { return p.ref }

// BranchPose returns the pose this path forked from, or NoPose for a root
func (p *Path) BranchPose() PoseRef { return p.branchPose }

// CurrentPose returns the leaf pose
func (p *Path) CurrentPose() *Pose { return p.tree.Pose(p.currentPose) }

// Len returns the number of buffered poses
func (p *Path) Len() int { return len(p.poses) }

// Live reports whether the path is a member of the population
func (p *Path) Live() bool { return p.live }

// Poses returns the buffered poses, oldest first
func (p *Path) Poses() []*Pose {
	out := make([]*Pose, 0, len(p.poses))
	for _, ref := range p.poses {
		if pose := p.tree.Pose(ref); pose != nil {
			out = append(out, pose)
		}
	}
	return out
}

// Add appends a pose. The first pose after a branch point starts a new
// ancestry list; later poses share their parent's.
func (p *Path) Add(pose *Pose) {
	pose.path = p.ref
	pose.parent = p.currentPose

	switch {
	case p.branchPose != NoPose && p.currentPose == p.branchPose:
		pose.ancestry = p.tree.Pose(p.branchPose).ancestry.extend(p.ID)
	case pose.parent == NoPose:
		pose.ancestry = newAncestry([]uint32{p.ID})
	default:
		pose.ancestry = p.tree.Pose(pose.parent).ancestry
	}

	p.currentPose = pose.ref
	p.poses = append(p.poses, pose.ref)
	p.TotalPoses++

	// eviction only trims the buffer; parent links are untouched
	if len(p.poses) > p.MaxLength {
		copy(p.poses, p.poses[1:])
		p.poses = p.poses[:len(p.poses)-1]
	}
}

// AddHypothesis caches a hypothesis by cell. The cache window is fixed
// around the first hypothesis; cells outside it are not cached and false
// is returned.
func (p *Path) AddHypothesis(h *Hypothesis, radiusCells, gridDim, gridDimVertical int) bool {
	if p.cache == nil {
		if radiusCells < 1 {
			radiusCells = 1
		}
		width := radiusCells * 2
		if gridDim > 0 && width > gridDim {
			width = gridDim
		}
		p.cache = &hypothesisCache{
			originX:  h.Cell.X - width/2,
			originY:  h.Cell.Y - width/2,
			width:    width,
			vertical: gridDimVertical,
			cells:    make(map[Cell][]*Hypothesis),
		}
	}

	key, ok := p.cache.key(h.Cell.X, h.Cell.Y, h.Cell.Z)
	if !ok {
		return false
	}
	p.cache.cells[key] = append(p.cache.cells[key], h)
	return true
}

func (c *hypothesisCache) key(x, y, z int) (Cell, bool) {
	x -= c.originX
	y -= c.originY
	if x < 0 || x >= c.width || y < 0 || y >= c.width || z < 0 || z >= c.vertical {
		return Cell{}, false
	}
	return Cell{X: x, Y: y, Z: z}, true
}

// GetHypotheses returns the cached hypotheses for a cell. The second
// result is false when the cell is outside the cache window, in which
// case the cache knows nothing about it.
func (p *Path) GetHypotheses(x, y, z int) ([]*Hypothesis, bool) {
	if p.cache == nil {
		return nil, false
	}
	key, ok := p.cache.key(x, y, z)
	if !ok {
		return nil, false
	}
	return p.cache.cells[key], true
}

// Distill commits every pose from the leaf to the root and retires the
// path. Poses distilled earlier stop the walk.
func (p *Path) Distill(grid Grid) {
	for ref := p.currentPose; ref != NoPose; {
		pose := p.tree.Pose(ref)
		if pose == nil || pose.distilled {
			break
		}
		pose.Distill(grid)
		ref = pose.parent
	}
	p.cache = nil
	p.Enabled = false
}

// Remove frees the poses this path owns exclusively and releases its
// hold on the branch point. An ancestor left with no live descendants
// that is not itself in the population is removed in turn. Removing a
// path that still has live descendants is a logic error and panics.
func (p *Path) Remove(grid Grid) bool {
	if p.TotalChildren > 0 {
		panic(fmt.Sprintf("slam: removing path %d with %d live descendants", p.ID, p.TotalChildren))
	}
	for next := p; next != nil; {
		next = next.free(grid)
	}
	return !p.Enabled
}

// free collapses and releases one path, returning the ancestor that
// should be freed next, if any
func (p *Path) free(grid Grid) *Path {
	if p.released {
		return nil
	}
	p.Enabled = false
	p.live = false

	stop := p.collapse(grid)
	p.Collapsed = stop == p.branchPose || stop == NoPose
	p.cache = nil
	p.poses = nil
	p.tree.releasePath(p)

	bp := p.tree.Pose(p.branchPose)
	if bp == nil {
		return nil
	}
	if bp.children > 0 {
		bp.children--
	}
	owner := p.tree.Path(bp.path)
	if owner == nil {
		return nil
	}
	owner.adjustChildren(-1)
	if owner.TotalChildren == 0 && !owner.live {
		return owner
	}
	return nil
}

// collapse walks up from the leaf removing poses until it reaches one
// that is shared: the branch point, a pose of another path, a distilled
// pose or a pose other paths branched from. It returns that pose.
func (p *Path) collapse(grid Grid) PoseRef {
	ref := p.currentPose
	for ref != NoPose && ref != p.branchPose {
		pose := p.tree.Pose(ref)
		if pose == nil || pose.path != p.ref || pose.distilled || pose.children > 0 {
			break
		}
		parent := pose.parent
		pose.Remove(grid)
		p.tree.releasePose(pose)
		ref = parent
	}
	p.currentPose = ref
	return ref
}

// adjustChildren changes the descendant count of this path and of every
// path above it
func (p *Path) adjustChildren(delta int) {
	for path := p; path != nil; {
		path.TotalChildren += delta
		if path.TotalChildren < 0 {
			panic(fmt.Sprintf("slam: path %d descendant count went negative", path.ID))
		}
		bp := path.tree.Pose(path.branchPose)
		if bp == nil {
			return
		}
		path = path.tree.Path(bp.path)
	}
}

// lineage returns up to max poses ending at the leaf, root first, by
// following parent links; max <= 0 means no limit
func (p *Path) lineage(max int) []*Pose {
	var rev []*Pose
	for ref := p.currentPose; ref != NoPose; {
		pose := p.tree.Pose(ref)
		if pose == nil {
			break
		}
		rev = append(rev, pose)
		if max > 0 && len(rev) >= max {
			break
		}
		ref = pose.parent
	}
	slices.Reverse(rev)
	return rev
}

// Trajectory returns up to max positions from the root to the leaf
func (p *Path) Trajectory(max int) []Point {
	poses := p.lineage(max)
	out := make([]Point, len(poses))
	for i, pose := range poses {
		out[i] = pose.Point()
	}
	return out
}

// Velocity is a reconstructed body velocity
type Velocity struct {
	Forward float64 // mm/sec
	Angular float64 // radians/sec
}

// Velocities reconstructs the forward and angular velocity between each
// pair of buffered poses, assuming constant acceleration over each step
func (p *Path) Velocities(startForward, startAngular, secPerStep float64) []Velocity {
	poses := p.Poses()
	if len(poses) < 2 || secPerStep <= 0 {
		return nil
	}
	out := make([]Velocity, 0, len(poses)-1)
	fwd, ang := startForward, startAngular
	dt2 := secPerStep * secPerStep
	for i := 1; i < len(poses); i++ {
		prev, cur := poses[i-1], poses[i]

		dist := math.Hypot(cur.X-prev.X, cur.Y-prev.Y)
		accel := 2 * (dist - fwd*secPerStep) / dt2
		fwd += accel * secPerStep

		turn := cur.Pan - prev.Pan
		accel = 2 * (turn - ang*secPerStep) / dt2
		ang += accel * secPerStep

		out = append(out, Velocity{Forward: fwd, Angular: ang})
	}
	return out
}
