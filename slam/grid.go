package slam

import (
	"cmp"
	"math"
	"slices"
	"sync"
	"sync/atomic"
)

// NoPathID never identifies a path; it disables exclusion in Evidence
const NoPathID = math.MaxUint32

const (
	hypothesisLive int32 = iota
	hypothesisRemoved
	hypothesisDistilled
)

// Hypothesis is one piece of occupancy evidence contributed by one pose
type Hypothesis struct {
	Cell      Cell
	PathID    uint32
	Pose      PoseRef
	LogOdds   float64
	Colour    [3]float64
	HasColour bool

	state atomic.Int32
}

// Removed reports whether the grid has discarded the hypothesis
func (h *Hypothesis) Removed() bool { return h.state.Load() == hypothesisRemoved }

// Distilled reports whether the hypothesis was committed permanently
func (h *Hypothesis) Distilled() bool { return h.state.Load() == hypothesisDistilled }

func (h *Hypothesis) live() bool { return h.state.Load() == hypothesisLive }

// Evidence is what a grid cell says to one line of descent
type Evidence struct {
	LogOdds    float64
	Colour     [3]float64 // mean of coloured hits
	HasColour  bool
	ColourHits int
	Hits       int
}

// Grid is the occupancy grid the filter writes hypotheses into.
// Insert, Remove and Distill may be called concurrently for the same cell.
type Grid interface {
	Dimensions() GridDimensions
	Centre() Point
	InsertHypothesis(h *Hypothesis)
	RemoveHypothesis(h *Hypothesis)
	DistillHypothesis(h *Hypothesis)
	// Evidence sums the distilled state of a cell with the live
	// hypotheses of paths in ancestry, skipping those of exclude.
	Evidence(cell Cell, ancestry *Ancestry, exclude uint32) Evidence
}

// CellAt converts a world position in millimetres to grid coordinates
func CellAt(dims GridDimensions, centre Point, x, y, z float64) Cell {
	half := dims.DimensionCells / 2
	return Cell{
		X: int(math.Floor((x-centre.X)/dims.CellSizeMM)) + half,
		Y: int(math.Floor((y-centre.Y)/dims.CellSizeMM)) + half,
		Z: int(math.Floor(z / dims.CellSizeMM)),
	}
}

// CellCentre returns the world position of a cell's centre
func CellCentre(dims GridDimensions, centre Point, c Cell) Point {
	half := dims.DimensionCells / 2
	return Point{
		X: centre.X + (float64(c.X-half)+0.5)*dims.CellSizeMM,
		Y: centre.Y + (float64(c.Y-half)+0.5)*dims.CellSizeMM,
	}
}

const gridShards = 64

type gridCell struct {
	hypotheses []*Hypothesis

	distilledLogOdds float64
	distilledHits    int
	colourSum        [3]float64
	colourHits       int
}

type gridShard struct {
	mu    sync.RWMutex
	cells map[Cell]*gridCell
}

// MemoryGrid is a sparse in-memory occupancy grid. Cells are spread
// over shards that each carry their own lock.
type MemoryGrid struct {
	dims   GridDimensions
	centre Point
	shards [gridShards]gridShard

	live      atomic.Int64
	distilled atomic.Int64
}

// NewMemoryGrid creates an empty grid centred on the origin
func NewMemoryGrid(dims GridDimensions) *MemoryGrid {
	g := &MemoryGrid{dims: dims}
	for i := range g.shards {
		g.shards[i].cells = make(map[Cell]*gridCell)
	}
	return g
}

// NewMemoryGridFromConfig creates a grid placed per the configuration
func NewMemoryGridFromConfig(cfg GridConfig) *MemoryGrid {
	g := NewMemoryGrid(cfg.GridDimensions)
	g.SetCentrePosition(cfg.CentreX, cfg.CentreY)
	return g
}

// Dimensions returns the grid metadata
func (g *MemoryGrid) Dimensions() GridDimensions { return g.dims }

// Centre returns the world position of the grid centre
func (g *MemoryGrid) Centre() Point { return g.centre }

// SetCentrePosition moves the grid. Call only while the grid is empty.
func (g *MemoryGrid) SetCentrePosition(x, y float64) {
	g.centre = Point{X: x, Y: y}
}

func (g *MemoryGrid) shard(c Cell) *gridShard {
	h := uint32(c.X)*73856093 ^ uint32(c.Y)*19349663 ^ uint32(c.Z)*83492791
	return &g.shards[h&(gridShards-1)]
}

// InsertHypothesis adds live evidence to a cell
func (g *MemoryGrid) InsertHypothesis(h *Hypothesis) {
	if !g.dims.Contains(h.Cell) {
		return
	}
	s := g.shard(h.Cell)
	s.mu.Lock()
	cell := s.cells[h.Cell]
	if cell == nil {
		cell = &gridCell{}
		s.cells[h.Cell] = cell
	}
	cell.hypotheses = append(cell.hypotheses, h)
	s.mu.Unlock()
	g.live.Add(1)
}

// detach removes h from its cell's live list, keeping the insertion order
// of the rest so evidence sums are reproducible. Caller holds the shard lock.
func (s *gridShard) detach(h *Hypothesis) (*gridCell, bool) {
	cell := s.cells[h.Cell]
	if cell == nil {
		return nil, false
	}
	for i, other := range cell.hypotheses {
		if other == h {
			last := len(cell.hypotheses) - 1
			copy(cell.hypotheses[i:], cell.hypotheses[i+1:])
			cell.hypotheses[last] = nil
			cell.hypotheses = cell.hypotheses[:last]
			return cell, true
		}
	}
	return cell, false
}

// RemoveHypothesis discards live evidence without committing it
func (g *MemoryGrid) RemoveHypothesis(h *Hypothesis) {
	if !h.live() {
		return
	}
	s := g.shard(h.Cell)
	s.mu.Lock()
	defer s.mu.Unlock()
	cell, found := s.detach(h)
	if !found {
		return
	}
	h.state.Store(hypothesisRemoved)
	if len(cell.hypotheses) == 0 && cell.distilledHits == 0 {
		delete(s.cells, h.Cell)
	}
	g.live.Add(-1)
}

// DistillHypothesis commits live evidence permanently. Distilling the
// same hypothesis twice has no further effect.
func (g *MemoryGrid) DistillHypothesis(h *Hypothesis) {
	if !h.live() {
		return
	}
	s := g.shard(h.Cell)
	s.mu.Lock()
	defer s.mu.Unlock()
	cell, found := s.detach(h)
	if !found {
		return
	}
	h.state.Store(hypothesisDistilled)
	cell.distilledLogOdds += h.LogOdds
	cell.distilledHits++
	if h.HasColour {
		for i := range cell.colourSum {
			cell.colourSum[i] += h.Colour[i]
		}
		cell.colourHits++
	}
	g.live.Add(-1)
	g.distilled.Add(1)
}

// Evidence returns the occupancy evidence visible to one line of descent
func (g *MemoryGrid) Evidence(c Cell, ancestry *Ancestry, exclude uint32) Evidence {
	var ev Evidence
	if !g.dims.Contains(c) {
		return ev
	}
	s := g.shard(c)
	s.mu.RLock()
	defer s.mu.RUnlock()
	cell := s.cells[c]
	if cell == nil {
		return ev
	}

	colourSum := cell.colourSum
	colourHits := cell.colourHits
	if cell.distilledHits > 0 {
		ev.LogOdds = cell.distilledLogOdds
		ev.Hits = cell.distilledHits
	}
	for _, h := range cell.hypotheses {
		if h.PathID == exclude || !ancestry.Contains(h.PathID) {
			continue
		}
		ev.LogOdds += h.LogOdds
		ev.Hits++
		if h.HasColour {
			for i := range colourSum {
				colourSum[i] += h.Colour[i]
			}
			colourHits++
		}
	}
	if colourHits > 0 {
		ev.HasColour = true
		ev.ColourHits = colourHits
		for i := range colourSum {
			ev.Colour[i] = colourSum[i] / float64(colourHits)
		}
	}
	return ev
}

// Occupancy returns the committed log-odds of a cell
func (g *MemoryGrid) Occupancy(c Cell) (float64, bool) {
	s := g.shard(c)
	s.mu.RLock()
	defer s.mu.RUnlock()
	cell := s.cells[c]
	if cell == nil || cell.distilledHits == 0 {
		return 0, false
	}
	return cell.distilledLogOdds, true
}

// LiveHypotheses returns the number of uncommitted hypotheses
func (g *MemoryGrid) LiveHypotheses() int { return int(g.live.Load()) }

// DistilledHypotheses returns the number of committed hypotheses
func (g *MemoryGrid) DistilledHypotheses() int { return int(g.distilled.Load()) }

// OccupiedCell is a committed cell and its accumulated evidence
type OccupiedCell struct {
	Cell    Cell
	LogOdds float64
	Hits    int
}

// OccupiedCells lists committed cells whose log-odds exceed minLogOdds,
// ordered by X, then Y, then Z
func (g *MemoryGrid) OccupiedCells(minLogOdds float64) []OccupiedCell {
	var out []OccupiedCell
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.RLock()
		for c, cell := range s.cells {
			if cell.distilledHits > 0 && cell.distilledLogOdds > minLogOdds {
				out = append(out, OccupiedCell{Cell: c, LogOdds: cell.distilledLogOdds, Hits: cell.distilledHits})
			}
		}
		s.mu.RUnlock()
	}
	slices.SortFunc(out, func(a, b OccupiedCell) int {
		if d := cmp.Compare(a.Cell.X, b.Cell.X); d != 0 {
			return d
		}
		if d := cmp.Compare(a.Cell.Y, b.Cell.Y); d != 0 {
			return d
		}
		return cmp.Compare(a.Cell.Z, b.Cell.Z)
	})
	return out
}
