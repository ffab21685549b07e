package slam

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellAt_RoundTrip(t *testing.T) {
	dims := GridDimensions{DimensionCells: 100, DimensionCellsVertical: 4, CellSizeMM: 10}
	centre := Point{X: 1000, Y: -500}

	c := CellAt(dims, centre, 1000, -500, 15)
	assert.Equal(t, Cell{X: 50, Y: 50, Z: 1}, c)

	c = CellAt(dims, centre, 995, -501, 0)
	assert.Equal(t, Cell{X: 49, Y: 49, Z: 0}, c)

	p := CellCentre(dims, centre, Cell{X: 50, Y: 50})
	assert.Equal(t, Point{X: 1005, Y: -495}, p)
	assert.Equal(t, Cell{X: 50, Y: 50}, CellAt(dims, centre, p.X, p.Y, 0))
}

func TestMemoryGrid_EvidenceFiltersByAncestry(t *testing.T) {
	g := testGrid()
	cell := Cell{X: 20, Y: 30, Z: 1}
	g.InsertHypothesis(&Hypothesis{Cell: cell, PathID: 1, LogOdds: 0.5})
	g.InsertHypothesis(&Hypothesis{Cell: cell, PathID: 2, LogOdds: 0.25})
	g.InsertHypothesis(&Hypothesis{Cell: cell, PathID: 3, LogOdds: 2})

	ev := g.Evidence(cell, newAncestry([]uint32{1, 2}), NoPathID)
	assert.Equal(t, 2, ev.Hits)
	assert.InDelta(t, 0.75, ev.LogOdds, 1e-12)

	ev = g.Evidence(cell, newAncestry([]uint32{1, 2}), 2)
	assert.Equal(t, 1, ev.Hits)
	assert.InDelta(t, 0.5, ev.LogOdds, 1e-12)

	ev = g.Evidence(cell, nil, NoPathID)
	assert.Zero(t, ev.Hits, "nil ancestry sees no live evidence")

	assert.Equal(t, 3, g.LiveHypotheses())
}

func TestMemoryGrid_OutsideCellsIgnored(t *testing.T) {
	g := testGrid()
	outside := Cell{X: -1, Y: 0, Z: 0}
	h := &Hypothesis{Cell: outside, PathID: 1, LogOdds: 1}
	g.InsertHypothesis(h)

	assert.Equal(t, 0, g.LiveHypotheses())
	assert.Zero(t, g.Evidence(outside, newAncestry([]uint32{1}), NoPathID).Hits)
}

func TestMemoryGrid_RemoveHypothesis(t *testing.T) {
	g := testGrid()
	cell := Cell{X: 1, Y: 2, Z: 3}
	h := &Hypothesis{Cell: cell, PathID: 7, LogOdds: 1}
	g.InsertHypothesis(h)

	g.RemoveHypothesis(h)
	assert.True(t, h.Removed())
	assert.Equal(t, 0, g.LiveHypotheses())
	assert.Zero(t, g.Evidence(cell, newAncestry([]uint32{7}), NoPathID).Hits)

	// a removed hypothesis cannot be distilled
	g.DistillHypothesis(h)
	_, ok := g.Occupancy(cell)
	assert.False(t, ok)
	assert.Equal(t, 0, g.DistilledHypotheses())
}

func TestMemoryGrid_DistilledVisibleToAll(t *testing.T) {
	g := testGrid()
	cell := Cell{X: 5, Y: 5, Z: 0}
	red := &Hypothesis{Cell: cell, PathID: 4, LogOdds: 1, HasColour: true, Colour: [3]float64{200, 0, 0}}
	blue := &Hypothesis{Cell: cell, PathID: 4, LogOdds: 1, HasColour: true, Colour: [3]float64{0, 0, 100}}
	g.InsertHypothesis(red)
	g.InsertHypothesis(blue)
	g.DistillHypothesis(red)
	g.DistillHypothesis(blue)
	g.DistillHypothesis(blue)

	assert.True(t, red.Distilled())
	assert.Equal(t, 2, g.DistilledHypotheses())

	ev := g.Evidence(cell, newAncestry([]uint32{99}), NoPathID)
	assert.Equal(t, 2, ev.Hits)
	assert.InDelta(t, 2, ev.LogOdds, 1e-12)
	require.True(t, ev.HasColour)
	assert.Equal(t, 2, ev.ColourHits)
	assert.Equal(t, [3]float64{100, 0, 50}, ev.Colour)

	// live evidence adds to committed evidence
	g.InsertHypothesis(&Hypothesis{Cell: cell, PathID: 99, LogOdds: -0.5})
	ev = g.Evidence(cell, newAncestry([]uint32{99}), NoPathID)
	assert.Equal(t, 3, ev.Hits)
	assert.InDelta(t, 1.5, ev.LogOdds, 1e-12)
}

func TestMemoryGrid_ConcurrentInsertAndRemove(t *testing.T) {
	g := testGrid()
	cell := Cell{X: 50, Y: 50, Z: 2}

	const workers = 8
	const perWorker = 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id uint32) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				h := &Hypothesis{Cell: cell, PathID: id, LogOdds: 1}
				g.InsertHypothesis(h)
				if i%2 == 0 {
					g.RemoveHypothesis(h)
				}
				_ = g.Evidence(cell, newAncestry([]uint32{id}), NoPathID)
			}
		}(uint32(w))
	}
	wg.Wait()

	assert.Equal(t, workers*perWorker/2, g.LiveHypotheses())
	ids := make([]uint32, workers)
	for i := range ids {
		ids[i] = uint32(i)
	}
	ev := g.Evidence(cell, newAncestry(ids), NoPathID)
	assert.Equal(t, workers*perWorker/2, ev.Hits)
}
