package slam

// Pose is one timestamped position hypothesis in the path tree
type Pose struct {
	X        float64
	Y        float64
	Pan      float64 // radians, clockwise from +y
	TimeStep uint32
	Score    float64 // log-odds score of the last observation

	tree       *Tree
	ref        PoseRef
	parent     PoseRef
	children   int
	path       PathRef
	ancestry   *Ancestry
	hypotheses []*Hypothesis
	distilled  bool
}

// Ref returns the pose's slot reference
func (p *Pose) Ref() PoseRef { return p.ref }

// Parent returns the previous pose, or NoPose for a root
func (p *Pose) Parent() PoseRef { return p.parent }

// Children returns the number of paths branched from this pose
func (p *Pose) Children() int { return p.children }

// Path returns the path that created the pose
func (p *Pose) Path() PathRef { return p.path }

// Ancestry returns the path IDs whose hypotheses this pose can see
func (p *Pose) Ancestry() *Ancestry { return p.ancestry }

// Hypotheses returns the grid hypotheses the pose contributed
func (p *Pose) Hypotheses() []*Hypothesis { return p.hypotheses }

// Distilled reports whether the pose was committed to the grid
func (p *Pose) Distilled() bool { return p.distilled }

// Point returns the pose position
func (p *Pose) Point() Point { return Point{X: p.X, Y: p.Y} }

// Distill commits the pose's hypotheses to the grid. Repeat calls do nothing.
func (p *Pose) Distill(grid Grid) {
	if p.distilled {
		return
	}
	for _, h := range p.hypotheses {
		grid.DistillHypothesis(h)
	}
	p.hypotheses = nil
	p.distilled = true
}

// Remove discards the pose's hypotheses. Distilled poses are left alone.
func (p *Pose) Remove(grid Grid) {
	if p.distilled {
		return
	}
	for _, h := range p.hypotheses {
		grid.RemoveHypothesis(h)
	}
	p.hypotheses = nil
}

// Observer scores poses against a grid and records their hypotheses
type Observer struct {
	Grid                Grid
	Sensor              *SensorModel
	OccupiedProbability float64
	CacheRadiusCells    int
}

// evidence looks a cell up through the owning path's cache when the cell
// is inside the cache window, otherwise through the grid alone
func (o *Observer) evidence(pose *Pose, path *Path, c Cell) Evidence {
	if path == nil {
		return o.Grid.Evidence(c, pose.ancestry, NoPathID)
	}
	cached, inWindow := path.GetHypotheses(c.X, c.Y, c.Z)
	if !inWindow {
		return o.Grid.Evidence(c, pose.ancestry, NoPathID)
	}
	ev := o.Grid.Evidence(c, pose.ancestry, path.ID)
	for _, h := range cached {
		if !h.live() {
			continue
		}
		ev.LogOdds += h.LogOdds
		ev.Hits++
		if h.HasColour {
			n := float64(ev.ColourHits)
			for i := range ev.Colour {
				ev.Colour[i] = (ev.Colour[i]*n + h.Colour[i]) / (n + 1)
			}
			ev.ColourHits++
			ev.HasColour = true
		}
	}
	return ev
}

// AddObservation projects the rays from this pose, scores them against
// the evidence visible to the pose's line of descent and then inserts the
// pose's own free and occupied hypotheses. It returns NoOccupancyEvidence
// when no ray reached a cell inside the grid.
func (p *Pose) AddObservation(rays []Ray, obs *Observer) float64 {
	path := p.tree.Path(p.path)
	pathID := uint32(NoPathID)
	if path != nil {
		pathID = path.ID
	}
	dims := obs.Grid.Dimensions()
	centre := obs.Grid.Centre()
	xf := PoseTransform(p.X, p.Y, p.Pan)
	occupied := LogOdds(obs.OccupiedProbability)

	score := 0.0
	touched := false
	var pending []*Hypothesis

	for _, ray := range rays {
		visited := traceRay(ray, xf, dims, centre, func(c Cell, fraction float64, steps int, terminal bool) {
			ev := obs.evidence(p, path, c)
			if terminal {
				if ev.Hits > 0 {
					match := 1.0
					if ray.HasColour && ev.HasColour {
						match = 1 - ColourDifference(ray.Colour, ev.Colour)
					}
					score += ev.LogOdds * match
				}
				h := &Hypothesis{Cell: c, PathID: pathID, Pose: p.ref, LogOdds: occupied}
				if ray.HasColour {
					h.HasColour = true
					h.Colour = [3]float64{float64(ray.Colour[0]), float64(ray.Colour[1]), float64(ray.Colour[2])}
				}
				pending = append(pending, h)
				return
			}

			vacancy := obs.Sensor.VacancyWeight(fraction, steps)
			if ev.Hits > 0 && ev.LogOdds > 0 {
				score -= ev.LogOdds * (0.5 - vacancy)
			}
			pending = append(pending, &Hypothesis{Cell: c, PathID: pathID, Pose: p.ref, LogOdds: LogOdds(vacancy)})
		})
		if visited > 0 {
			touched = true
		}
	}

	for _, h := range pending {
		obs.Grid.InsertHypothesis(h)
		if path != nil {
			path.AddHypothesis(h, obs.CacheRadiusCells, dims.DimensionCells, dims.DimensionCellsVertical)
		}
	}
	p.hypotheses = append(p.hypotheses, pending...)

	if !touched {
		return NoOccupancyEvidence
	}
	p.Score = score
	return score
}
