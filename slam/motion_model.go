package slam

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// maxTimeStep is where the time step counter rolls over
const maxTimeStep = math.MaxUint32 - 10

// MotionModel maintains the particle population. Each sensor frame runs
// Predict then AddObservation; the next Predict prunes and resamples
// before sampling motion.
type MotionModel struct {
	// body velocities in mm/sec and radians/sec
	ForwardVelocity float64
	AngularVelocity float64

	// wheel angular velocities in radians/sec, used by InputWheelVelocity
	LeftWheelAngularVelocity  float64
	RightWheelAngularVelocity float64

	InputType InputType

	// PosesEvaluated is set by AddObservation and cleared by pruning
	PosesEvaluated bool

	cfg      MotionConfig
	robot    *Robot
	tree     *Tree
	observer *Observer
	rng      *rand.Rand

	timeStep    uint32
	initialised bool
	population  []*Path
	active      []*Path
	best        *Path

	bounds    orb.Bound
	hasBounds bool
}

// NewMotionModel creates an uninitialised filter. The population is
// created at the robot's pose on the first Predict.
func NewMotionModel(robot *Robot, grid Grid, sensor *SensorModel, cfg MotionConfig) *MotionModel {
	cfg = cfg.withDefaults()
	return &MotionModel{
		InputType: cfg.InputType,
		cfg:       cfg,
		robot:     robot,
		tree:      NewTree(cfg.MaxPathLength),
		observer: &Observer{
			Grid:                grid,
			Sensor:              sensor,
			OccupiedProbability: DefaultOccupiedProbability,
			CacheRadiusCells:    cfg.CacheRadiusCells,
		},
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// withDefaults fills zero or malformed fields from DefaultMotionConfig
func (c MotionConfig) withDefaults() MotionConfig {
	def := DefaultMotionConfig()
	if c.NoOfPoses < 1 {
		c.NoOfPoses = def.NoOfPoses
	}
	if c.CullThreshold < 1 || c.CullThreshold > 100 {
		c.CullThreshold = def.CullThreshold
	}
	if c.MaturationTimeSteps < 1 {
		c.MaturationTimeSteps = def.MaturationTimeSteps
	}
	if len(c.MotionNoise) != motionNoiseChannels {
		c.MotionNoise = def.MotionNoise
	}
	if c.MaxPathLength < 1 {
		c.MaxPathLength = def.MaxPathLength
	}
	if c.DistillEvery < 0 {
		c.DistillEvery = 0
	}
	if c.CacheRadiusCells < 1 {
		c.CacheRadiusCells = def.CacheRadiusCells
	}
	if c.Workers < 1 {
		c.Workers = def.Workers
	}
	if c.InputType == "" {
		c.InputType = def.InputType
	}
	return c
}

// SetOccupiedProbability sets the probability given to a ray's surface cell
func (m *MotionModel) SetOccupiedProbability(p float64) {
	m.observer.OccupiedProbability = p
}

// Config returns the effective parameters
func (m *MotionModel) Config() MotionConfig { return m.cfg }

// Tree returns the path tree
func (m *MotionModel) Tree() *Tree { return m.tree }

// Robot returns the robot whose pose the filter maintains
func (m *MotionModel) Robot() *Robot { return m.robot }

// TimeStep returns the index the next predicted poses will carry
func (m *MotionModel) TimeStep() uint32 { return m.timeStep }

// BestPath returns the highest ranked path of the last prune, or nil
func (m *MotionModel) BestPath() *Path { return m.best }

// Paths returns the current population
func (m *MotionModel) Paths() []*Path {
	return append([]*Path(nil), m.population...)
}

// ActivePaths returns every enabled path, including parents kept alive
// by their descendants
func (m *MotionModel) ActivePaths() []*Path {
	return append([]*Path(nil), m.active...)
}

// Reset discards the population and creates fresh root paths at the
// robot's pose
func (m *MotionModel) Reset() {
	m.dropPopulation()

	for len(m.population) < m.cfg.NoOfPoses {
		path := m.tree.NewRootPath(m.robot.X, m.robot.Y, m.robot.Pan, m.timeStep)
		m.addPath(path)
	}
	m.initialised = true
	m.PosesEvaluated = false
	m.updateGauges()
}

// dropPopulation removes every path of the population. Paths freed
// earlier by resampling go with their last descendant.
func (m *MotionModel) dropPopulation() {
	grid := m.observer.Grid
	for _, path := range m.population {
		path.live = false
	}
	for _, path := range m.population {
		if path.TotalChildren == 0 {
			path.Remove(grid)
		}
	}
	m.population = m.population[:0]
	m.best = nil
	m.sweepActive()
}

func (m *MotionModel) addPath(path *Path) {
	path.live = true
	m.population = append(m.population, path)
	m.active = append(m.active, path)
}

// Predict advances every path by dt seconds using noisy samples of the
// current velocities. A non-positive dt is ignored.
func (m *MotionModel) Predict(dt float64) {
	if dt <= 0 {
		return
	}
	if !m.initialised {
		m.Reset()
	}
	if m.PosesEvaluated {
		m.prune()
	}

	start := time.Now()
	if m.InputType == InputWheelVelocity {
		m.wheelVelocities()
	}
	for _, path := range m.population {
		m.sampleMotion(path, dt)
	}

	m.timeStep++
	if m.timeStep > maxTimeStep {
		m.timeStep = 0
	}
	frameDuration.WithLabelValues("predict").Observe(time.Since(start).Seconds())
	m.updateGauges()
}

// wheelVelocities derives body velocities from differential drive wheels
func (m *MotionModel) wheelVelocities() {
	radius := m.robot.WheelDiameterMM / 2
	m.ForwardVelocity = radius * (m.RightWheelAngularVelocity + m.LeftWheelAngularVelocity) / 2
	if m.robot.WheelBaseMM > 0 {
		m.AngularVelocity = radius * (m.RightWheelAngularVelocity - m.LeftWheelAngularVelocity) / m.robot.WheelBaseMM
	}
}

// sampleMotion appends one noisy constant-curvature step to the path
func (m *MotionModel) sampleMotion(path *Path, dt float64) {
	cur := path.CurrentPose()
	if cur == nil {
		return
	}
	noise := m.cfg.MotionNoise
	absFwd := math.Abs(m.ForwardVelocity)
	absAng := math.Abs(m.AngularVelocity)

	fwd := m.ForwardVelocity + sampleNormal(m.rng,
		noise[NoiseForwardFromForward]*absFwd+noise[NoiseForwardFromAngular]*absAng)
	ang := m.AngularVelocity + sampleNormal(m.rng,
		noise[NoiseAngularFromForward]*absFwd+noise[NoiseAngularFromAngular]*absAng)
	drift := sampleNormal(m.rng,
		noise[NoisePanFromForward]*absFwd+noise[NoisePanFromAngular]*absAng)

	pan := cur.Pan
	if m.robot.ScanMatchingPanAngleEstimate != NotMatched {
		pan = m.robot.ScanMatchingPanAngleEstimate
	}
	pan2 := pan + ang*dt

	var x, y float64
	if math.Abs(ang) > 1e-6 {
		r := fwd / ang
		x = cur.X + r*math.Cos(pan) - r*math.Cos(pan2)
		y = cur.Y - r*math.Sin(pan) + r*math.Sin(pan2)
	} else {
		x = cur.X + fwd*dt*math.Sin(pan)
		y = cur.Y + fwd*dt*math.Cos(pan)
	}

	path.Add(m.tree.NewPose(x, y, pan2+drift*dt, m.timeStep))
}

// AddObservation scores the current pose of every path against the
// rays and accumulates the result into the path scores. Paths are
// scored concurrently.
func (m *MotionModel) AddObservation(rays []Ray) {
	start := time.Now()
	scores := make([]float64, len(m.population))

	var g errgroup.Group
	g.SetLimit(m.cfg.Workers)
	for i, path := range m.population {
		g.Go(func() error {
			scores[i] = NoOccupancyEvidence
			pose := path.CurrentPose()
			if pose == nil || pose.path != path.ref {
				return nil
			}
			scores[i] = pose.AddObservation(rays, m.observer)
			return nil
		})
	}
	_ = g.Wait()

	for i, path := range m.population {
		if scores[i] != NoOccupancyEvidence {
			m.updatePoseScore(path, scores[i])
		}
	}

	// scoring the observation is what ranks the paths
	m.PosesEvaluated = true
	frameDuration.WithLabelValues("observe").Observe(time.Since(start).Seconds())
}

func (m *MotionModel) updatePoseScore(path *Path, score float64) {
	path.TotalScore += score
	path.LocalScore += score
}

// prune ranks the population, commits the best pose to the robot, culls
// mature low scorers and resamples from the survivors
func (m *MotionModel) prune() {
	start := time.Now()
	defer func() {
		m.PosesEvaluated = false
		frameDuration.WithLabelValues("prune").Observe(time.Since(start).Seconds())
	}()

	n := len(m.population)
	if n == 0 {
		return
	}
	for _, path := range m.population {
		m.extendBounds(path.CurrentPose())
	}

	sort.SliceStable(m.population, func(i, j int) bool {
		return m.population[i].TotalScore > m.population[j].TotalScore
	})
	m.best = m.population[0]

	best := m.best.CurrentPose()
	lastPan := m.robot.Pan
	m.robot.X = best.X
	m.robot.Y = best.Y
	m.robot.Pan = best.Pan

	m.cull(n)
	m.sweepActive()
	m.resample()

	maxChange := m.robot.ScanMatchingMaxPanAngleChange * math.Pi / 180
	if math.Abs(NormalizeAngle(best.Pan-lastPan)) > maxChange &&
		m.robot.ScanMatchingPanAngleEstimate != NotMatched {
		m.robot.ScanMatchingPanAngleEstimate = NotMatched
		scanMatchResets.Inc()
	}
}

// cull removes mature paths ranked below the cull index. Immature paths
// get another round to prove themselves.
func (m *MotionModel) cull(n int) {
	grid := m.observer.Grid
	cullIndex := (100 - m.cfg.CullThreshold) * n / 100
	if cullIndex > n-2 {
		cullIndex = n - 2
	}
	if cullIndex < 0 {
		cullIndex = 0
	}
	for i := n - 1; i > cullIndex; i-- {
		path := m.population[i]
		if path.Len() < m.cfg.MaturationTimeSteps {
			continue
		}
		path.live = false
		path.Remove(grid)
		m.population = append(m.population[:i], m.population[i+1:]...)
		pathEvents.WithLabelValues("culled").Inc()
	}
}

// resample branches children from random mature survivors until the
// population is back at its target size or the attempt budget is spent.
// Parents leave the population once they have spawned.
func (m *MotionModel) resample() {
	survivors := m.population
	quota := m.cfg.NoOfPoses
	if len(survivors) == 0 {
		return
	}

	parents := make(map[*Path]bool)
	var spawned []*Path
	size := len(survivors)
	for attempts := 0; size < quota && attempts < 4*quota; attempts++ {
		parent := survivors[m.rng.Intn(len(survivors))]
		if parent.Len() < m.cfg.MaturationTimeSteps {
			continue
		}
		child := m.tree.Branch(parent)
		child.live = true
		spawned = append(spawned, child)
		m.active = append(m.active, child)
		pathEvents.WithLabelValues("branched").Inc()

		if parents[parent] {
			size++
		} else {
			parents[parent] = true
		}
	}
	if len(spawned) == 0 {
		if size < quota {
			Logf("[FILTER] no mature parents among %d survivors, population stays at %d", len(survivors), size)
		}
		return
	}

	next := make([]*Path, 0, size)
	for _, path := range survivors {
		if parents[path] {
			path.live = false
			continue
		}
		next = append(next, path)
	}
	m.population = append(next, spawned...)
}

// sweepActive drops disabled paths from the active set
func (m *MotionModel) sweepActive() {
	kept := m.active[:0]
	for _, path := range m.active {
		if path.Enabled {
			kept = append(kept, path)
		}
	}
	for i := len(kept); i < len(m.active); i++ {
		m.active[i] = nil
	}
	m.active = kept
}

func (m *MotionModel) extendBounds(pose *Pose) {
	if pose == nil {
		return
	}
	pt := orb.Point{pose.X, pose.Y}
	if !m.hasBounds {
		m.bounds = pt.Bound()
		m.hasBounds = true
		return
	}
	m.bounds = m.bounds.Extend(pt)
}

// TreeBounds returns the box the path tree has covered
func (m *MotionModel) TreeBounds() Bounds {
	if !m.hasBounds {
		return Bounds{}
	}
	return Bounds{
		Min: Point{X: m.bounds.Min.X(), Y: m.bounds.Min.Y()},
		Max: Point{X: m.bounds.Max.X(), Y: m.bounds.Max.Y()},
	}
}

// DistillBestPath commits the best trajectory to the grid, discards the
// rest of the population and restarts the filter at the robot's pose
func (m *MotionModel) DistillBestPath() bool {
	if m.best == nil {
		return false
	}
	leaf := m.best.currentPose
	m.best.Distill(m.observer.Grid)
	pathEvents.WithLabelValues("distilled").Inc()
	m.dropPopulation()
	m.releaseDistilled(leaf)
	m.Reset()
	return true
}

// releaseDistilled returns the slots of a committed trajectory to the
// tree. Collapse never frees distilled poses, so once the paths that
// owned them are gone nothing else would.
func (m *MotionModel) releaseDistilled(leaf PoseRef) {
	for ref := leaf; ref != NoPose; {
		pose := m.tree.Pose(ref)
		if pose == nil || !pose.distilled || pose.children > 0 || m.tree.Path(pose.path) != nil {
			return
		}
		ref = pose.parent
		m.tree.releasePose(pose)
	}
}

// BestEstimate returns the pose of the best path, or the robot pose
// before the first prune
func (m *MotionModel) BestEstimate() PoseEstimate {
	est := PoseEstimate{
		RobotID:   m.robot.ID,
		X:         m.robot.X,
		Y:         m.robot.Y,
		Pan:       m.robot.Pan,
		TimeStep:  m.timeStep,
		Timestamp: time.Now().Unix(),
	}
	if m.best != nil && m.best.Enabled {
		if pose := m.best.CurrentPose(); pose != nil {
			est.X, est.Y, est.Pan = pose.X, pose.Y, pose.Pan
			est.TimeStep = pose.TimeStep
			est.Score = m.best.TotalScore
		}
	}
	return est
}

// Spread summarises the current poses of the population
func (m *MotionModel) Spread() ParticleSpread {
	n := len(m.population)
	if n == 0 {
		return ParticleSpread{}
	}
	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	pans := make([]float64, 0, n)
	for _, path := range m.population {
		if pose := path.CurrentPose(); pose != nil {
			xs = append(xs, pose.X)
			ys = append(ys, pose.Y)
			pans = append(pans, pose.Pan)
		}
	}
	spread := ParticleSpread{Count: len(xs)}
	if len(xs) == 0 {
		return spread
	}
	var varX, varY, varPan float64
	spread.MeanX, varX = stat.MeanVariance(xs, nil)
	spread.MeanY, varY = stat.MeanVariance(ys, nil)
	_, varPan = stat.MeanVariance(pans, nil)
	if len(xs) > 1 {
		spread.StdX = math.Sqrt(varX)
		spread.StdY = math.Sqrt(varY)
		spread.StdPan = math.Sqrt(varPan)
	}
	return spread
}

// Snapshot copies the filter state for publishing and rendering
func (m *MotionModel) Snapshot(frame int, sessionID string) Snapshot {
	snap := Snapshot{
		SessionID:  sessionID,
		Frame:      frame,
		Best:       m.BestEstimate(),
		TreeBounds: m.TreeBounds(),
		Spread:     m.Spread(),
		LivePaths:  m.tree.LivePaths(),
		LivePoses:  m.tree.LivePoses(),
		Timestamp:  time.Now().Unix(),
	}
	snap.Best.SessionID = sessionID

	for _, path := range m.population {
		if pose := path.CurrentPose(); pose != nil {
			snap.Particles = append(snap.Particles, pose.Point())
		}
	}
	if m.best != nil && m.best.Enabled {
		snap.Trajectory = m.best.Trajectory(0)
	}
	for _, path := range m.active {
		var line []Point
		if bp := m.tree.Pose(path.branchPose); bp != nil {
			line = append(line, bp.Point())
		}
		for _, pose := range path.Poses() {
			line = append(line, pose.Point())
		}
		if len(line) > 1 {
			snap.Tree = append(snap.Tree, line)
		}
	}
	return snap
}

func (m *MotionModel) updateGauges() {
	populationSize.Set(float64(len(m.population)))
	treeSlots.WithLabelValues("path").Set(float64(m.tree.LivePaths()))
	treeSlots.WithLabelValues("pose").Set(float64(m.tree.LivePoses()))
}
