package slam

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// FrameRunner feeds robot frames into a motion model and publishes the
// result after every observation. It serialises the MQTT callbacks, so
// one runner serves one robot.
type FrameRunner struct {
	mu        sync.Mutex
	model     *MotionModel
	grid      *MemoryGrid
	state     *StateTracker
	publisher *Publisher
	sessionID string
	frames    int
	predicted bool
}

// NewFrameRunner builds the grid, sensor model and motion model from the
// configuration. state and pub may be nil.
func NewFrameRunner(cfg *Config, state *StateTracker, pub *Publisher) *FrameRunner {
	grid := NewMemoryGridFromConfig(cfg.Grid)
	sensor := NewSensorModel(cfg.SensorModel)
	model := NewMotionModel(NewRobot(cfg.Robot), grid, sensor, cfg.MotionModel)
	if cfg.Grid.OccupiedProbability > 0 {
		model.SetOccupiedProbability(cfg.Grid.OccupiedProbability)
	}
	return &FrameRunner{
		model:     model,
		grid:      grid,
		state:     state,
		publisher: pub,
		sessionID: uuid.NewString(),
	}
}

// HandleOdometry sets the velocities and advances the population
func (r *FrameRunner) HandleOdometry(o Odometry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predict(o)
}

// HandleObservation scores the population. An observation that does not
// follow an odometry message is dropped.
func (r *FrameRunner) HandleObservation(o Observation) {
	r.mu.Lock()
	snap, ok := r.observe(o.Rays)
	pub := r.publisher
	r.mu.Unlock()
	if ok {
		r.publish(snap, pub)
	}
}

// HandleScanMatch sets the heading estimate used by the next prediction
func (r *FrameRunner) HandleScanMatch(s ScanMatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.model.Robot().ScanMatchingPanAngleEstimate = s.Pan
}

// Apply runs one complete frame
func (r *FrameRunner) Apply(f Frame) {
	r.mu.Lock()
	if f.ScanMatchPan != nil {
		r.model.Robot().ScanMatchingPanAngleEstimate = *f.ScanMatchPan
	}
	r.predict(f.Odometry)
	snap, ok := r.observe(f.Rays)
	pub := r.publisher
	r.mu.Unlock()
	if ok {
		r.publish(snap, pub)
	}
}

// Run applies frames in order until they are exhausted or ctx is done
func (r *FrameRunner) Run(ctx context.Context, frames []Frame) error {
	for i, f := range frames {
		if err := ctx.Err(); err != nil {
			Logf("[FILTER] replay stopped after %d of %d frames", i, len(frames))
			return err
		}
		r.Apply(f)
	}
	return nil
}

func (r *FrameRunner) predict(o Odometry) {
	m := r.model
	m.ForwardVelocity = o.ForwardVelocity
	m.AngularVelocity = o.AngularVelocity
	m.LeftWheelAngularVelocity = o.LeftWheel
	m.RightWheelAngularVelocity = o.RightWheel
	if o.DT <= 0 {
		Logf("[FILTER] ignoring odometry with dt=%.3f", o.DT)
		return
	}
	m.Predict(o.DT)
	r.predicted = true
}

func (r *FrameRunner) observe(rays []Ray) (Snapshot, bool) {
	if !r.predicted {
		Logf("[FILTER] observation before odometry, dropped")
		return Snapshot{}, false
	}
	r.predicted = false
	r.model.AddObservation(rays)
	r.frames++
	snap := r.model.Snapshot(r.frames, r.sessionID)
	if every := r.model.Config().DistillEvery; every > 0 && r.frames%every == 0 {
		r.distill()
	}
	return snap, true
}

func (r *FrameRunner) publish(snap Snapshot, pub *Publisher) {
	if r.state != nil {
		r.state.Update(snap)
	}
	if pub != nil {
		if err := pub.PublishSnapshot(snap); err != nil {
			Logf("[MQTT] publish failed: %v", err)
		}
	}
}

// SetPublisher attaches a publisher after construction
func (r *FrameRunner) SetPublisher(pub *Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publisher = pub
}

// Distill commits the best trajectory to the grid and restarts the
// population at the robot pose
func (r *FrameRunner) Distill() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.distill()
}

func (r *FrameRunner) distill() bool {
	if !r.model.DistillBestPath() {
		return false
	}
	// the restarted population needs a fresh prediction before it is observed
	r.predicted = false
	Logf("[FILTER] distilled best path: %d committed hypotheses", r.grid.DistilledHypotheses())
	return true
}

// Trajectory returns the best path so far, or nil before the first prune
func (r *FrameRunner) Trajectory() *Trajectory {
	r.mu.Lock()
	defer r.mu.Unlock()
	best := r.model.BestPath()
	if best == nil {
		return nil
	}
	return &Trajectory{
		RobotID:   r.model.Robot().ID,
		SessionID: r.sessionID,
		Poses:     TrajectoryFromPath(best, 0),
	}
}

// Snapshot copies the current filter state
func (r *FrameRunner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.model.Snapshot(r.frames, r.sessionID)
}

// Model returns the motion model. Callers must not use it concurrently
// with the runner.
func (r *FrameRunner) Model() *MotionModel { return r.model }

// Grid returns the occupancy grid
func (r *FrameRunner) Grid() *MemoryGrid { return r.grid }

// SessionID identifies this run in published messages
func (r *FrameRunner) SessionID() string { return r.sessionID }

// Frames returns the number of observations applied
func (r *FrameRunner) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}
