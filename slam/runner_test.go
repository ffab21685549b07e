package slam

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runnerConfig() *Config {
	cfg := DefaultConfig()
	cfg.Robot.ID = "rover"
	cfg.Grid.GridDimensions = GridDimensions{DimensionCells: 100, DimensionCellsVertical: 4, CellSizeMM: 10}
	cfg.MotionModel.NoOfPoses = 40
	return cfg
}

func runnerFrames(n int) []Frame {
	frames := make([]Frame, n)
	for i := range frames {
		frames[i] = Frame{
			Odometry: Odometry{DT: 0.5, ForwardVelocity: 40, AngularVelocity: 0.05},
			Rays:     fanRays(),
		}
	}
	return frames
}

func TestFrameRunner_Apply(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	state := NewStateTracker(10)
	mc := NewMockClient()
	mc.SetConnected(true)
	runner := NewFrameRunner(runnerConfig(), state, NewPublisher(mc, "slam"))

	require.NoError(t, runner.Run(context.Background(), runnerFrames(3)))
	assert.Equal(t, 3, runner.Frames())
	assert.NotEmpty(t, runner.SessionID())

	snap := state.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, 3, snap.Frame)
	assert.Equal(t, runner.SessionID(), snap.SessionID)
	assert.Len(t, snap.Particles, 40)
	assert.Len(t, state.History(), 3)

	// pose and particles per frame
	msgs := mc.Published()
	require.Len(t, msgs, 6)
	assert.Equal(t, "slam/rover/pose", msgs[4].Topic)
	assert.Equal(t, "slam/rover/particles", msgs[5].Topic)
}

func TestFrameRunner_ObservationNeedsOdometry(t *testing.T) {
	state := NewStateTracker(10)
	runner := NewFrameRunner(runnerConfig(), state, nil)

	runner.HandleObservation(Observation{Rays: fanRays()})
	assert.Equal(t, 0, runner.Frames())
	assert.Nil(t, state.Snapshot())

	runner.HandleOdometry(Odometry{DT: 0.5, ForwardVelocity: 40})
	runner.HandleObservation(Observation{Rays: fanRays()})
	assert.Equal(t, 1, runner.Frames())

	// a second observation for the same odometry is dropped
	runner.HandleObservation(Observation{Rays: fanRays()})
	assert.Equal(t, 1, runner.Frames())

	// zero dt does not count as a prediction
	runner.HandleOdometry(Odometry{DT: 0})
	runner.HandleObservation(Observation{})
	assert.Equal(t, 1, runner.Frames())
}

func TestFrameRunner_ScanMatch(t *testing.T) {
	runner := NewFrameRunner(runnerConfig(), nil, nil)
	runner.HandleScanMatch(ScanMatch{Pan: 0.4})
	assert.Equal(t, 0.4, runner.Model().Robot().ScanMatchingPanAngleEstimate)

	pan := 0.2
	runner.Apply(Frame{Odometry: Odometry{DT: 1}, ScanMatchPan: &pan})
	for _, path := range runner.Model().Paths() {
		assert.InDelta(t, 0.2, path.CurrentPose().Pan, 1e-9)
	}
}

func TestFrameRunner_RunCancelled(t *testing.T) {
	runner := NewFrameRunner(runnerConfig(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runner.Run(ctx, runnerFrames(2))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, runner.Frames())
}

func TestFrameRunner_DistillAndTrajectory(t *testing.T) {
	runner := NewFrameRunner(runnerConfig(), nil, nil)
	assert.False(t, runner.Distill(), "nothing to distill before the first prune")
	assert.Nil(t, runner.Trajectory())

	require.NoError(t, runner.Run(context.Background(), runnerFrames(4)))

	traj := runner.Trajectory()
	require.NotNil(t, traj)
	assert.Equal(t, "rover", traj.RobotID)
	assert.GreaterOrEqual(t, len(traj.Poses), 2)

	require.True(t, runner.Distill())
	assert.Positive(t, runner.Grid().DistilledHypotheses())
	assert.Nil(t, runner.Trajectory(), "distilling restarts the population")
	assert.NotEmpty(t, runner.Grid().OccupiedCells(0))
}

func TestFrameRunner_DistillEvery(t *testing.T) {
	cfg := runnerConfig()
	cfg.MotionModel.DistillEvery = 3
	state := NewStateTracker(10)
	runner := NewFrameRunner(cfg, state, nil)

	require.NoError(t, runner.Run(context.Background(), runnerFrames(6)))

	assert.Equal(t, 6, runner.Frames())
	assert.Positive(t, runner.Grid().DistilledHypotheses())
	assert.NotEmpty(t, runner.Grid().OccupiedCells(0))
	assert.Nil(t, runner.Trajectory(), "the sixth frame distilled and restarted the population")
	assert.Equal(t, 40, runner.Model().Tree().LivePoses())

	// the published snapshot is taken before the restart
	snap := state.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, 6, snap.Frame)
	assert.NotEmpty(t, snap.Trajectory)
}
