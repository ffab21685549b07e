package slam

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrajectoryFromPath(t *testing.T) {
	tree := NewTree(10)
	root := tree.NewRootPath(0, 0, math.Pi/2, 0)
	step(tree, root)
	child := tree.Branch(root)
	step(tree, child)
	step(tree, child)

	poses := TrajectoryFromPath(child, 0)
	require.Len(t, poses, 4, "lineage crosses the branch point into the parent")
	assert.Equal(t, uint32(0), poses[0].TimeStep)
	assert.Equal(t, uint32(3), poses[3].TimeStep)
	assert.InDelta(t, 90, poses[0].Heading, 1e-9)
	assert.Equal(t, 3.0, poses[3].Y)

	recent := TrajectoryFromPath(child, 2)
	require.Len(t, recent, 2)
	assert.Equal(t, uint32(2), recent[0].TimeStep)

	assert.Nil(t, TrajectoryFromPath(nil, 0))
}

func TestTrajectory_SaveLoad(t *testing.T) {
	traj := &Trajectory{
		RobotID:   "rover",
		SessionID: "abc",
		Poses: []TrajectoryPose{
			{X: 0, Y: 0, Heading: 0, TimeStep: 1},
			{X: 10, Y: 25, Heading: 12.5, TimeStep: 2},
		},
	}
	path := filepath.Join(t.TempDir(), "trajectory.yaml")
	require.NoError(t, SaveTrajectory(path, traj))

	loaded, err := LoadTrajectory(path)
	require.NoError(t, err)
	assert.Equal(t, traj, loaded)
	assert.Equal(t, []Point{{X: 0, Y: 0}, {X: 10, Y: 25}}, loaded.Points())
}

func TestLoadTrajectory_Missing(t *testing.T) {
	_, err := LoadTrajectory(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}
