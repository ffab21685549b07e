package slam

// Point represents a 2D coordinate in millimetres
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Point3 represents a 3D coordinate in millimetres
type Point3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Colour is an observed RGB value
type Colour [3]uint8

// Cell addresses one voxel of the occupancy grid
type Cell struct {
	X, Y, Z int
}

// GridDimensions is the read-only grid metadata the filter needs
type GridDimensions struct {
	DimensionCells         int     `yaml:"dimensionCells" json:"dimensionCells"`
	DimensionCellsVertical int     `yaml:"dimensionCellsVertical" json:"dimensionCellsVertical"`
	CellSizeMM             float64 `yaml:"cellSizeMM" json:"cellSizeMM"`
}

// Contains reports whether the cell lies inside the grid
func (d GridDimensions) Contains(c Cell) bool {
	return c.X >= 0 && c.X < d.DimensionCells &&
		c.Y >= 0 && c.Y < d.DimensionCells &&
		c.Z >= 0 && c.Z < d.DimensionCellsVertical
}

// NotMatched marks the scan matching pan estimate as unavailable
const NotMatched = 9999.0

// Robot is the vehicle state shared with the motion model.
// X, Y and Pan are overwritten with the best pose after every prune.
type Robot struct {
	ID  string
	X   float64
	Y   float64
	Pan float64 // radians

	BodyWidthMM     float64
	BodyLengthMM    float64
	BodyHeightMM    float64
	WheelDiameterMM float64
	WheelBaseMM     float64

	// LocalGridDimension is the width of the local grid in cells
	LocalGridDimension int

	// ScanMatchingPanAngleEstimate overrides the pose heading during
	// prediction unless it equals NotMatched
	ScanMatchingPanAngleEstimate float64
	// ScanMatchingMaxPanAngleChange is in degrees
	ScanMatchingMaxPanAngleChange float64
}

// NewRobot returns a robot at the origin with no scan matching estimate
func NewRobot(cfg RobotConfig) *Robot {
	return &Robot{
		ID:                            cfg.ID,
		X:                             cfg.StartX,
		Y:                             cfg.StartY,
		Pan:                           cfg.StartPan,
		BodyWidthMM:                   cfg.BodyWidthMM,
		BodyLengthMM:                  cfg.BodyLengthMM,
		BodyHeightMM:                  cfg.BodyHeightMM,
		WheelDiameterMM:               cfg.WheelDiameterMM,
		WheelBaseMM:                   cfg.WheelBaseMM,
		LocalGridDimension:            cfg.LocalGridDimension,
		ScanMatchingPanAngleEstimate:  NotMatched,
		ScanMatchingMaxPanAngleChange: cfg.ScanMatchingMaxPanAngleChange,
	}
}

// PoseEstimate is a published robot pose
type PoseEstimate struct {
	RobotID   string  `json:"robotId"`
	SessionID string  `json:"sessionId,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Pan       float64 `json:"pan"`
	TimeStep  uint32  `json:"timeStep"`
	Score     float64 `json:"score"`
	Timestamp int64   `json:"timestamp"`
}

// ParticleSpread summarises the particle cloud
type ParticleSpread struct {
	Count  int     `json:"count"`
	MeanX  float64 `json:"meanX"`
	MeanY  float64 `json:"meanY"`
	StdX   float64 `json:"stdX"`
	StdY   float64 `json:"stdY"`
	StdPan float64 `json:"stdPan"`
}

// Bounds is an axis aligned box in millimetres
type Bounds struct {
	Min Point `json:"min"`
	Max Point `json:"max"`
}

// Snapshot is a copy of the filter state taken between frames
type Snapshot struct {
	SessionID  string         `json:"sessionId"`
	Frame      int            `json:"frame"`
	Best       PoseEstimate   `json:"best"`
	Particles  []Point        `json:"particles"`
	Trajectory []Point        `json:"trajectory"`
	Tree       [][]Point      `json:"tree,omitempty"`
	TreeBounds Bounds         `json:"treeBounds"`
	Spread     ParticleSpread `json:"spread"`
	LivePaths  int            `json:"livePaths"`
	LivePoses  int            `json:"livePoses"`
	Timestamp  int64          `json:"timestamp"`
}

// Config represents the full configuration file
type Config struct {
	MQTT        MQTTConfig   `yaml:"mqtt" json:"mqtt"`
	Robot       RobotConfig  `yaml:"robot" json:"robot"`
	Grid        GridConfig   `yaml:"grid" json:"grid"`
	SensorModel SensorConfig `yaml:"sensorModel" json:"sensorModel"`
	MotionModel MotionConfig `yaml:"motionModel" json:"motionModel"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// RobotConfig describes the vehicle and the topic its frames arrive on
type RobotConfig struct {
	ID    string `yaml:"id" json:"id"`
	Topic string `yaml:"topic" json:"topic"`

	StartX   float64 `yaml:"startX,omitempty" json:"startX,omitempty"`
	StartY   float64 `yaml:"startY,omitempty" json:"startY,omitempty"`
	StartPan float64 `yaml:"startPan,omitempty" json:"startPan,omitempty"`

	BodyWidthMM     float64 `yaml:"bodyWidthMM" json:"bodyWidthMM"`
	BodyLengthMM    float64 `yaml:"bodyLengthMM" json:"bodyLengthMM"`
	BodyHeightMM    float64 `yaml:"bodyHeightMM" json:"bodyHeightMM"`
	WheelDiameterMM float64 `yaml:"wheelDiameterMM" json:"wheelDiameterMM"`
	WheelBaseMM     float64 `yaml:"wheelBaseMM" json:"wheelBaseMM"`

	LocalGridDimension            int     `yaml:"localGridDimension" json:"localGridDimension"`
	ScanMatchingMaxPanAngleChange float64 `yaml:"scanMatchingMaxPanAngleChange" json:"scanMatchingMaxPanAngleChange"`
}

// GridConfig places the reference occupancy grid in the world
type GridConfig struct {
	GridDimensions `yaml:",inline"`
	CentreX        float64 `yaml:"centreX,omitempty" json:"centreX,omitempty"`
	CentreY        float64 `yaml:"centreY,omitempty" json:"centreY,omitempty"`
	// OccupiedProbability is the probability given to a ray's terminal cell
	OccupiedProbability float64 `yaml:"occupiedProbability,omitempty" json:"occupiedProbability,omitempty"`
}

// SensorConfig holds the vacancy model parameters
type SensorConfig struct {
	VacancyWeighting float64 `yaml:"vacancyWeighting" json:"vacancyWeighting"`
	VacancyLevels    int     `yaml:"vacancyLevels" json:"vacancyLevels"`
}
