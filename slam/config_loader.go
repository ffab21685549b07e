package slam

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// InputType selects how Predict derives the body velocities
type InputType string

const (
	// InputBodyVelocity uses the forward and angular velocity directly
	InputBodyVelocity InputType = "body"
	// InputWheelVelocity derives them from the wheel angular velocities
	InputWheelVelocity InputType = "wheel"
)

// Motion noise channels, each a coefficient applied to |forward| or |angular|
const (
	NoiseForwardFromForward = iota
	NoiseForwardFromAngular
	NoiseAngularFromForward
	NoiseAngularFromAngular
	NoisePanFromForward
	NoisePanFromAngular
	motionNoiseChannels
)

// MotionConfig is the persisted motion model document
type MotionConfig struct {
	NoOfPoses           int       `yaml:"noOfPoses" json:"noOfPoses"`
	CullThreshold       int       `yaml:"cullThreshold" json:"cullThreshold"`
	MaturationTimeSteps int       `yaml:"maturationTimeSteps" json:"maturationTimeSteps"`
	MotionNoise         []float64 `yaml:"motionNoise,flow" json:"motionNoise"`
	MaxPathLength       int       `yaml:"maxPathLength" json:"maxPathLength"`
	CacheRadiusCells    int       `yaml:"cacheRadiusCells" json:"cacheRadiusCells"`
	Workers             int       `yaml:"workers" json:"workers"`
	Seed                int64     `yaml:"seed" json:"seed"`
	InputType           InputType `yaml:"inputType" json:"inputType"`
	// DistillEvery commits the best path every n observations; 0 never does
	DistillEvery int `yaml:"distillEvery,omitempty" json:"distillEvery,omitempty"`
}

// DefaultMotionConfig returns the stock filter parameters
func DefaultMotionConfig() MotionConfig {
	return MotionConfig{
		NoOfPoses:           200,
		CullThreshold:       75,
		MaturationTimeSteps: 2,
		MotionNoise:         []float64{0.08, 0.08, 0.00025, 0.00025, 0.00005, 0.00005},
		MaxPathLength:       500,
		CacheRadiusCells:    64,
		Workers:             4,
		Seed:                100,
		InputType:           InputBodyVelocity,
	}
}

// DefaultSensorConfig returns the stock vacancy model
func DefaultSensorConfig() SensorConfig {
	return SensorConfig{
		VacancyWeighting: DefaultVacancyWeighting,
		VacancyLevels:    DefaultVacancyLevels,
	}
}

// DefaultGridConfig returns a 12.8m square grid of 50mm cells
func DefaultGridConfig() GridConfig {
	return GridConfig{
		GridDimensions: GridDimensions{
			DimensionCells:         256,
			DimensionCellsVertical: 16,
			CellSizeMM:             50,
		},
		OccupiedProbability: DefaultOccupiedProbability,
	}
}

// DefaultConfig returns a configuration usable without a file
func DefaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			PublishPrefix: "tudoslam",
			ClientID:      "tudoslam",
		},
		Robot: RobotConfig{
			ID:                            "robot",
			BodyWidthMM:                   350,
			BodyLengthMM:                  350,
			BodyHeightMM:                  100,
			WheelDiameterMM:               70,
			WheelBaseMM:                   235,
			LocalGridDimension:            128,
			ScanMatchingMaxPanAngleChange: 20,
		},
		Grid:        DefaultGridConfig(),
		SensorModel: DefaultSensorConfig(),
		MotionModel: DefaultMotionConfig(),
	}
}

// LoadConfig loads the configuration from a YAML file. Sections and fields
// absent from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks required fields and repairs out of range model parameters
func (c *Config) Validate() error {
	if c.MQTT.Broker != "" && c.Robot.Topic == "" {
		return fmt.Errorf("robot.topic is required when mqtt.broker is set")
	}
	if c.Grid.DimensionCells <= 0 || c.Grid.DimensionCellsVertical <= 0 {
		return fmt.Errorf("grid dimensions must be positive, got %dx%d",
			c.Grid.DimensionCells, c.Grid.DimensionCellsVertical)
	}
	if c.Grid.CellSizeMM <= 0 {
		return fmt.Errorf("grid.cellSizeMM must be positive, got %v", c.Grid.CellSizeMM)
	}
	if c.Grid.OccupiedProbability <= 0.5 || c.Grid.OccupiedProbability >= 1 {
		Logf("[CONFIG] grid.occupiedProbability %v out of range, using %v",
			c.Grid.OccupiedProbability, DefaultOccupiedProbability)
		c.Grid.OccupiedProbability = DefaultOccupiedProbability
	}
	if c.SensorModel.VacancyWeighting <= MinVacancyProbability {
		Logf("[CONFIG] sensorModel.vacancyWeighting %v must exceed %v, using %v",
			c.SensorModel.VacancyWeighting, MinVacancyProbability, DefaultVacancyWeighting)
		c.SensorModel.VacancyWeighting = DefaultVacancyWeighting
	}
	if c.SensorModel.VacancyLevels < 2 {
		c.SensorModel.VacancyLevels = DefaultVacancyLevels
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// UnmarshalYAML decodes each motion model field on its own. A malformed
// field is logged and keeps its default rather than failing the document.
func (c *MotionConfig) UnmarshalYAML(value *yaml.Node) error {
	*c = DefaultMotionConfig()
	if value.Kind != yaml.MappingNode {
		Logf("[CONFIG] motionModel: expected a mapping, using defaults")
		return nil
	}

	for i := 0; i+1 < len(value.Content); i += 2 {
		key := value.Content[i].Value
		node := value.Content[i+1]

		var err error
		switch key {
		case "noOfPoses":
			err = decodeInt(node, &c.NoOfPoses, 1, 1<<20)
		case "cullThreshold":
			err = decodeInt(node, &c.CullThreshold, 1, 100)
		case "maturationTimeSteps":
			err = decodeInt(node, &c.MaturationTimeSteps, 1, 1<<16)
		case "motionNoise":
			err = decodeMotionNoise(node, &c.MotionNoise)
		case "maxPathLength":
			err = decodeInt(node, &c.MaxPathLength, 1, 1<<20)
		case "cacheRadiusCells":
			err = decodeInt(node, &c.CacheRadiusCells, 1, 1<<16)
		case "workers":
			err = decodeInt(node, &c.Workers, 1, 1024)
		case "distillEvery":
			err = decodeInt(node, &c.DistillEvery, 0, 1<<20)
		case "seed":
			var seed int64
			if err = node.Decode(&seed); err == nil {
				c.Seed = seed
			}
		case "inputType":
			var s string
			if err = node.Decode(&s); err == nil {
				switch InputType(s) {
				case InputBodyVelocity, InputWheelVelocity:
					c.InputType = InputType(s)
				default:
					err = fmt.Errorf("unknown input type %q", s)
				}
			}
		default:
			Logf("[CONFIG] motionModel: ignoring unknown field %q", key)
		}
		if err != nil {
			Logf("[CONFIG] motionModel.%s: %v, keeping default", key, err)
		}
	}
	return nil
}

func decodeInt(node *yaml.Node, dst *int, min, max int) error {
	var v int
	if err := node.Decode(&v); err != nil {
		return err
	}
	if v < min || v > max {
		return fmt.Errorf("value %d outside [%d, %d]", v, min, max)
	}
	*dst = v
	return nil
}

// decodeMotionNoise accepts a sequence or the legacy comma separated list
func decodeMotionNoise(node *yaml.Node, dst *[]float64) error {
	var values []float64
	switch node.Kind {
	case yaml.SequenceNode:
		if err := node.Decode(&values); err != nil {
			return err
		}
	case yaml.ScalarNode:
		for _, field := range strings.Split(node.Value, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return fmt.Errorf("parsing %q: %w", field, err)
			}
			values = append(values, v)
		}
	default:
		return errors.New("expected a list of numbers")
	}

	if len(values) != motionNoiseChannels {
		return fmt.Errorf("expected %d coefficients, got %d", motionNoiseChannels, len(values))
	}
	for _, v := range values {
		if v < 0 {
			return fmt.Errorf("negative coefficient %v", v)
		}
	}
	*dst = values
	return nil
}
