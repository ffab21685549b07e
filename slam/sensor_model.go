package slam

import (
	"math"
	"sync"
	"sync/atomic"
)

const (
	// LogOddsLookupLevels is the resolution of the log-odds table
	LogOddsLookupLevels = 1000

	// MinVacancyProbability is the floor of the vacancy decay curve
	MinVacancyProbability = 0.1
	// DefaultVacancyWeighting is the peak of the vacancy decay curve
	DefaultVacancyWeighting = 2.0
	// DefaultVacancyLevels is the resolution of the vacancy table
	DefaultVacancyLevels = 1000

	// DefaultOccupiedProbability is assigned to a ray's terminal cell
	DefaultOccupiedProbability = 0.7

	// NoOccupancyEvidence is returned by pose scoring when no ray
	// touched a cell inside the grid
	NoOccupancyEvidence = -math.MaxFloat32
)

var (
	logOddsOnce  sync.Once
	logOddsTable []float64
)

func buildLogOddsTable() {
	logOddsTable = make([]float64, LogOddsLookupLevels)
	for i := range logOddsTable {
		p := clampProbability(float64(i) / float64(LogOddsLookupLevels-1))
		logOddsTable[i] = math.Log(p / (1 - p))
	}
}

// clampProbability keeps p away from 0 and 1 where log-odds diverge
func clampProbability(p float64) float64 {
	const eps = 1.0 / (2 * LogOddsLookupLevels)
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
}

// LogOdds converts a probability to log-odds using a table built on first use
func LogOdds(probability float64) float64 {
	logOddsOnce.Do(buildLogOddsTable)
	if math.IsNaN(probability) {
		probability = 0.5
	}
	idx := int(probability * (LogOddsLookupLevels - 1))
	if idx < 0 {
		idx = 0
	} else if idx >= LogOddsLookupLevels {
		idx = LogOddsLookupLevels - 1
	}
	return logOddsTable[idx]
}

// Probability converts log-odds back to a probability
func Probability(logOdds float64) float64 {
	return 1 - 1/(1+math.Exp(logOdds))
}

// SensorModel holds the vacancy decay curve used to carve free space
type SensorModel struct {
	mu               sync.Mutex
	vacancyWeighting float64
	levels           int
	vacancy          atomic.Pointer[[]float64]
}

// NewSensorModel creates a sensor model from its configuration
func NewSensorModel(cfg SensorConfig) *SensorModel {
	s := &SensorModel{
		vacancyWeighting: cfg.VacancyWeighting,
		levels:           cfg.VacancyLevels,
	}
	if s.vacancyWeighting <= MinVacancyProbability {
		s.vacancyWeighting = DefaultVacancyWeighting
	}
	if s.levels < 2 {
		s.levels = DefaultVacancyLevels
	}
	return s
}

// VacancyWeighting returns the peak of the decay curve
func (s *SensorModel) VacancyWeighting() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vacancyWeighting
}

// SetVacancyWeighting changes the peak of the decay curve. The lookup
// table is rebuilt on next use.
func (s *SensorModel) SetVacancyWeighting(w float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w == s.vacancyWeighting {
		return
	}
	s.vacancyWeighting = w
	s.vacancy.Store(nil)
}

func (s *SensorModel) vacancyTable() []float64 {
	if t := s.vacancy.Load(); t != nil {
		return *t
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.vacancy.Load(); t != nil {
		return *t
	}
	table := make([]float64, s.levels)
	span := s.vacancyWeighting - MinVacancyProbability
	for i := range table {
		f := float64(i) / float64(s.levels)
		table[i] = MinVacancyProbability + span*math.Exp(-(f*f))
	}
	s.vacancy.Store(&table)
	return table
}

// VacancyWeight returns the per-segment vacancy delta at the given fraction
// of the way along a ray's free-space segment divided into steps segments
func (s *SensorModel) VacancyWeight(fraction float64, steps int) float64 {
	table := s.vacancyTable()
	if steps < 1 {
		steps = 1
	}
	if !(fraction > 0) {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}
	prob := table[int(fraction*float64(len(table)-1))]
	return 0.5 - prob/float64(steps)
}

// relativeColour removes overall brightness from an RGB value
func relativeColour(r, g, b float64) [3]float64 {
	rel := [3]float64{
		2*r - g - b,
		2*g - r - b,
		2*b - r - g,
	}
	for i := range rel {
		if rel[i] < 0 {
			rel[i] = 0
		}
	}
	return rel
}

// ColourDifference compares an observed colour with a stored mean colour.
// The result is in [0, 1], 0 for identical hue balance.
func ColourDifference(observed Colour, stored [3]float64) float64 {
	a := relativeColour(float64(observed[0]), float64(observed[1]), float64(observed[2]))
	b := relativeColour(stored[0], stored[1], stored[2])
	diff := 0.0
	for i := range a {
		diff += math.Abs(a[i] - b[i])
	}
	return diff / (6 * 255)
}
