package slam

import (
	"fmt"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	runner := NewFrameRunner(runnerConfig(), NewStateTracker(10), nil)
	runner.HandleObservation(Observation{Rays: fanRays()})

	found := false
	for _, line := range lines {
		if strings.Contains(line, "observation before odometry") {
			found = true
		}
	}
	if !found {
		t.Errorf("dropped observation was not logged, got %q", lines)
	}

	SetLogger(nil)
	lines = nil
	Logf("muted %d", 1)
	runner.HandleObservation(Observation{})
	if len(lines) != 0 {
		t.Errorf("muted logger still captured %q", lines)
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should default to log.Printf")
	}
}
