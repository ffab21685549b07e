package slam

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Odometry is the motion reported since the previous frame
type Odometry struct {
	DT              float64 `json:"dt"`
	ForwardVelocity float64 `json:"forwardVelocity"`
	AngularVelocity float64 `json:"angularVelocity"`
	LeftWheel       float64 `json:"leftWheel,omitempty"`
	RightWheel      float64 `json:"rightWheel,omitempty"`
}

// Observation is the set of rays seen at the end of a frame
type Observation struct {
	Rays []Ray `json:"rays"`
}

// ScanMatch carries an external heading estimate in radians
type ScanMatch struct {
	Pan float64 `json:"pan"`
}

// Frame is one line of a frame log: the odometry since the previous
// frame, an optional scan matching heading and the rays observed
type Frame struct {
	Odometry
	ScanMatchPan *float64 `json:"scanMatchPan,omitempty"`
	Rays         []Ray    `json:"rays"`
}

// ParseFrameLog reads a JSON-lines frame log. Blank lines and lines
// starting with '#' are skipped.
func ParseFrameLog(r io.Reader) ([]Frame, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var frames []Frame
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 || text[0] == '#' {
			continue
		}
		var f Frame
		if err := json.Unmarshal(text, &f); err != nil {
			return nil, fmt.Errorf("frame log line %d: %w", line, err)
		}
		frames = append(frames, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading frame log: %w", err)
	}
	return frames, nil
}

// LoadFrameLog reads a frame log from a file
func LoadFrameLog(path string) ([]Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening frame log: %w", err)
	}
	defer f.Close()
	return ParseFrameLog(f)
}

// WriteFrameLog writes frames as JSON lines
func WriteFrameLog(w io.Writer, frames []Frame) error {
	enc := json.NewEncoder(w)
	for i := range frames {
		if err := enc.Encode(&frames[i]); err != nil {
			return fmt.Errorf("writing frame %d: %w", i, err)
		}
	}
	return nil
}

// IsRemoteFrameLog reports whether a replay source must be fetched over HTTP
func IsRemoteFrameLog(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}
