package perception

import (
	"errors"
	"fmt"
	"sync"
)

// Detector names an upstream vision pipeline that can be paused.
type Detector string

const (
	DetectorDetection  Detector = "detection"
	DetectorCentralize Detector = "centralize"
	DetectorAngle      Detector = "angle"
)

// Detectors lists every switchable detector in publish order.
var Detectors = []Detector{DetectorDetection, DetectorCentralize, DetectorAngle}

// SwitchPublisher sends a detector's paused flag upstream.
type SwitchPublisher interface {
	PublishSwitch(d Detector, paused bool) error
}

// Switches keeps exactly one detector running at a time.
type Switches struct {
	pub    SwitchPublisher
	mu     sync.Mutex
	active Detector
}

// NewSwitches returns Switches publishing through pub.
func NewSwitches(pub SwitchPublisher) *Switches {
	return &Switches{pub: pub}
}

// Activate resumes d and pauses every other detector. Every detector is
// published even if a previous publish failed; failures are joined.
func (s *Switches) Activate(d Detector) error {
	if !validDetector(d) {
		return fmt.Errorf("unknown detector %q", d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = d
	return s.publishLocked(d)
}

// Deactivate pauses every detector.
func (s *Switches) Deactivate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = ""
	return s.publishLocked("")
}

// Active returns the running detector, or "" when all are paused.
func (s *Switches) Active() Detector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Switches) publishLocked(active Detector) error {
	var errs []error
	for _, d := range Detectors {
		if err := s.pub.PublishSwitch(d, d != active); err != nil {
			errs = append(errs, fmt.Errorf("switch %s: %w", d, err))
		}
	}
	return errors.Join(errs...)
}

func validDetector(d Detector) bool {
	for _, known := range Detectors {
		if d == known {
			return true
		}
	}
	return false
}
