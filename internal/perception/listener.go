// Package perception holds the controller's view of the vision pipeline: the
// latest line-detected flag, centring offset and heading error, plus the
// switches that tell upstream detectors which one should be running.
package perception

import (
	"fmt"
	"sync/atomic"
)

// LineState distinguishes "no detector update yet" from "line confirmed absent".
type LineState int32

const (
	LineUnknown LineState = iota
	LineAbsent
	LinePresent
)

func (s LineState) String() string {
	switch s {
	case LineUnknown:
		return "UNKNOWN"
	case LineAbsent:
		return "ABSENT"
	case LinePresent:
		return "PRESENT"
	default:
		return fmt.Sprintf("LineState(%d)", int32(s))
	}
}

// State is a snapshot of the latest perception values. Fields are sampled
// independently, so a snapshot may mix values from different frames.
type State struct {
	Line         LineState
	OffsetKnown  bool
	OffsetX      float64
	OffsetY      float64
	HeadingKnown bool
	HeadingError float64
}

// LineDetected reports whether the line is positively in view. Unknown and
// absent are treated the same.
func (s State) LineDetected() bool {
	return s.Line == LinePresent
}

type offset struct {
	x, y float64
}

// Listener keeps the last received value of each perception signal. Each
// field is its own atomic cell with a single writer (the perception feed);
// readers never block and never see a torn value.
type Listener struct {
	line    atomic.Int32
	offset  atomic.Pointer[offset]
	heading atomic.Pointer[float64]
}

// NewListener returns a Listener with every field unknown.
func NewListener() *Listener {
	return &Listener{}
}

// SetLineDetected records the latest line detector output.
func (l *Listener) SetLineDetected(detected bool) {
	if detected {
		l.line.Store(int32(LinePresent))
		return
	}
	l.line.Store(int32(LineAbsent))
}

// SetOffset records the latest centring offset.
func (l *Listener) SetOffset(x, y float64) {
	l.offset.Store(&offset{x: x, y: y})
}

// SetHeadingError records the latest heading error in degrees.
func (l *Listener) SetHeadingError(deg float64) {
	l.heading.Store(&deg)
}

// CurrentState returns the latest values without blocking.
func (l *Listener) CurrentState() State {
	st := State{Line: LineState(l.line.Load())}
	if o := l.offset.Load(); o != nil {
		st.OffsetKnown = true
		st.OffsetX, st.OffsetY = o.x, o.y
	}
	if h := l.heading.Load(); h != nil {
		st.HeadingKnown = true
		st.HeadingError = *h
	}
	return st
}

// Reset forgets every value, returning all fields to unknown.
func (l *Listener) Reset() {
	l.line.Store(int32(LineUnknown))
	l.offset.Store(nil)
	l.heading.Store(nil)
}
