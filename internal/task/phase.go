package task

import (
	"fmt"
	"strings"
)

// Phase is a stage of the line-following maneuver. The zero value means no
// phase was entered (an order=false goal).
type Phase int

const (
	Searching Phase = iota + 1
	Centering
	Aligning
	Succeeded
	Preempted
	Aborted
)

var phaseNames = map[Phase]string{
	Searching: "SEARCHING",
	Centering: "CENTERING",
	Aligning:  "ALIGNING",
	Succeeded: "SUCCEEDED",
	Preempted: "PREEMPTED",
	Aborted:   "ABORTED",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Terminal reports whether no further transitions can leave p.
func (p Phase) Terminal() bool {
	return p == Succeeded || p == Preempted || p == Aborted
}

// ParsePhase is the inverse of String. It accepts any letter case.
func ParsePhase(s string) (Phase, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	for p, name := range phaseNames {
		if name == up {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// MarshalText encodes the phase by name. The unset phase encodes as "".
func (p Phase) MarshalText() ([]byte, error) {
	if p == 0 {
		return []byte{}, nil
	}
	if _, ok := phaseNames[p]; !ok {
		return nil, fmt.Errorf("invalid phase %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*p = 0
		return nil
	}
	parsed, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
