package motion

import "fmt"

// Set groups one client per axis and routes executor reports to them.
type Set struct {
	clients map[Axis]*Client
}

// NewSet creates forward, sideward and turn clients sharing t.
func NewSet(t Transport, opts ...ClientOption) *Set {
	s := &Set{clients: make(map[Axis]*Client, len(Axes))}
	for _, a := range Axes {
		s.clients[a] = NewClient(a, t, opts...)
	}
	return s
}

// Client returns the client for axis a. It panics on an unknown axis.
func (s *Set) Client(a Axis) *Client {
	c, ok := s.clients[a]
	if !ok {
		panic(fmt.Sprintf("motion: no client for axis %q", a))
	}
	return c
}

func (s *Set) Forward() *Client  { return s.clients[Forward] }
func (s *Set) Sideward() *Client { return s.clients[Sideward] }
func (s *Set) Turn() *Client     { return s.clients[Turn] }

// Resolve forwards a terminal result to the axis client.
func (s *Set) Resolve(a Axis, goalID string, r Result) bool {
	c, ok := s.clients[a]
	if !ok {
		return false
	}
	return c.Resolve(goalID, r)
}

// Feedback forwards streamed progress to the axis client.
func (s *Set) Feedback(a Axis, goalID string, value float64) {
	if c, ok := s.clients[a]; ok {
		c.Feedback(goalID, value)
	}
}
