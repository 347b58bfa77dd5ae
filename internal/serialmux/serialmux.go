// Package serialmux multiplexes the line-oriented link to the vehicle bridge:
// every line read from the port is fanned out to subscribers, and commands
// from any goroutine are written to the single port one at a time.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/harshv834/auv/internal/monitoring"
)

var (
	ErrWriteFailed = errors.New("short write to serial port")
	ErrClosed      = errors.New("serial mux closed")
)

// SubscriberBuffer is the number of lines a subscriber may fall behind before
// lines are dropped for it (or, for a lossless subscriber, before the reader
// waits for it).
const SubscriberBuffer = 256

type subscriber struct {
	ch       chan string
	lossless bool
	gone     chan struct{}
	goneOnce sync.Once
	// sendMu orders delivery against closing ch.
	sendMu  sync.Mutex
	dropped int64
}

func newSubscriber(lossless bool) *subscriber {
	return &subscriber{
		ch:       make(chan string, SubscriberBuffer),
		lossless: lossless,
		gone:     make(chan struct{}),
	}
}

// end closes the subscriber's channel once any in-flight delivery has
// given up.
func (sub *subscriber) end() {
	sub.goneOnce.Do(func() {
		close(sub.gone)
		sub.sendMu.Lock()
		close(sub.ch)
		sub.sendMu.Unlock()
	})
}

// SerialMux fans lines from one port out to many subscribers.
type SerialMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]*subscriber
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
	done         chan struct{}
	dropped      atomic.Int64
	logf         func(format string, v ...interface{})
}

// SerialMuxInterface is implemented by SerialMux and DisabledSerialMux.
type SerialMuxInterface interface {
	// Subscribe returns an ID and a channel receiving every line read from
	// the port. The channel is closed by Unsubscribe or Close. Lines are
	// dropped for a subscriber that falls SubscriberBuffer lines behind.
	Subscribe() (string, chan string)
	// SubscribeLossless is Subscribe for consumers that must see every
	// line: the reader waits for them instead of dropping.
	SubscribeLossless() (string, chan string)
	Unsubscribe(string)
	// SendCommand writes one line to the port, appending a newline if needed.
	SendCommand(string) error
	// Monitor reads the port until ctx is done or the port fails.
	Monitor(context.Context) error
	Close() error
	// AttachAdminRoutes mounts the debug console under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux wraps port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]*subscriber),
		done:        make(chan struct{}),
		logf:        monitoring.Component("serialmux"),
	}
}

func randomID() string {
	b := make([]byte, 8)
	_, _ = crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan string) { return s.subscribe(false) }

func (s *SerialMux[T]) SubscribeLossless() (string, chan string) { return s.subscribe(true) }

func (s *SerialMux[T]) subscribe(lossless bool) (string, chan string) {
	id := randomID()
	sub := newSubscriber(lossless)

	s.closingMu.Lock()
	closing := s.closing
	s.closingMu.Unlock()
	if closing {
		sub.end()
		return id, sub.ch
	}

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = sub
	return id, sub.ch
}

func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	sub, ok := s.subscribers[id]
	delete(s.subscribers, id)
	s.subscriberMu.Unlock()
	if ok {
		sub.end()
	}
}

// Dropped returns the number of lines discarded for lagging subscribers.
func (s *SerialMux[T]) Dropped() int64 { return s.dropped.Load() }

// deliver hands line to one subscriber. A lossless subscriber blocks the
// reader until it takes the line, unsubscribes, or the mux stops.
func (s *SerialMux[T]) deliver(ctx context.Context, sub *subscriber, line string) {
	sub.sendMu.Lock()
	defer sub.sendMu.Unlock()
	select {
	case <-sub.gone:
		return
	default:
	}

	if sub.lossless {
		select {
		case sub.ch <- line:
		case <-sub.gone:
		case <-s.done:
		case <-ctx.Done():
		}
		return
	}

	select {
	case sub.ch <- line:
	default:
		s.dropped.Add(1)
		if sub.dropped++; sub.dropped == 1 || sub.dropped%SubscriberBuffer == 0 {
			s.logf("subscriber lagging, %d lines dropped", sub.dropped)
		}
	}
}

func (s *SerialMux[T]) SendCommand(command string) error {
	s.closingMu.Lock()
	closing := s.closing
	s.closingMu.Unlock()
	if closing {
		return ErrClosed
	}

	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor scans lines from the port and delivers them to subscribers. A
// subscriber whose buffer is full misses the line rather than stalling the
// reader, unless it subscribed with SubscribeLossless. Monitor returns nil at
// EOF or after Close.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)
	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// Scan blocks in its own goroutine so the loop below still sees ctx.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					if s.isClosing() {
						return nil
					}
					return err
				default:
					return nil
				}
			}
			if s.isClosing() {
				return nil
			}
			line = strings.TrimRight(line, "\r")
			if line == "" {
				continue
			}
			s.subscriberMu.Lock()
			subs := make([]*subscriber, 0, len(s.subscribers))
			for _, sub := range s.subscribers {
				subs = append(subs, sub)
			}
			s.subscriberMu.Unlock()
			for _, sub := range subs {
				s.deliver(ctx, sub, line)
			}
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// Close closes every subscriber channel and then the port.
func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	close(s.done)
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	subs := s.subscribers
	s.subscribers = make(map[string]*subscriber)
	s.subscriberMu.Unlock()
	for _, sub := range subs {
		sub.end()
	}
	return s.port.Close()
}
