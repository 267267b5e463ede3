package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrelay-go/internal/telemetry"
	linkpkg "github.com/rmacdonaldsmith/meshrelay-go/pkg/link"
)

var (
	// ErrAttemptsExhausted is returned by Run when a bounded policy gives up
	ErrAttemptsExhausted = errors.New("connect attempts exhausted")
	// ErrAlreadyStarted is returned when Run is called more than once
	ErrAlreadyStarted = errors.New("supervisor already started")
	// ErrNotConnected is returned by Send while no link is established
	ErrNotConnected = errors.New("not connected")
)

// State represents where a Supervisor is in its connect/retry loop
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Backoff
	Closing
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Backoff:
		return "Backoff"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Policy controls retries. MaxAttempts of zero retries forever.
type Policy struct {
	Backoff     time.Duration
	MaxAttempts int
}

// Unbounded retries forever, waiting backoff between attempts
func Unbounded(backoff time.Duration) Policy {
	return Policy{Backoff: backoff}
}

// Bounded gives up after maxAttempts consecutive failures
func Bounded(backoff time.Duration, maxAttempts int) Policy {
	return Policy{Backoff: backoff, MaxAttempts: maxAttempts}
}

// DialFunc opens one link to the supervised target
type DialFunc func(ctx context.Context) (linkpkg.Link, error)

// Config holds configuration for a Supervisor
type Config struct {
	Target string
	Dial   DialFunc
	Policy Policy

	// Callbacks run on the supervisor goroutine.
	OnConnect    func(l linkpkg.Link)
	OnMessage    func(l linkpkg.Link, msg []byte)
	OnDisconnect func(l linkpkg.Link, err error)

	Logger *zap.Logger
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Target == "" {
		return errors.New("target cannot be empty")
	}
	if c.Dial == nil {
		return errors.New("dial function cannot be nil")
	}
	if c.Policy.MaxAttempts < 0 {
		return errors.New("max attempts cannot be negative")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.Policy.Backoff <= 0 {
		c.Policy.Backoff = time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Supervisor owns one outbound target: it dials, consumes the link until it
// drops, waits the backoff and dials again.
type Supervisor struct {
	config Config
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	current  linkpkg.Link
	attempts int
	lastErr  error
	started  bool
	stopped  bool
	cancel   context.CancelFunc

	done chan struct{}
}

// New creates a Supervisor with the given configuration
func New(config Config) (*Supervisor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.SetDefaults()

	return &Supervisor{
		config: config,
		logger: config.Logger.With(zap.String("target", config.Target)),
		state:  Idle,
		done:   make(chan struct{}),
	}, nil
}

// Target returns the supervised address
func (s *Supervisor) Target() string { return s.config.Target }

// Done is closed when Run has returned
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// State returns the current state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the last connect or link error, or the terminal error once Run has failed
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Attempts returns the number of consecutive failed attempts
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Current returns the established link, or nil while not connected
func (s *Supervisor) Current() linkpkg.Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Send queues msg on the current link
func (s *Supervisor) Send(msg []byte) error {
	l := s.Current()
	if l == nil {
		return ErrNotConnected
	}
	return l.Send(msg)
}

// Run dials and re-dials until ctx is cancelled, Stop is called, or a bounded
// policy runs out of attempts. It returns nil on cancellation.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	if s.stopped {
		s.state = Closed
		s.mu.Unlock()
		close(s.done)
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	err := s.loop(ctx)

	s.mu.Lock()
	s.cancel()
	if err != nil {
		s.state = Failed
		s.lastErr = err
	} else {
		s.state = Closed
	}
	s.mu.Unlock()

	close(s.done)
	return err
}

func (s *Supervisor) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		s.setState(Connecting)
		l, err := s.config.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			kind := linkpkg.Classify(err)
			telemetry.ConnectAttempts.WithLabelValues(string(kind)).Inc()

			failures := s.recordFailure(err)
			if s.config.Policy.MaxAttempts > 0 && failures >= s.config.Policy.MaxAttempts {
				s.logger.Warn("giving up", zap.Int("attempts", failures), zap.Error(err))
				return fmt.Errorf("%w: %s after %d attempts: %w", ErrAttemptsExhausted, s.config.Target, failures, err)
			}
			s.logger.Info("connect failed", zap.String("kind", string(kind)), zap.Int("attempt", failures), zap.Error(err))
		} else {
			telemetry.ConnectAttempts.WithLabelValues("connected").Inc()
			if !s.attach(ctx, l) {
				_ = l.Close()
				return nil
			}
			s.consume(ctx, l)
			if ctx.Err() != nil {
				return nil
			}
		}

		s.setState(Backoff)
		timer := time.NewTimer(s.config.Policy.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// attach publishes l as the current link unless the supervisor is stopping
func (s *Supervisor) attach(ctx context.Context, l linkpkg.Link) bool {
	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.current = l
	s.attempts = 0
	s.lastErr = nil
	s.state = Connected
	s.mu.Unlock()

	s.logger.Info("connected")
	if s.config.OnConnect != nil {
		s.config.OnConnect(l)
	}
	return true
}

// consume reads l until it ends or ctx is cancelled, then detaches and closes it
func (s *Supervisor) consume(ctx context.Context, l linkpkg.Link) {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	var err error
	for {
		var msg []byte
		msg, err = l.Recv()
		if err != nil {
			break
		}
		if s.config.OnMessage != nil {
			s.config.OnMessage(l, msg)
		}
	}

	s.mu.Lock()
	if s.current == l {
		s.current = nil
	}
	if linkpkg.Classify(err) != linkpkg.FailureNone {
		s.lastErr = err
	}
	s.mu.Unlock()

	_ = l.Close()
	s.logger.Info("link ended", zap.String("kind", string(linkpkg.Classify(err))), zap.Error(err))
	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(l, err)
	}
}

func (s *Supervisor) recordFailure(err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	s.lastErr = err
	return s.attempts
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.state = state
}

// Stop cancels the loop, closes the current link and waits for Run to return.
// Stop before Run makes a later Run return immediately.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	if !s.started {
		s.state = Closed
		s.mu.Unlock()
		return
	}
	if s.state != Closed && s.state != Failed {
		s.state = Closing
	}
	// Cancelling under mu means attach either already published the link
	// or will see the cancellation.
	if s.cancel != nil {
		s.cancel()
	}
	current := s.current
	s.mu.Unlock()

	if current != nil {
		_ = current.Close()
	}
	<-s.done
}
