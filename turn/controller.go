// Package turn runs one voice conversation: it listens to the rep, has the
// physician reply, speaks the reply and finally hands the session to scoring.
package turn

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/conecoach/backend/capture"
	"github.com/conecoach/backend/models"
)

type State int

const (
	Idle State = iota
	Listening
	AwaitingReply
	Speaking
	Scored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case AwaitingReply:
		return "awaiting_reply"
	case Speaking:
		return "speaking"
	case Scored:
		return "scored"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrBusy         = errors.New("a reply is already in progress")
	ErrScored       = errors.New("simulation has already been scored")
	ErrNotConfirmed = errors.New("ending the simulation requires confirmation")
)

// Speaker voices replies. Voice is the production implementation.
type Speaker interface {
	Speak(ctx context.Context, text string) Outcome
	Stop()
}

// Scorer grades a finished simulation
type Scorer interface {
	Score(ctx context.Context, simulationID uint) (*models.Simulation, error)
}

type EventType string

const (
	EventState      EventType = "state"
	EventTurn       EventType = "turn"
	EventTranscript EventType = "transcript"
	EventError      EventType = "error"
	EventScored     EventType = "scored"
)

type Event struct {
	Type       EventType
	State      State
	Turn       *models.Transcript
	Text       string
	Err        error
	Simulation *models.Simulation
}

type Config struct {
	SimulationID uint
	Capture      capture.Adapter
	Conversation *Conversation
	Speaker      Speaker
	Scorer       Scorer
	Observer     func(Event)
	Logger       *slog.Logger
}

type Controller struct {
	cfg    Config
	logger *slog.Logger

	// actions serializes PressMic and End
	actions sync.Mutex

	mu       sync.Mutex
	state    State
	inFlight bool
	stopping bool

	wg sync.WaitGroup
}

func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = func(Event) {}
	}
	return &Controller{
		cfg:    cfg,
		logger: cfg.Logger.With("simulation_id", cfg.SimulationID),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PressMic starts listening when idle and submits the utterance when listening
func (c *Controller) PressMic(ctx context.Context) error {
	c.actions.Lock()
	defer c.actions.Unlock()

	switch c.State() {
	case Scored:
		return ErrScored
	case AwaitingReply, Speaking:
		return ErrBusy
	case Listening:
		c.submit(ctx)
		return nil
	}

	c.cfg.Capture.ResetTranscript()
	if err := c.cfg.Capture.StartListening(ctx); err != nil {
		c.logger.Error("Failed to start listening", "error", err)
		c.emit(Event{Type: EventError, State: Idle, Err: err})
		return err
	}
	c.setState(Listening)
	return nil
}

func (c *Controller) submit(ctx context.Context) {
	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()

	if err := c.cfg.Capture.StopListening(); err != nil {
		c.logger.Warn("Failed to stop listening cleanly", "error", err)
	}

	c.mu.Lock()
	c.stopping = false
	c.mu.Unlock()

	text := strings.TrimSpace(c.cfg.Capture.CurrentTranscript())
	if text == "" {
		c.setState(Idle)
		return
	}

	c.mu.Lock()
	c.state = AwaitingReply
	c.inFlight = true
	c.mu.Unlock()
	c.emit(Event{Type: EventState, State: AwaitingReply})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runTurn(ctx, text)
	}()
}

func (c *Controller) runTurn(ctx context.Context, text string) {
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		changed := c.state == AwaitingReply || c.state == Speaking
		if changed {
			c.state = Idle
		}
		c.mu.Unlock()
		if changed {
			c.emit(Event{Type: EventState, State: Idle})
		}
	}()

	conv := c.cfg.Conversation
	simID := c.cfg.SimulationID

	userTurn, err := conv.AppendUser(ctx, simID, text)
	if err != nil {
		c.fail("Failed to save turn", err)
		return
	}
	c.emit(Event{Type: EventTurn, State: c.State(), Turn: userTurn})

	reply, err := conv.Generate(ctx, simID)
	if err != nil {
		c.fail("Failed to get reply", err)
		return
	}

	if c.State() == Scored {
		c.logger.Info("Discarding reply, simulation already scored")
		return
	}

	assistantTurn, err := conv.AppendAssistant(ctx, simID, reply)
	if err != nil {
		c.fail("Failed to save reply", err)
		return
	}

	c.mu.Lock()
	if c.state == Scored {
		c.mu.Unlock()
		return
	}
	c.state = Speaking
	c.mu.Unlock()

	c.emit(Event{Type: EventTurn, State: Speaking, Turn: assistantTurn})
	c.emit(Event{Type: EventState, State: Speaking})

	if c.cfg.Speaker != nil {
		outcome := c.cfg.Speaker.Speak(ctx, reply)
		c.logger.Debug("Reply spoken", "outcome", outcome)
	}
}

func (c *Controller) fail(msg string, err error) {
	c.logger.Error(msg, "error", err)
	c.emit(Event{Type: EventError, State: c.State(), Err: err})
}

// End stops the conversation and scores it. A scoring failure puts the
// controller back to Idle so End can be retried.
func (c *Controller) End(ctx context.Context, confirmed bool) (*models.Simulation, error) {
	if !confirmed {
		return nil, ErrNotConfirmed
	}

	c.actions.Lock()
	defer c.actions.Unlock()

	c.mu.Lock()
	prev := c.state
	if prev == Scored {
		c.mu.Unlock()
		return nil, ErrScored
	}
	c.state = Scored
	c.mu.Unlock()
	c.emit(Event{Type: EventState, State: Scored})

	switch prev {
	case Listening:
		if err := c.cfg.Capture.StopListening(); err != nil {
			c.logger.Warn("Failed to stop listening cleanly", "error", err)
		}
	case Speaking:
		if c.cfg.Speaker != nil {
			c.cfg.Speaker.Stop()
		}
	}

	sim, err := c.cfg.Scorer.Score(ctx, c.cfg.SimulationID)
	if err != nil {
		c.logger.Error("Failed to score simulation", "error", err)

		c.mu.Lock()
		// a turn still running will move the controller back to Idle itself
		if c.inFlight {
			c.state = AwaitingReply
		} else {
			c.state = Idle
		}
		next := c.state
		c.mu.Unlock()

		c.emit(Event{Type: EventError, State: next, Err: err})
		c.emit(Event{Type: EventState, State: next})
		return nil, err
	}

	c.emit(Event{Type: EventScored, State: Scored, Simulation: sim})
	return sim, nil
}

// CaptureChanged receives live updates from the capture adapter
func (c *Controller) CaptureChanged(text string, listening bool) {
	c.mu.Lock()
	state := c.state
	unexpected := !listening && state == Listening && !c.stopping
	if unexpected {
		c.state = Idle
	}
	c.mu.Unlock()

	if state == Listening {
		c.emit(Event{Type: EventTranscript, State: state, Text: text})
	}
	if unexpected {
		c.emit(Event{Type: EventError, State: Idle, Err: errors.New("speech capture stopped")})
		c.emit(Event{Type: EventState, State: Idle})
	}
}

// Wait blocks until background turn work has finished
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.emit(Event{Type: EventState, State: s})
}

func (c *Controller) emit(ev Event) {
	c.cfg.Observer(ev)
}
