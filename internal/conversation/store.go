// Package conversation holds the client side of a chat session: the ordered
// message list, the draft input and the busy flag, plus the HTTP client that
// talks to the relay.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/qmuntal/stateless"

	"github.com/comigor/relaychat/internal/history"
	"github.com/comigor/relaychat/internal/logger"
)

// State of the submit cycle.
type State string

const (
	StateIdle       State = "Idle"
	StateSubmitting State = "Submitting"
)

type trigger string

const (
	triggerSubmit  trigger = "Submit"
	triggerResolve trigger = "Resolve"
	triggerFail    trigger = "Fail"
)

// ErrBusy is returned by Submit while a previous submission is in flight.
var ErrBusy = errors.New("conversation: submission already in flight")

// Store is an in-memory conversation. Messages are only ever appended; a
// failed submission keeps the user's message and adds nothing for the
// failure.
type Store struct {
	mu       sync.Mutex
	relay    Relay
	input    string
	messages []history.Message
	fsm      *stateless.StateMachine
}

// NewStore creates an empty, idle conversation backed by r.
func NewStore(r Relay) *Store {
	fsm := stateless.NewStateMachine(StateIdle)
	fsm.Configure(StateIdle).
		Permit(triggerSubmit, StateSubmitting)
	fsm.Configure(StateSubmitting).
		Permit(triggerResolve, StateIdle).
		Permit(triggerFail, StateIdle)
	fsm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		logger.L.Debug("conversation transition", "from", t.Source, "to", t.Destination, "trigger", t.Trigger)
	})

	return &Store{relay: r, fsm: fsm}
}

// SetInput replaces the draft text.
func (s *Store) SetInput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = text
}

// Input returns the draft text.
func (s *Store) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// Messages returns a copy of the conversation in order.
func (s *Store) Messages() []history.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]history.Message(nil), s.messages...)
}

// State returns the current submit state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.MustState().(State)
}

// Loading reports whether a submission is in flight.
func (s *Store) Loading() bool {
	return s.State() == StateSubmitting
}

// Submit sends the draft. Blank drafts are ignored without touching state or
// the network. The user message is appended and the draft cleared before the
// relay is called; the reply is appended once it arrives. Relay errors are
// logged and returned, and leave the conversation without a reply.
func (s *Store) Submit(ctx context.Context) error {
	s.mu.Lock()
	input := s.input
	if strings.TrimSpace(input) == "" {
		s.mu.Unlock()
		return nil
	}
	if ok, _ := s.fsm.CanFire(triggerSubmit); !ok {
		s.mu.Unlock()
		return ErrBusy
	}
	if err := s.fsm.Fire(triggerSubmit); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("start submission: %w", err)
	}
	s.messages = append(s.messages, history.User(input))
	s.input = ""
	sent := append([]history.Message(nil), s.messages...)
	s.mu.Unlock()

	result, err := s.relay.Generate(ctx, input, sent)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		logger.L.Warn("relay request failed", "error", err)
		if ferr := s.fsm.Fire(triggerFail); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}
	s.messages = append(s.messages, history.Assistant(result))
	if err := s.fsm.Fire(triggerResolve); err != nil {
		return fmt.Errorf("finish submission: %w", err)
	}
	return nil
}
