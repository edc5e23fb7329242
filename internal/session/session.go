// Package session drives a single persona training dialogue: it owns the
// ordered message log and moves it through question, suggestion, evaluated
// response, optional follow-up and completion.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/persona-lab/internal/dialogue"
	"github.com/ashureev/persona-lab/internal/domain"
)

var (
	// ErrBusy rejects input while a generation or scheduled continuation is outstanding.
	ErrBusy = errors.New("session is generating")
	// ErrStalled rejects input after a failed generation until Retry succeeds.
	ErrStalled = errors.New("session stalled after failed generation")
	// ErrNotStalled is returned by Retry when there is nothing to retry.
	ErrNotStalled = errors.New("session is not stalled")
	// ErrNotStarted rejects input before Start.
	ErrNotStarted = errors.New("session not started")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrDiscarded is returned when a generation finishes after Reset.
	ErrDiscarded = errors.New("session discarded")
)

// State is the position of a session in its lifecycle.
type State string

const (
	StateInit               State = "init"
	StateAwaitingSuggestion State = "awaiting_suggestion"
	StateEvaluating         State = "evaluating"
	StateAwaitingQuestion   State = "awaiting_question"
	StateCompleting         State = "completing"
	StateCompleted          State = "completed"
	StateGenerationFailed   State = "generation_failed"
	StateDiscarded          State = "discarded"
)

// Timing holds the pauses before scheduled continuations.
type Timing struct {
	FollowUpDelay   time.Duration
	CompletionDelay time.Duration
}

// DefaultTiming returns the pacing used by the interactive client.
func DefaultTiming() Timing {
	return Timing{
		FollowUpDelay:   1500 * time.Millisecond,
		CompletionDelay: 2000 * time.Millisecond,
	}
}

type pendingOp int

const (
	opNone pendingOp = iota
	opQuestion
	opResponse
)

// Config describes a new session.
type Config struct {
	ID        string
	OwnerID   string
	Persona   domain.Persona
	Company   domain.Company
	Generator dialogue.Generator
	Timing    Timing
	Observers []Observer
	Logger    *slog.Logger
}

// Session is one persona and company conversation. All methods are safe for
// concurrent use; at most one generation runs at a time.
type Session struct {
	id        string
	ownerID   string
	gen       dialogue.Generator
	timing    Timing
	observers []Observer
	logger    *slog.Logger
	createdAt time.Time

	// notifyMu serializes mutations with their notifications so observers
	// see events in log order.
	notifyMu sync.Mutex

	mu        sync.Mutex
	persona   domain.Persona
	company   domain.Company
	messages  []domain.Message
	active    bool
	state     State
	pending   pendingOp
	lastErr   error
	epoch     uint64
	inflight  context.CancelFunc
	timer     *time.Timer
	updatedAt time.Time
}

// New validates cfg and returns a session in StateInit.
func New(cfg Config) (*Session, error) {
	if cfg.Generator == nil {
		return nil, errors.New("session: generator is required")
	}
	if cfg.ID == "" {
		return nil, errors.New("session: id is required")
	}
	if err := cfg.Persona.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Company.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now().UTC()
	return &Session{
		id:        cfg.ID,
		ownerID:   cfg.OwnerID,
		gen:       cfg.Generator,
		timing:    cfg.Timing,
		observers: cfg.Observers,
		logger:    logger.With("session_id", cfg.ID),
		createdAt: now,
		persona:   cfg.Persona.Clone(),
		company:   cfg.Company,
		active:    true,
		state:     StateInit,
		updatedAt: now,
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// OwnerID returns the id of the user who created the session.
func (s *Session) OwnerID() string { return s.ownerID }

// Start appends the opening system message and asks the first question.
// A failed question leaves the session in StateGenerationFailed with only the
// system message logged; the error is also returned.
func (s *Session) Start(ctx context.Context) error {
	var (
		epoch uint64
		err   error
	)
	s.mu.Lock()
	persona, company := s.persona.Clone(), s.company
	s.mu.Unlock()
	s.update(func() []Event {
		if s.state != StateInit {
			err = ErrAlreadyStarted
			return nil
		}
		epoch = s.epoch
		msg := domain.NewMessage(domain.KindSystem, fmt.Sprintf(
			"Session started: %s (%s) will ask questions about %s from %s. Provide helpful suggestions to assist them.",
			persona.Name, persona.Role, company.Product, company.Name))
		started := s.event(EventStarted)
		started.Persona = &persona
		started.Company = &company
		return []Event{started, s.appendMessage(msg), s.setState(StateAwaitingQuestion)}
	})
	if err != nil {
		return err
	}
	s.logger.Info("session started", "persona", persona.Name, "product", company.Product)
	return s.askQuestion(ctx, epoch, true)
}

// Submit records a human suggestion and waits for the persona's response.
// Blank text and inactive sessions are ignored and return nil, nil.
// Input while a generation or continuation is outstanding returns ErrBusy.
func (s *Session) Submit(ctx context.Context, text string) (*domain.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var (
		epoch   uint64
		err     error
		ignored bool
	)
	s.update(func() []Event {
		switch {
		case !s.active:
			ignored = true
			return nil
		case s.state == StateInit:
			err = ErrNotStarted
			return nil
		case s.state == StateGenerationFailed:
			err = ErrStalled
			return nil
		case s.state != StateAwaitingSuggestion:
			err = ErrBusy
			return nil
		}
		epoch = s.epoch
		return []Event{
			s.appendMessage(domain.NewMessage(domain.KindUserSuggestion, text)),
			s.setState(StateEvaluating),
		}
	})
	if ignored || err != nil {
		return nil, err
	}
	return s.respond(ctx, epoch)
}

// Retry re-runs the generation that failed. It returns ErrNotStalled unless
// the session is in StateGenerationFailed.
func (s *Session) Retry(ctx context.Context) error {
	var (
		op      pendingOp
		epoch   uint64
		err     error
		opening bool
	)
	s.update(func() []Event {
		if s.state != StateGenerationFailed {
			err = ErrNotStalled
			return nil
		}
		op, epoch = s.pending, s.epoch
		opening = domain.CountKind(s.messages, domain.KindPersonaQuestion) == 0
		s.pending, s.lastErr = opNone, nil
		if op == opResponse {
			return []Event{s.setState(StateEvaluating)}
		}
		return []Event{s.setState(StateAwaitingQuestion)}
	})
	if err != nil {
		return err
	}
	s.logger.Info("retrying generation", "op", op)
	if op == opResponse {
		_, err = s.respond(ctx, epoch)
		return err
	}
	return s.askQuestion(ctx, epoch, opening)
}

// Reset discards the session. In-flight generations are cancelled and
// scheduled continuations become no-ops.
func (s *Session) Reset() {
	s.update(func() []Event {
		if s.state == StateDiscarded {
			return nil
		}
		s.epoch++
		if s.inflight != nil {
			s.inflight()
			s.inflight = nil
		}
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.messages = nil
		s.persona = domain.Persona{}
		s.company = domain.Company{}
		s.active = false
		s.pending, s.lastErr = opNone, nil
		s.state = StateDiscarded
		s.updatedAt = time.Now().UTC()
		return []Event{s.event(EventReset)}
	})
	s.logger.Info("session reset")
}

// turn is the input captured for one generator call.
type turn struct {
	ctx     context.Context
	persona domain.Persona
	company domain.Company
	history []domain.Message
}

// begin captures generator input and registers the call for cancellation.
func (s *Session) begin(ctx context.Context, epoch uint64, dropSystem bool) (turn, context.CancelFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return turn{}, nil, false
	}
	gctx, cancel := context.WithCancel(ctx)
	s.inflight = cancel

	history := make([]domain.Message, len(s.messages))
	copy(history, s.messages)
	if dropSystem {
		history = domain.WithoutKind(history, domain.KindSystem)
	}
	return turn{ctx: gctx, persona: s.persona.Clone(), company: s.company, history: history}, cancel, true
}

// askQuestion generates and appends a persona question. The opening question
// sees an empty history; later questions see the full log.
func (s *Session) askQuestion(ctx context.Context, epoch uint64, opening bool) error {
	t, cancel, ok := s.begin(ctx, epoch, false)
	if !ok {
		return ErrDiscarded
	}
	if opening {
		t.history = nil
	}
	text, genErr := s.gen.GenerateQuestion(t.ctx, t.persona, t.company, t.history)
	cancel()

	var err error
	s.update(func() []Event {
		if s.epoch != epoch {
			err = ErrDiscarded
			return nil
		}
		s.inflight = nil
		s.timer = nil
		if genErr != nil {
			err = fmt.Errorf("generate question: %w", genErr)
			return s.fail(opQuestion, err)
		}
		return []Event{
			s.appendMessage(domain.NewMessage(domain.KindPersonaQuestion, text)),
			s.setState(StateAwaitingSuggestion),
		}
	})
	if err != nil && !errors.Is(err, ErrDiscarded) {
		s.logger.Error("question generation failed", "error", err)
	}
	return err
}

// respond generates the persona's reaction to the latest suggestion and
// schedules the continuation its status calls for.
func (s *Session) respond(ctx context.Context, epoch uint64) (*domain.Message, error) {
	t, cancel, ok := s.begin(ctx, epoch, true)
	if !ok {
		return nil, ErrDiscarded
	}
	resp, genErr := s.gen.GenerateResponse(t.ctx, t.persona, t.company, t.history)
	cancel()
	if genErr == nil && !resp.Status.Valid() {
		genErr = fmt.Errorf("unknown response status %q", resp.Status)
	}

	var (
		msg *domain.Message
		err error
	)
	s.update(func() []Event {
		if s.epoch != epoch {
			err = ErrDiscarded
			return nil
		}
		s.inflight = nil
		if genErr != nil {
			err = fmt.Errorf("generate response: %w", genErr)
			return s.fail(opResponse, err)
		}

		m := domain.NewResponse(resp.Content, resp.Status)
		msg = &m
		events := []Event{s.appendMessage(m)}
		switch resp.Status {
		case domain.StatusNeedsMore:
			events = append(events, s.setState(StateAwaitingQuestion))
			s.schedule(s.timing.FollowUpDelay, epoch, s.followUp)
		case domain.StatusSatisfied:
			events = append(events, s.setState(StateCompleting))
			s.schedule(s.timing.CompletionDelay, epoch, s.complete)
		default:
			events = append(events, s.setState(StateAwaitingSuggestion))
		}
		return events
	})
	if err != nil && !errors.Is(err, ErrDiscarded) {
		s.logger.Error("response generation failed", "error", err)
		return nil, err
	}
	if msg != nil {
		s.logger.Info("persona responded", "status", resp.Status)
	}
	return msg, err
}

// schedule arms the single continuation timer. Callers hold s.mu.
func (s *Session) schedule(d time.Duration, epoch uint64, fn func(epoch uint64)) {
	s.timer = time.AfterFunc(d, func() { fn(epoch) })
}

func (s *Session) followUp(epoch uint64) {
	// Errors are recorded as StateGenerationFailed and logged by askQuestion.
	_ = s.askQuestion(context.Background(), epoch, false)
}

func (s *Session) complete(epoch uint64) {
	s.update(func() []Event {
		if s.epoch != epoch || s.state != StateCompleting {
			return nil
		}
		s.timer = nil
		s.active = false
		msg := domain.NewMessage(domain.KindSystem, fmt.Sprintf(
			"Session completed! %s feels confident about using %s. Great job providing helpful suggestions!",
			s.persona.Name, s.company.Product))
		return []Event{s.appendMessage(msg), s.setState(StateCompleted)}
	})
}

// fail records a failed generation. Callers hold s.mu.
func (s *Session) fail(op pendingOp, err error) []Event {
	s.pending = op
	s.lastErr = err
	return []Event{s.setState(StateGenerationFailed)}
}

// appendMessage adds msg to the log. Callers hold s.mu.
func (s *Session) appendMessage(msg domain.Message) Event {
	s.messages = append(s.messages, msg)
	s.updatedAt = msg.Timestamp
	ev := s.event(EventMessage)
	ev.Message = &msg
	return ev
}

// setState moves to st. Callers hold s.mu.
func (s *Session) setState(st State) Event {
	s.state = st
	s.updatedAt = time.Now().UTC()
	return s.event(EventState)
}

// update runs fn under the session lock and then notifies observers of the
// events it returns, in order. Observers must not call mutating methods.
func (s *Session) update(fn func() []Event) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	events := fn()
	s.mu.Unlock()

	for _, ev := range events {
		for _, o := range s.observers {
			o.OnEvent(ev)
		}
	}
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID         string           `json:"id"`
	OwnerID    string           `json:"owner_id"`
	Persona    domain.Persona   `json:"persona"`
	Company    domain.Company   `json:"company"`
	State      State            `json:"state"`
	Active     bool             `json:"active"`
	Generating bool             `json:"generating"`
	Error      string           `json:"error,omitempty"`
	Messages   []domain.Message `json:"messages"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]domain.Message, len(s.messages))
	copy(msgs, s.messages)
	snap := Snapshot{
		ID:         s.id,
		OwnerID:    s.ownerID,
		Persona:    s.persona.Clone(),
		Company:    s.company,
		State:      s.state,
		Active:     s.active,
		Generating: s.state == StateEvaluating || s.state == StateAwaitingQuestion,
		Messages:   msgs,
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	return snap
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the session still accepts suggestions.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Messages returns a copy of the log.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// LastActivity returns the time of the latest message or state change.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}
