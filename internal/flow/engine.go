package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/AlienChat/internal/models"
)

// DefaultDispatchTimeout bounds a single completion request.
const DefaultDispatchTimeout = 60 * time.Second

// Errors returned by the engine.
var (
	ErrNoActiveFlow = errors.New("no active flow")
	ErrBusy         = errors.New("a reply is still loading")
)

// Completer turns a prompt into reply text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ChatStore is the part of the conversation store the engine writes to.
type ChatStore interface {
	ActiveConversation() (models.Conversation, bool)
	CreateConversation(ctx context.Context) (models.Conversation, error)
	AppendMessage(ctx context.Context, id string, msg models.Message) error
	RenameIfDefaultTitle(ctx context.Context, id, candidate string) error
	SetActive(ctx context.Context, id string) error
}

// Opts holds configuration options for the Engine.
type Opts struct {
	DispatchTimeout time.Duration
}

// Option defines a configuration option for the Engine.
type Option func(*Opts)

// WithDispatchTimeout bounds each completion request.
func WithDispatchTimeout(d time.Duration) Option {
	return func(o *Opts) { o.DispatchTimeout = d }
}

// Engine routes one user's chat input: it either advances a guided flow or sends the
// text to the completion endpoint. State transitions are serialized; completion
// requests run outside the lock.
type Engine struct {
	mu        sync.Mutex
	registry  *Registry
	store     ChatStore
	completer Completer
	timeout   time.Duration
	state     State
	inFlight  int
}

// NewEngine creates an idle engine.
func NewEngine(registry *Registry, store ChatStore, completer Completer, opts ...Option) *Engine {
	cfg := Opts{DispatchTimeout: DefaultDispatchTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultDispatchTimeout
	}
	return &Engine{
		registry:  registry,
		store:     store,
		completer: completer,
		timeout:   cfg.DispatchTimeout,
		state:     Idle{},
	}
}

// Registry returns the flow table the engine serves.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// StartFlow begins a guided flow in the active conversation, creating one if needed.
// Any flow already in progress is abandoned. Unknown flow types are ignored.
func (e *Engine) StartFlow(ctx context.Context, t models.FlowType) error {
	def, ok := e.registry.Get(t)
	if !ok {
		slog.Warn("Engine.StartFlow: unknown flow type ignored", "flowType", t)
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	convID, err := e.resolveConversationLocked(ctx)
	if err != nil {
		return err
	}
	if prev, ok := e.state.(InFlow); ok {
		slog.Info("Engine.StartFlow: abandoning flow in progress", "previous", prev.Type, "step", prev.Step)
	}
	e.state = Idle{}

	if err := e.store.AppendMessage(ctx, convID, models.NewBotMessage(def.Intro)); err != nil {
		return fmt.Errorf("failed to append flow intro: %w", err)
	}
	if err := e.store.AppendMessage(ctx, convID, models.NewBotMessage(def.Questions[0].Text)); err != nil {
		return fmt.Errorf("failed to append first question: %w", err)
	}
	e.state = InFlow{Type: t, Step: 1, Answers: []string{}}
	slog.Info("Engine.StartFlow: flow started", "flowType", t, "conversationID", convID, "total", def.Total())
	return nil
}

// Send handles free text typed by the user. Blank input is ignored. The text is appended
// to the active conversation (created if none) and either answers the pending flow
// question or is sent to the completion endpoint verbatim.
func (e *Engine) Send(ctx context.Context, text string) error {
	return e.send(ctx, text, false)
}

// TrySend is Send, except that it returns ErrBusy without touching the conversation while
// a completion request is in flight.
func (e *Engine) TrySend(ctx context.Context, text string) error {
	return e.send(ctx, text, true)
}

func (e *Engine) send(ctx context.Context, text string, exclusive bool) error {
	text = strings.TrimSpace(text)
	if text == "" {
		slog.Debug("Engine.Send: ignoring blank input")
		return nil
	}

	e.mu.Lock()
	if exclusive && e.inFlight > 0 {
		e.mu.Unlock()
		slog.Warn("Engine.TrySend: rejected while loading")
		return ErrBusy
	}
	convID, err := e.resolveConversationLocked(ctx)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if err := e.store.AppendMessage(ctx, convID, models.NewUserMessage(text)); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to append user message: %w", err)
	}
	if err := e.store.RenameIfDefaultTitle(ctx, convID, text); err != nil {
		slog.Error("Engine.Send: auto-title failed", "conversationID", convID, "error", err)
	}

	prompt := text
	if _, ok := e.state.(InFlow); ok {
		var dispatch bool
		prompt, dispatch, err = e.answerLocked(ctx, convID, text)
		if err != nil || !dispatch {
			e.mu.Unlock()
			return err
		}
	}
	e.inFlight++
	e.mu.Unlock()

	e.dispatch(ctx, convID, prompt)
	return nil
}

// SubmitAnswer records text as the answer to the pending question. After the last
// answer the prompt is synthesized and dispatched; otherwise the next question is asked.
// Answers are not validated.
func (e *Engine) SubmitAnswer(ctx context.Context, text string) error {
	e.mu.Lock()
	if _, ok := e.state.(InFlow); !ok {
		e.mu.Unlock()
		return ErrNoActiveFlow
	}
	convID, err := e.resolveConversationLocked(ctx)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	prompt, dispatch, err := e.answerLocked(ctx, convID, text)
	if err != nil || !dispatch {
		e.mu.Unlock()
		return err
	}
	e.inFlight++
	e.mu.Unlock()

	e.dispatch(ctx, convID, prompt)
	return nil
}

// SwitchConversation selects another conversation and abandons any flow in progress.
func (e *Engine) SwitchConversation(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.SetActive(ctx, id); err != nil {
		return err
	}
	if prev, ok := e.state.(InFlow); ok {
		slog.Info("Engine.SwitchConversation: flow discarded", "flowType", prev.Type, "answers", len(prev.Answers))
	}
	e.state = Idle{}
	return nil
}

// Reset abandons any flow in progress.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Idle{}
	slog.Debug("Engine.Reset: state cleared")
}

// State returns a copy of the current flow state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneState(e.state)
}

// Loading reports whether a completion request is in flight.
func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight > 0
}

// Snapshot returns the state in a serializable form.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{Mode: "idle", Loading: e.inFlight > 0}
	if f, ok := e.state.(InFlow); ok {
		snap.Mode = "flow"
		snap.Type = f.Type
		snap.Step = f.Step
		snap.Answers = slices.Clone(f.Answers)
		if def, ok := e.registry.Get(f.Type); ok {
			snap.Total = def.Total()
		}
	}
	return snap
}

// answerLocked applies one answer. It returns the synthesized prompt and true when the
// flow completed, or asks the next question and returns false.
func (e *Engine) answerLocked(ctx context.Context, convID, answer string) (string, bool, error) {
	f := e.state.(InFlow)
	def, ok := e.registry.Get(f.Type)
	if !ok {
		e.state = Idle{}
		return "", false, fmt.Errorf("flow %s is no longer defined", f.Type)
	}
	answers := append(slices.Clone(f.Answers), answer)

	if f.Step < def.Total() {
		next := def.Questions[f.Step]
		e.state = InFlow{Type: f.Type, Step: f.Step + 1, Answers: answers}
		if err := e.store.AppendMessage(ctx, convID, models.NewBotMessage(next.Text)); err != nil {
			return "", false, fmt.Errorf("failed to append question: %w", err)
		}
		slog.Debug("Engine.answer: next question asked", "flowType", f.Type, "step", f.Step+1, "total", def.Total())
		return "", false, nil
	}

	e.state = Idle{}
	prompt, err := def.Render(answers, e.registry.Rules())
	if err != nil {
		slog.Error("Engine.answer: prompt synthesis failed", "flowType", f.Type, "error", err)
		return "", false, err
	}
	slog.Info("Engine.answer: flow completed", "flowType", f.Type, "conversationID", convID, "promptLength", len(prompt))
	return prompt, true, nil
}

// dispatch requests a completion and appends the reply, or an error message, to the
// conversation that was active when the request started.
func (e *Engine) dispatch(ctx context.Context, convID, prompt string) {
	defer func() {
		e.mu.Lock()
		e.inFlight--
		e.mu.Unlock()
	}()

	// The reply must land even if the caller goes away.
	base := context.WithoutCancel(ctx)
	dctx, cancel := context.WithTimeout(base, e.timeout)
	defer cancel()

	start := time.Now()
	reply, err := e.completer.Complete(dctx, prompt)
	var text string
	switch {
	case err != nil:
		slog.Error("Engine.dispatch: completion failed", "conversationID", convID, "error", err, "elapsed", time.Since(start))
		text = models.ErrorReplyPrefix + err.Error()
	case strings.TrimSpace(reply) == "":
		slog.Warn("Engine.dispatch: empty completion", "conversationID", convID)
		text = models.NoResponseText
	default:
		slog.Debug("Engine.dispatch: completion received", "conversationID", convID, "replyLength", len(reply), "elapsed", time.Since(start))
		text = reply
	}

	if err := e.store.AppendMessage(base, convID, models.NewBotMessage(text)); err != nil {
		// The conversation may have been deleted while the request was in flight.
		slog.Error("Engine.dispatch: failed to append reply", "conversationID", convID, "error", err)
	}
}

func (e *Engine) resolveConversationLocked(ctx context.Context) (string, error) {
	if conv, ok := e.store.ActiveConversation(); ok {
		return conv.ID, nil
	}
	conv, err := e.store.CreateConversation(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	slog.Debug("Engine: created conversation for input", "conversationID", conv.ID)
	return conv.ID, nil
}
