package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/attache-app/attache/internal/llm"
	"github.com/attache-app/attache/internal/logging"
	"github.com/attache-app/attache/internal/provider"
	"github.com/attache-app/attache/internal/store"
)

// Outcome classifies the conversational result of one chat turn.
type Outcome string

const (
	// OutcomeExecuted means a confirmed pending action was executed.
	OutcomeExecuted Outcome = "executed"
	// OutcomeMismatch means a confirmation phrase arrived for the wrong
	// action family; the pending action is untouched.
	OutcomeMismatch Outcome = "mismatch"
	// OutcomeNothingPending means a confirmation phrase arrived with no
	// pending action stored.
	OutcomeNothingPending Outcome = "nothing_pending"
	// OutcomeProposed means the model drafted an action that is now pending.
	OutcomeProposed Outcome = "proposed"
	// OutcomeChat means a plain conversational reply with no state change.
	OutcomeChat Outcome = "chat"
)

// Result is the engine's answer to one inbound chat message. AssistantText is
// always non-empty.
type Result struct {
	Outcome       Outcome
	AssistantText string

	// Pending is set when Outcome is OutcomeProposed.
	Pending *store.PendingAction

	// Executed is the consumed action when Outcome is OutcomeExecuted.
	Executed *store.PendingAction
}

// ToolGateway is the slice of the LLM gateway the engine needs.
type ToolGateway interface {
	Invoke(ctx context.Context, uid, systemPrompt, userText string) (*llm.Reply, error)
}

// Recorder receives engine observations for metrics. Implementations must
// not block.
type Recorder interface {
	ChatTurn(outcome Outcome)
	ActionExecuted(t provider.ActionType, p provider.Provider)
}

type nopRecorder struct{}

func (nopRecorder) ChatTurn(Outcome)                                      {}
func (nopRecorder) ActionExecuted(provider.ActionType, provider.Provider) {}

// Engine drives the propose/confirm protocol. The model is only ever offered
// proposal tools; every side effect passes through here, gated on an exact
// confirmation phrase typed by the user.
type Engine struct {
	store    store.TokenStore
	registry *provider.Registry
	gateway  ToolGateway
	contexts *ContextBuilder
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// Options configures a new Engine.
type Options struct {
	Store    store.TokenStore
	Registry *provider.Registry
	Gateway  ToolGateway
	Contexts *ContextBuilder
	Logger   *slog.Logger
	Recorder Recorder
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Engine{
		store:    opts.Store,
		registry: opts.Registry,
		gateway:  opts.Gateway,
		contexts: opts.Contexts,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		now:      time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

const systemPromptBase = `You are Attaché, a personal email and calendar assistant.
You can see the user's recent inbox and upcoming events in the context below.
You cannot send email or change the calendar yourself. When the user wants an
email sent or a calendar change, call the matching propose tool with complete
fields; the user will confirm separately. Never claim an action was performed.
When proposing a calendar deletion, use the event id from the context. Keep
answers short and concrete.`

// HandleChat processes one inbound message for a user and returns the
// conversational result.
//
// Confirmation phrases are resolved against the pending-action slot before
// the model is ever consulted: a matching phrase with a matching pending
// action executes it, a mismatched one returns guidance, and in neither case
// does the text reach the LLM.
func (e *Engine) HandleChat(ctx context.Context, uid, text string) (*Result, error) {
	res, err := e.handleChat(ctx, uid, text)
	if err == nil {
		e.recorder.ChatTurn(res.Outcome)
	}
	return res, err
}

func (e *Engine) handleChat(ctx context.Context, uid, text string) (*Result, error) {
	if confirmed, ok := phraseActions[normalizeText(text)]; ok {
		return e.confirm(ctx, uid, confirmed)
	}
	return e.llmTurn(ctx, uid, text)
}

// confirm resolves a typed confirmation phrase against the pending slot.
func (e *Engine) confirm(ctx context.Context, uid string, confirmed provider.ActionType) (*Result, error) {
	pending, err := e.store.GetPendingAction(ctx, uid)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return &Result{Outcome: OutcomeNothingPending, AssistantText: nothingPendingMessage}, nil
	}
	if pending.Type != confirmed {
		e.logger.Info("confirmation phrase mismatched pending action",
			logging.Operation("engine.confirm"),
			logging.Action(string(pending.Type)),
			logging.UserHash(uid))
		return &Result{Outcome: OutcomeMismatch, AssistantText: mismatchMessage(pending.Type)}, nil
	}

	in, err := provider.DecodePayload(pending.Type, pending.Payload)
	if err != nil {
		// A stored payload that no longer decodes is unrecoverable; drop it
		// so the user is not stuck with an unconfirmable action.
		_ = e.store.ClearPendingAction(ctx, uid)
		return nil, fmt.Errorf("pending action payload: %w", err)
	}

	// Resolve the credential before consuming the slot: a disconnected
	// provider keeps the draft alive so the user can reconnect and confirm.
	client, cred, err := e.resolve(ctx, uid, pending.Provider)
	if err != nil {
		return nil, err
	}

	// The slot is consumed before the side effect fires. If the provider call
	// then fails with an unknown outcome, re-confirming cannot double-send;
	// the user re-proposes instead.
	if err := e.store.ClearPendingAction(ctx, uid); err != nil {
		return nil, err
	}

	result, err := e.dispatch(ctx, uid, client, cred, pending.Provider, pending.Type, in)
	if err != nil {
		return nil, err
	}

	return &Result{
		Outcome:       OutcomeExecuted,
		AssistantText: successMessage(pending.Type, in, result),
		Executed:      pending,
	}, nil
}

// llmTurn runs one model round trip and converts the first proposal tool
// call, if any, into the new pending action.
func (e *Engine) llmTurn(ctx context.Context, uid, text string) (*Result, error) {
	prompt := fmt.Sprintf("%s\n\nCurrent time: %s.\n\n%s",
		systemPromptBase,
		e.now().UTC().Format(time.RFC3339),
		e.contexts.Snapshot(ctx, uid))

	reply, err := e.gateway.Invoke(ctx, uid, prompt, text)
	if err != nil {
		return nil, err
	}

	if len(reply.ToolCalls) > 0 {
		// Only the first tool call becomes pending; the slot holds one
		// action and the proposal message describes exactly one draft.
		return e.propose(ctx, uid, reply.ToolCalls[0])
	}

	answer := reply.AssistantText
	if answer == "" {
		answer = "Sorry, I didn't catch that. Could you rephrase?"
	}
	return &Result{Outcome: OutcomeChat, AssistantText: answer}, nil
}

var toolActions = map[string]provider.ActionType{
	llm.ToolProposeEmail:          provider.ActionSendEmail,
	llm.ToolProposeCalendarEvent:  provider.ActionCreateEvent,
	llm.ToolProposeCalendarDelete: provider.ActionDeleteEvent,
}

func (e *Engine) propose(ctx context.Context, uid string, call llm.ToolCall) (*Result, error) {
	actionType, ok := toolActions[call.Name]
	if !ok {
		return &Result{
			Outcome:       OutcomeChat,
			AssistantText: "Sorry, I couldn't draft that. Could you rephrase?",
		}, nil
	}

	p, err := e.pickProvider(ctx, uid)
	if err != nil {
		return nil, err
	}
	if p == "" {
		return &Result{
			Outcome:       OutcomeChat,
			AssistantText: "No email or calendar account is connected yet. Connect Google or Microsoft in settings first.",
		}, nil
	}

	in, err := decodeToolArguments(actionType, call.Arguments)
	if err == nil {
		err = validateInput(actionType, in)
	}
	if err != nil {
		e.logger.Warn("proposal tool call had unusable arguments",
			logging.Operation("engine.propose"),
			logging.Action(string(actionType)),
			logging.UserHash(uid),
			logging.Err(err))
		return &Result{
			Outcome:       OutcomeChat,
			AssistantText: "I'm missing some details to draft that. Could you spell out what you'd like?",
		}, nil
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode pending payload: %w", err)
	}
	pending := &store.PendingAction{
		Type:      actionType,
		Provider:  p,
		Payload:   payload,
		CreatedAt: e.now(),
	}
	if err := e.store.SetPendingAction(ctx, uid, pending); err != nil {
		return nil, err
	}

	e.logger.Info("action proposed",
		logging.Operation("engine.propose"),
		logging.Action(string(actionType)),
		logging.Provider(string(p)),
		logging.UserHash(uid))

	return &Result{
		Outcome:       OutcomeProposed,
		AssistantText: proposalMessage(actionType, in),
		Pending:       pending,
	}, nil
}

// decodeToolArguments converts the loosely typed tool-call arguments into
// the typed payload for an action.
func decodeToolArguments(t provider.ActionType, args map[string]any) (any, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode tool arguments: %w", err)
	}
	return provider.DecodePayload(t, raw)
}

// pickProvider chooses the provider a new proposal targets: the first
// connected one, Google preferred when both are linked. Empty means no
// provider is connected.
func (e *Engine) pickProvider(ctx context.Context, uid string) (provider.Provider, error) {
	for _, p := range []provider.Provider{provider.Google, provider.Microsoft} {
		if _, err := e.registry.Client(p); err != nil {
			continue
		}
		cred, err := e.store.GetCredential(ctx, uid, p)
		if err != nil {
			return "", err
		}
		if cred != nil {
			return p, nil
		}
	}
	return "", nil
}

// ExecuteAction performs a side-effecting action immediately, outside the
// propose/confirm flow. It backs the direct action endpoints, which exist
// for clients that built their own confirmation UI.
func (e *Engine) ExecuteAction(ctx context.Context, uid string, p provider.Provider, t provider.ActionType, raw json.RawMessage) (any, error) {
	in, err := provider.DecodePayload(t, raw)
	if err != nil {
		return nil, &BadInputError{Field: "payload", Reason: err.Error()}
	}
	if err := validateInput(t, in); err != nil {
		return nil, err
	}
	return e.execute(ctx, uid, p, t, in)
}

// execute routes a validated, typed payload to the provider adapter and
// records the audit trail.
func (e *Engine) execute(ctx context.Context, uid string, p provider.Provider, t provider.ActionType, in any) (any, error) {
	client, cred, err := e.resolve(ctx, uid, p)
	if err != nil {
		return nil, err
	}
	return e.dispatch(ctx, uid, client, cred, p, t, in)
}

// resolve looks up the adapter and stored credential for a provider.
func (e *Engine) resolve(ctx context.Context, uid string, p provider.Provider) (provider.ActionClient, *provider.Credential, error) {
	client, err := e.registry.Client(p)
	if err != nil {
		return nil, nil, &NotConnectedError{Provider: p}
	}
	cred, err := e.store.GetCredential(ctx, uid, p)
	if err != nil {
		return nil, nil, err
	}
	if cred == nil {
		return nil, nil, &NotConnectedError{Provider: p}
	}
	return client, cred, nil
}

func (e *Engine) dispatch(ctx context.Context, uid string, client provider.ActionClient, cred *provider.Credential, p provider.Provider, t provider.ActionType, in any) (any, error) {
	ctx = provider.WithUID(ctx, uid)
	start := e.now()
	var (
		result any
		err    error
	)
	switch t {
	case provider.ActionSendEmail:
		result, err = client.SendMail(ctx, cred, in.(*provider.SendMailInput))
	case provider.ActionCreateEvent:
		result, err = client.CreateCalendarEvent(ctx, cred, in.(*provider.CreateEventInput))
	case provider.ActionDeleteEvent:
		err = client.DeleteCalendarEvent(ctx, cred, in.(*provider.DeleteEventInput).EventID)
	default:
		return nil, &BadInputError{Field: "actionType", Reason: fmt.Sprintf("unknown action type %q", t)}
	}
	if err != nil {
		e.logger.Error("action execution failed",
			logging.Operation("engine.execute"),
			logging.Action(string(t)),
			logging.Provider(string(p)),
			logging.UserHash(uid),
			logging.Err(err))
		return nil, err
	}

	e.contexts.Invalidate(uid)
	e.recorder.ActionExecuted(t, p)
	e.logger.Info("action executed",
		logging.Operation("engine.execute"),
		logging.Action(string(t)),
		logging.Provider(string(p)),
		logging.UserHash(uid),
		slog.Duration(logging.KeyDuration, time.Since(start)))

	return result, nil
}
