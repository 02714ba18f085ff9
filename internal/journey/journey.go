// Package journey implements the User Journey Engine: a
// policy-driven, suspendable, multi-step authentication orchestrator. It
// is a data-driven executor that walks a JourneyPolicy's steps,
// persisting state between HTTP turns: resumption is a fresh function
// call that reads state and re-enters the executor loop, never a
// coroutine held across requests.
package journey

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridianid/authserver/internal/clock"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/store"
)

// DefaultTTL is the journey state lifetime applied when none is
// configured. The TTL is refreshed on each advance.
const DefaultTTL = 30 * time.Minute

// ResultKind is the outcome a StepHandler reports after executing.
type ResultKind string

// Step handler result kinds.
const (
	ResultSuccess  ResultKind = "success"
	ResultSkip     ResultKind = "skip"
	ResultShowUI   ResultKind = "show_ui"
	ResultRedirect ResultKind = "redirect"
	ResultBranch   ResultKind = "branch"
	ResultFail     ResultKind = "fail"
)

// StepResult is what a StepHandler.Execute call returns; exactly the
// fields relevant to Kind are consulted by the executor.
type StepResult struct {
	Kind ResultKind

	// ResultSuccess / ResultBranch: merged into JourneyState.Data.
	OutputData map[string]any

	// ResultShowUI.
	ViewName string
	Model    map[string]any

	// ResultRedirect.
	RedirectURL string

	// ResultBranch: step id to jump to.
	TargetStepID string

	// ResultFail.
	FailCode        string
	FailDescription string
}

// Success builds a ResultSuccess result.
func Success(output map[string]any) *StepResult { return &StepResult{Kind: ResultSuccess, OutputData: output} }

// Skip builds a ResultSkip result.
func Skip() *StepResult { return &StepResult{Kind: ResultSkip} }

// ShowUI builds a ResultShowUI result.
func ShowUI(view string, model map[string]any) *StepResult {
	return &StepResult{Kind: ResultShowUI, ViewName: view, Model: model}
}

// Redirect builds a ResultRedirect result.
func Redirect(url string) *StepResult { return &StepResult{Kind: ResultRedirect, RedirectURL: url} }

// Branch builds a ResultBranch result.
func Branch(targetStepID string, output map[string]any) *StepResult {
	return &StepResult{Kind: ResultBranch, TargetStepID: targetStepID, OutputData: output}
}

// Fail builds a ResultFail result.
func Fail(code, description string) *StepResult {
	return &StepResult{Kind: ResultFail, FailCode: code, FailDescription: description}
}

// StepHandler is the executor for a single step type.
// Implementations are registered under a Type() key in a
// Registry and invoked with a StepExecutionContext scoped to the
// currently-advancing journey.
type StepHandler interface {
	Type() string
	Execute(ctx context.Context, ec *StepExecutionContext, step model.PolicyStep) (*StepResult, error)
}

// Registry maps step type -> StepHandler. Immutable after construction,
// mirroring internal/grant's Registry.
type Registry struct {
	handlers map[string]StepHandler
}

// NewRegistry builds a Registry from a fixed set of handlers.
func NewRegistry(handlers ...StepHandler) *Registry {
	m := make(map[string]StepHandler, len(handlers))
	for _, h := range handlers {
		m[h.Type()] = h
	}
	return &Registry{handlers: m}
}

// Lookup returns the handler registered for stepType.
func (r *Registry) Lookup(stepType string) (StepHandler, bool) {
	h, ok := r.handlers[stepType]
	return h, ok
}

// AuthenticationResult is delivered back to the authorize endpoint via
// the correlation id once a journey completes.
type AuthenticationResult struct {
	UserID          string
	SessionID       string
	Scopes          []string
	Claims          model.Claims
	AuthMethod      string
	IDP             string
	AuthenticatedAt time.Time
}

// OutcomeKind distinguishes what the HTTP layer must do after an
// Engine.Start or Engine.Advance call.
type OutcomeKind string

// Outcome kinds.
const (
	OutcomeShowUI    OutcomeKind = "show_ui"
	OutcomeRedirect  OutcomeKind = "redirect"
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeError     OutcomeKind = "error"
)

// Outcome is the result of advancing a journey to its next suspension
// point, completion, or failure.
type Outcome struct {
	Kind            OutcomeKind
	JourneyID       string
	CorrelationID   string
	ViewName        string
	Model           map[string]any
	RedirectURL     string
	ErrorCode       string
	ErrorDesc       string
	AuthResult      *AuthenticationResult
}

// Engine runs the executor loop over JourneyState instances.
type Engine struct {
	Policies store.JourneyPolicyStore
	States   store.JourneyStateStore
	Registry *Registry
	Services *Services
	Clock    clock.Clock
	TTL      time.Duration
}

func (e *Engine) ttl() time.Duration {
	if e.TTL > 0 {
		return e.TTL
	}
	return DefaultTTL
}

// Start begins a new journey for a suspended authorize request,
// implementing protocol.JourneyStarter so internal/protocol never
// imports this package directly; relationships cross package
// boundaries as opaque ids, never as object references.
func (e *Engine) Start(ctx context.Context, tenantID, policyID, correlationID string) (string, error) {
	now := e.Clock.Now()
	js := &model.JourneyState{
		TenantID:      tenantID,
		JourneyID:     uuid.NewString(),
		PolicyID:      policyID,
		CorrelationID: correlationID,
		CurrentStep:   0,
		Data:          map[string]any{},
		UserInput:     map[string]any{},
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(e.ttl()),
	}
	if err := e.States.PutJourneyState(ctx, js); err != nil {
		return "", fmt.Errorf("journey: start: %w", err)
	}

	outcome, err := e.run(ctx, js, nil)
	if err != nil {
		return "", err
	}
	switch outcome.Kind {
	case OutcomeRedirect:
		return outcome.RedirectURL, nil
	default:
		// Journey-mode UI: the HTTP layer resolves journeyID to a
		// rendering surface; the redirect target is the journey's own
		// continuation URL.
		return "/connect/journey/" + js.JourneyID, nil
	}
}

// Advance resumes an in-progress journey with newly posted user input
// when an external callback re-enters the journey.
// Every resuming turn validates the journey exists and has
// not expired before admitting the input.
func (e *Engine) Advance(ctx context.Context, tenantID, journeyID string, userInput map[string]any) (*Outcome, error) {
	js, err := e.States.GetJourneyState(ctx, tenantID, journeyID)
	if err != nil {
		return nil, fmt.Errorf("journey: advance: %w", err)
	}
	if js.IsExpired(e.Clock.Now()) {
		return &Outcome{Kind: OutcomeError, ErrorCode: "invalid_request", ErrorDesc: "journey expired"}, nil
	}
	return e.run(ctx, js, userInput)
}

// run executes steps starting at js.CurrentStep until the journey
// suspends (ShowUI/Redirect), completes, or fails.
func (e *Engine) run(ctx context.Context, js *model.JourneyState, userInput map[string]any) (*Outcome, error) {
	policy, err := e.Policies.GetJourneyPolicy(ctx, js.TenantID, js.PolicyID)
	if err != nil {
		return nil, fmt.Errorf("journey: loading policy %q: %w", js.PolicyID, err)
	}
	if userInput != nil {
		js.UserInput = userInput
	}

	for {
		if js.CurrentStep >= len(policy.Steps) {
			return e.complete(ctx, js)
		}

		step := policy.Steps[js.CurrentStep]
		handler, ok := e.Registry.Lookup(step.Type)
		if !ok {
			return e.fail(ctx, js, "server_error", fmt.Sprintf("no handler registered for step type %q", step.Type))
		}

		js.PendingView = ""
		js.PendingModel = nil

		ec := &StepExecutionContext{
			ctx:      ctx,
			state:    js,
			step:     step,
			services: e.Services,
			now:      e.Clock.Now(),
		}
		result, err := handler.Execute(ctx, ec, step)
		if err != nil {
			return e.fail(ctx, js, "server_error", err.Error())
		}

		js.UpdatedAt = e.Clock.Now()
		js.ExpiresAt = js.UpdatedAt.Add(e.ttl())

		switch result.Kind {
		case ResultSuccess:
			mergeData(js, result.OutputData)
			js.CurrentStep++
			// Once the input that drove this step has been consumed,
			// clear it so a stale field doesn't leak into the next step.
			js.UserInput = map[string]any{}
			if ok, err := e.States.Advance(ctx, js); err != nil {
				return nil, err
			} else if !ok {
				return nil, fmt.Errorf("journey: %s: state stale, concurrent advance detected", js.JourneyID)
			}
			continue

		case ResultSkip:
			js.CurrentStep++
			if ok, err := e.States.Advance(ctx, js); err != nil {
				return nil, err
			} else if !ok {
				return nil, fmt.Errorf("journey: %s: state stale, concurrent advance detected", js.JourneyID)
			}
			continue

		case ResultBranch:
			mergeData(js, result.OutputData)
			js.UserInput = map[string]any{}
			idx, ok := stepIndex(policy, result.TargetStepID)
			if !ok {
				return e.fail(ctx, js, "server_error", fmt.Sprintf("branch target %q not found", result.TargetStepID))
			}
			js.CurrentStep = idx
			if ok, err := e.States.Advance(ctx, js); err != nil {
				return nil, err
			} else if !ok {
				return nil, fmt.Errorf("journey: %s: state stale, concurrent advance detected", js.JourneyID)
			}
			continue

		case ResultShowUI:
			js.PendingView = result.ViewName
			js.PendingModel = result.Model
			if ok, err := e.States.Advance(ctx, js); err != nil {
				return nil, err
			} else if !ok {
				return nil, fmt.Errorf("journey: %s: state stale, concurrent advance detected", js.JourneyID)
			}
			return &Outcome{Kind: OutcomeShowUI, JourneyID: js.JourneyID, CorrelationID: js.CorrelationID, ViewName: result.ViewName, Model: result.Model}, nil

		case ResultRedirect:
			if ok, err := e.States.Advance(ctx, js); err != nil {
				return nil, err
			} else if !ok {
				return nil, fmt.Errorf("journey: %s: state stale, concurrent advance detected", js.JourneyID)
			}
			return &Outcome{Kind: OutcomeRedirect, JourneyID: js.JourneyID, CorrelationID: js.CorrelationID, RedirectURL: result.RedirectURL}, nil

		case ResultFail:
			return e.fail(ctx, js, result.FailCode, result.FailDescription)

		default:
			return e.fail(ctx, js, "server_error", fmt.Sprintf("unknown step result kind %q", result.Kind))
		}
	}
}

func (e *Engine) complete(ctx context.Context, js *model.JourneyState) (*Outcome, error) {
	_ = e.States.DeleteJourneyState(ctx, js.TenantID, js.JourneyID)

	if !js.Authenticated() {
		// Without both UserID and authenticated_at set, no session
		// cookie may be issued. Still report Completed so the protocol
		// layer can decide (e.g. a standalone registration-only policy).
		return &Outcome{Kind: OutcomeCompleted, JourneyID: js.JourneyID, CorrelationID: js.CorrelationID}, nil
	}

	ar := &AuthenticationResult{
		UserID:          js.UserID,
		SessionID:       js.JourneyID,
		AuthMethod:      js.AuthMethod,
		IDP:             js.IDP,
		AuthenticatedAt: js.AuthenticatedAt,
		Claims:          claimsFromData(js.Data),
	}
	if scopes, ok := js.Data["scopes"].([]string); ok {
		ar.Scopes = scopes
	}
	return &Outcome{Kind: OutcomeCompleted, JourneyID: js.JourneyID, CorrelationID: js.CorrelationID, AuthResult: ar}, nil
}

func (e *Engine) fail(ctx context.Context, js *model.JourneyState, code, description string) (*Outcome, error) {
	_ = e.States.DeleteJourneyState(ctx, js.TenantID, js.JourneyID)
	return &Outcome{Kind: OutcomeError, JourneyID: js.JourneyID, CorrelationID: js.CorrelationID, ErrorCode: code, ErrorDesc: description}, nil
}

func mergeData(js *model.JourneyState, data map[string]any) {
	if js.Data == nil {
		js.Data = map[string]any{}
	}
	for k, v := range data {
		js.Data[k] = v
	}
}

func stepIndex(p *model.JourneyPolicy, stepID string) (int, bool) {
	for i, s := range p.Steps {
		if s.ID == stepID {
			return i, true
		}
	}
	return 0, false
}

func claimsFromData(data map[string]any) model.Claims {
	claims := model.Claims{}
	for k, v := range data {
		claims[k] = v
	}
	return claims
}
