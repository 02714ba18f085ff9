package step_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridianid/authserver/internal/clock"
	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/journey/step"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/store"
)

// fakeSender captures messages sent through it, standing in for the
// email/SMS gateways the passwordless step delegates to.
type fakeSender struct {
	to, subject, body string
	calls             int
	err               error
}

func (f *fakeSender) Send(_ context.Context, to, subject, body string) error {
	f.calls++
	f.to, f.subject, f.body = to, subject, body
	return f.err
}

// lastCode extracts the OTP code fakeSender captured from its body,
// which always reads "Your code is <code>".
func (f *fakeSender) lastCode() string {
	const prefix = "Your code is "
	if len(f.body) <= len(prefix) {
		return ""
	}
	return f.body[len(prefix):]
}

// fakeFIDO2 is a scriptable FIDO2Verifier test double.
type fakeFIDO2 struct {
	assertOK   bool
	registerOK bool
}

func (f *fakeFIDO2) BeginAssertion(_ context.Context, _, _ string) (map[string]any, error) {
	return map[string]any{"challenge": "abc"}, nil
}

func (f *fakeFIDO2) VerifyAssertion(_ context.Context, _, _ string, _ map[string]any) (bool, error) {
	return f.assertOK, nil
}

func (f *fakeFIDO2) BeginRegistration(_ context.Context, _, _ string) (map[string]any, error) {
	return map[string]any{"challenge": "xyz"}, nil
}

func (f *fakeFIDO2) FinishRegistration(_ context.Context, _, _ string, _ map[string]any) (bool, error) {
	return f.registerOK, nil
}

func newServicesEngine(t *testing.T, registry *journey.Registry, s *store.MemoryStore, services *journey.Services) *journey.Engine {
	t.Helper()
	services.Store = s
	return &journey.Engine{
		Policies: s,
		States:   s,
		Registry: registry,
		Services: services,
		Clock:    clock.NewFrozen(time.Unix(1_700_000_000, 0)),
	}
}

func TestPasswordlessEmailSendsCodeAndAuthenticates(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.PutUser(ctx, &model.User{
		TenantID: "t1", SubjectID: "u1", Username: "alice", Email: "alice@example.com", Active: true,
	}))
	require.NoError(t, s.PutJourneyPolicy(ctx, &model.JourneyPolicy{
		TenantID: "t1", ID: "p1",
		Steps: []model.PolicyStep{
			{ID: "pwl", Type: step.PasswordlessEmailType},
		},
	}))

	sender := &fakeSender{}
	registry := journey.NewRegistry(&step.PasswordlessHandler{Users: s})
	engine := newServicesEngine(t, registry, s, &journey.Services{Email: sender})

	redirect, err := engine.Start(ctx, "t1", "p1", "corr-1")
	require.NoError(t, err)
	journeyID := redirect[len("/connect/journey/"):]

	outcome, err := engine.Advance(ctx, "t1", journeyID, map[string]any{"identifier": "alice"})
	require.NoError(t, err)
	require.Equal(t, journey.OutcomeShowUI, outcome.Kind)
	require.Equal(t, "passwordless_challenge", outcome.ViewName)
	require.Equal(t, 1, sender.calls)
	require.Equal(t, "alice@example.com", sender.to)

	code := sender.lastCode()
	require.NotEmpty(t, code)

	outcome, err = engine.Advance(ctx, "t1", journeyID, map[string]any{"code": "000000"})
	require.NoError(t, err)
	require.Equal(t, journey.OutcomeShowUI, outcome.Kind)
	require.Equal(t, "passwordless_challenge", outcome.ViewName)
	require.Equal(t, "invalid_code", outcome.Model["error"])

	outcome, err = engine.Advance(ctx, "t1", journeyID, map[string]any{"code": code})
	require.NoError(t, err)
	require.Equal(t, journey.OutcomeCompleted, outcome.Kind)
	require.NotNil(t, outcome.AuthResult)
	require.Equal(t, "u1", outcome.AuthResult.UserID)
	require.Equal(t, "email_otp", outcome.AuthResult.AuthMethod)
}

func TestPasswordlessSMSUnknownIdentifierDoesNotDisclose(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.PutJourneyPolicy(ctx, &model.JourneyPolicy{
		TenantID: "t1", ID: "p1",
		Steps: []model.PolicyStep{
			{ID: "pwl", Type: step.PasswordlessSMSType},
		},
	}))

	sender := &fakeSender{}
	registry := journey.NewRegistry(&step.PasswordlessHandler{Users: s, SMS: true})
	engine := newServicesEngine(t, registry, s, &journey.Services{SMS: sender})

	redirect, err := engine.Start(ctx, "t1", "p1", "corr-1")
	require.NoError(t, err)
	journeyID := redirect[len("/connect/journey/"):]

	outcome, err := engine.Advance(ctx, "t1", journeyID, map[string]any{"identifier": "ghost"})
	require.NoError(t, err)
	require.Equal(t, journey.OutcomeShowUI, outcome.Kind)
	require.Equal(t, "passwordless_sent", outcome.ViewName)
	require.Equal(t, 0, sender.calls)
}

func TestFIDO2LoginChallengeAndVerify(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.PutJourneyPolicy(ctx, &model.JourneyPolicy{
		TenantID: "t1", ID: "p1",
		Steps: []model.PolicyStep{
			{ID: "fido", Type: step.FIDO2LoginType},
		},
	}))

	verifier := &fakeFIDO2{assertOK: false}
	registry := journey.NewRegistry(&step.FIDO2LoginHandler{})
	engine := newServicesEngine(t, registry, s, &journey.Services{FIDO2: verifier})

	redirect, err := engine.Start(ctx, "t1", "p1", "corr-1")
	require.NoError(t, err)
	journeyID := redirect[len("/connect/journey/"):]

	outcome, err := engine.Advance(ctx, "t1", journeyID, map[string]any{"username": "alice"})
	require.NoError(t, err)
	require.Equal(t, journey.OutcomeShowUI, outcome.Kind)
	require.Equal(t, "fido2_login_challenge", outcome.ViewName)

	outcome, err = engine.Advance(ctx, "t1", journeyID, map[string]any{"assertion": "bad"})
	require.NoError(t, err)
	require.Equal(t, journey.OutcomeShowUI, outcome.Kind)
	require.Equal(t, "invalid_assertion", outcome.Model["error"])

	verifier.assertOK = true
	outcome, err = engine.Advance(ctx, "t1", journeyID, map[string]any{"assertion": "good"})
	require.NoError(t, err)
	require.Equal(t, journey.OutcomeCompleted, outcome.Kind)
	require.Equal(t, "alice", outcome.AuthResult.UserID)
	require.Equal(t, "fido2", outcome.AuthResult.AuthMethod)
}

// gateHandler shows a UI once so a journey suspends before the step
// under test runs, letting the test observe that step's outcome via
// Advance rather than having it run (and fail) silently inside Start.
type gateHandler struct{}

func (gateHandler) Type() string { return "test_gate" }
func (gateHandler) Execute(_ context.Context, ec *journey.StepExecutionContext, _ model.PolicyStep) (*journey.StepResult, error) {
	if ec.DataString("gated") == "" {
		ec.Data()["gated"] = "1"
		return journey.ShowUI("gate", nil), nil
	}
	return journey.Success(nil), nil
}

func TestFIDO2RegisterRequiresEstablishedUser(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.PutJourneyPolicy(ctx, &model.JourneyPolicy{
		TenantID: "t1", ID: "p1",
		Steps: []model.PolicyStep{
			{ID: "gate", Type: "test_gate"},
			{ID: "reg", Type: step.FIDO2RegisterType},
		},
	}))

	verifier := &fakeFIDO2{registerOK: true}
	registry := journey.NewRegistry(gateHandler{}, &step.FIDO2RegisterHandler{})
	engine := newServicesEngine(t, registry, s, &journey.Services{FIDO2: verifier})

	redirect, err := engine.Start(ctx, "t1", "p1", "corr-1")
	require.NoError(t, err)
	journeyID := redirect[len("/connect/journey/"):]

	outcome, err := engine.Advance(ctx, "t1", journeyID, nil)
	require.NoError(t, err)
	require.Equal(t, journey.OutcomeError, outcome.Kind)
}
