package step_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridianid/authserver/internal/clock"
	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/journey/step"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/store"
)

func newTestEngine(t *testing.T, registry *journey.Registry, s *store.MemoryStore) *journey.Engine {
	t.Helper()
	return &journey.Engine{
		Policies: s,
		States:   s,
		Registry: registry,
		Services: &journey.Services{Store: s, Events: nil},
		Clock:    clock.NewFrozen(time.Unix(1_700_000_000, 0)),
	}
}

func TestLocalLoginFailsThenSucceeds(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, s.PutUser(ctx, &model.User{
		TenantID: "t1", SubjectID: "u1", Username: "alice", PasswordHash: hash, Active: true,
	}))
	require.NoError(t, s.PutJourneyPolicy(ctx, &model.JourneyPolicy{
		TenantID: "t1", ID: "p1",
		Steps: []model.PolicyStep{{ID: "s1", Type: step.LocalLoginType}},
	}))

	registry := journey.NewRegistry(&step.LocalLoginHandler{
		Users:   s,
		Lockout: step.LockoutPolicy{MaxFailedAttempts: 2, LockoutDuration: time.Minute},
	})
	engine := newTestEngine(t, registry, s)

	redirect, err := engine.Start(ctx, "t1", "p1", "corr-1")
	require.NoError(t, err)
	journeyID := redirect[len("/connect/journey/"):]

	outcome, err := engine.Advance(ctx, "t1", journeyID, map[string]any{"username": "alice", "password": "wrong"})
	require.NoError(t, err)
	require.Equal(t, journey.OutcomeShowUI, outcome.Kind)
	require.Equal(t, "local_login", outcome.ViewName)

	outcome, err = engine.Advance(ctx, "t1", journeyID, map[string]any{"username": "alice", "password": "correct horse"})
	require.NoError(t, err)
	require.Equal(t, journey.OutcomeCompleted, outcome.Kind)
	require.NotNil(t, outcome.AuthResult)
	require.Equal(t, "u1", outcome.AuthResult.UserID)
}

func TestLocalLoginLocksOutAfterMaxAttempts(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	hash, _ := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, s.PutUser(ctx, &model.User{
		TenantID: "t1", SubjectID: "u1", Username: "bob", PasswordHash: hash, Active: true,
	}))
	require.NoError(t, s.PutJourneyPolicy(ctx, &model.JourneyPolicy{
		TenantID: "t1", ID: "p1",
		Steps: []model.PolicyStep{{ID: "s1", Type: step.LocalLoginType}},
	}))

	registry := journey.NewRegistry(&step.LocalLoginHandler{
		Users:   s,
		Lockout: step.LockoutPolicy{MaxFailedAttempts: 1, LockoutDuration: time.Minute},
	})
	engine := newTestEngine(t, registry, s)

	redirect, err := engine.Start(ctx, "t1", "p1", "corr-1")
	require.NoError(t, err)
	journeyID := redirect[len("/connect/journey/"):]

	outcome, err := engine.Advance(ctx, "t1", journeyID, map[string]any{"username": "bob", "password": "wrong"})
	require.NoError(t, err)
	require.Equal(t, journey.OutcomeShowUI, outcome.Kind)
	require.Equal(t, "account_locked", outcome.ViewName)
}

func TestConditionBranchesOnTrue(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.PutJourneyPolicy(ctx, &model.JourneyPolicy{
		TenantID: "t1", ID: "p1",
		Steps: []model.PolicyStep{
			{ID: "cond", Type: step.ConditionType, Config: map[string]any{
				"conditions": []any{
					map[string]any{"source": "input", "field": "role", "operator": "eq", "value": "admin"},
				},
				"onTrue": "done",
			}},
			{ID: "maybe", Type: "finish_fail"},
			{ID: "done", Type: "finish_ok"},
		},
	}))

	registry := journey.NewRegistry(
		&step.ConditionHandler{},
		finishHandler{typ: "finish_ok", authenticated: true},
		finishHandler{typ: "finish_fail", authenticated: false},
	)
	engine := newTestEngine(t, registry, s)

	redirect, err := engine.Start(ctx, "t1", "p1", "corr-1")
	require.NoError(t, err)
	journeyID := redirect[len("/connect/journey/"):]

	outcome, err := engine.Advance(ctx, "t1", journeyID, map[string]any{"role": "admin"})
	require.NoError(t, err)
	require.Equal(t, journey.OutcomeCompleted, outcome.Kind)
	require.NotNil(t, outcome.AuthResult)
}

type finishHandler struct {
	typ           string
	authenticated bool
}

func (f finishHandler) Type() string { return f.typ }
func (f finishHandler) Execute(_ context.Context, ec *journey.StepExecutionContext, _ model.PolicyStep) (*journey.StepResult, error) {
	if f.authenticated {
		ec.SetAuthenticated("u1", "pwd")
	}
	return journey.Success(nil), nil
}

type seedUserHandler struct{}

func (seedUserHandler) Type() string { return "seed_user" }
func (seedUserHandler) Execute(_ context.Context, ec *journey.StepExecutionContext, _ model.PolicyStep) (*journey.StepResult, error) {
	ec.SetUserID("u1")
	return journey.Success(nil), nil
}

func TestTransformUppercasesField(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.PutJourneyPolicy(ctx, &model.JourneyPolicy{
		TenantID: "t1", ID: "p1",
		Steps: []model.PolicyStep{
			{ID: "seed", Type: "test_gate"},
			{ID: "xform", Type: step.TransformType, Config: map[string]any{
				"mappings": []any{
					map[string]any{"from": "name", "to": "name_upper", "operation": "upper"},
				},
			}},
			{ID: "finish", Type: "finish_ok"},
		},
	}))

	registry := journey.NewRegistry(
		&step.TransformHandler{},
		finishHandler{typ: "finish_ok", authenticated: true},
		gateHandler{},
	)
	engine := newTestEngine(t, registry, s)

	redirect, err := engine.Start(ctx, "t1", "p1", "corr-1")
	require.NoError(t, err)
	_ = redirect

	journeyID := redirect[len("/connect/journey/"):]
	js, err := s.GetJourneyState(ctx, "t1", journeyID)
	if err == nil {
		js.Data["name"] = "alice"
		_, _ = s.Advance(ctx, js)
	}
	outcome, err := engine.Advance(ctx, "t1", journeyID, map[string]any{})
	require.NoError(t, err)
	require.Equal(t, journey.OutcomeCompleted, outcome.Kind)
	require.Equal(t, "ALICE", outcome.AuthResult.Claims["name_upper"])
}

func TestConsentRequiresExplicitGrant(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.PutJourneyPolicy(ctx, &model.JourneyPolicy{
		TenantID: "t1", ID: "p1",
		Steps: []model.PolicyStep{
			{ID: "seed", Type: "seed_user"},
			{ID: "consent", Type: step.ConsentType, Config: map[string]any{"scopes": "openid profile"}},
			{ID: "finish", Type: "finish_ok"},
		},
	}))
	registry := journey.NewRegistry(&step.ConsentHandler{Consents: s}, finishHandler{typ: "finish_ok", authenticated: true}, seedUserHandler{})
	engine := newTestEngine(t, registry, s)

	redirect, err := engine.Start(ctx, "t1", "p1", "corr-1")
	require.NoError(t, err)
	journeyID := redirect[len("/connect/journey/"):]

	outcome, err := engine.Advance(ctx, "t1", journeyID, nil)
	require.NoError(t, err)
	require.Equal(t, journey.OutcomeShowUI, outcome.Kind)
	require.Equal(t, "consent", outcome.ViewName)

	outcome, err = engine.Advance(ctx, "t1", journeyID, map[string]any{"consent": "granted"})
	require.NoError(t, err)
	require.Equal(t, journey.OutcomeCompleted, outcome.Kind)

	record, err := s.GetConsent(ctx, "t1", "u1", "")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"openid", "profile"}, record.Scopes)
}
