package journey_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridianid/authserver/internal/clock"
	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/store"
)

// stubHandler is a minimal journey.StepHandler for exercising the
// executor loop without any real step package dependency.
type stubHandler struct {
	typ string
	fn  func(ec *journey.StepExecutionContext) (*journey.StepResult, error)
}

func (s *stubHandler) Type() string { return s.typ }
func (s *stubHandler) Execute(_ context.Context, ec *journey.StepExecutionContext, _ model.PolicyStep) (*journey.StepResult, error) {
	return s.fn(ec)
}

func newEngine(t *testing.T, registry *journey.Registry) (*journey.Engine, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	return &journey.Engine{
		Policies: s,
		States:   s,
		Registry: registry,
		Services: &journey.Services{Store: s},
		Clock:    clock.NewFrozen(time.Unix(1_700_000_000, 0)),
	}, s
}

func TestEngineRunsStepsToCompletion(t *testing.T) {
	registry := journey.NewRegistry(
		&stubHandler{typ: "step_a", fn: func(ec *journey.StepExecutionContext) (*journey.StepResult, error) {
			return journey.Success(map[string]any{"a": "done"}), nil
		}},
		&stubHandler{typ: "step_b", fn: func(ec *journey.StepExecutionContext) (*journey.StepResult, error) {
			ec.SetAuthenticated("user-1", "pwd")
			return journey.Success(map[string]any{"b": "done"}), nil
		}},
	)
	engine, s := newEngine(t, registry)

	require.NoError(t, s.PutJourneyPolicy(context.Background(), &model.JourneyPolicy{
		TenantID: "t1", ID: "p1",
		Steps: []model.PolicyStep{{ID: "s1", Type: "step_a"}, {ID: "s2", Type: "step_b"}},
	}))

	redirect, err := engine.Start(context.Background(), "t1", "p1", "corr-1")
	require.NoError(t, err)
	require.Contains(t, redirect, "/journey/")
}

func TestEngineSuspendsOnShowUIAndResumes(t *testing.T) {
	registry := journey.NewRegistry(
		&stubHandler{typ: "ask", fn: func(ec *journey.StepExecutionContext) (*journey.StepResult, error) {
			if ec.InputString("answer") == "" {
				return journey.ShowUI("ask", nil), nil
			}
			ec.SetAuthenticated("user-1", "pwd")
			return journey.Success(map[string]any{"answer": ec.InputString("answer")}), nil
		}},
	)
	engine, s := newEngine(t, registry)
	require.NoError(t, s.PutJourneyPolicy(context.Background(), &model.JourneyPolicy{
		TenantID: "t1", ID: "p1",
		Steps: []model.PolicyStep{{ID: "s1", Type: "ask"}},
	}))

	redirect, err := engine.Start(context.Background(), "t1", "p1", "corr-1")
	require.NoError(t, err)
	journeyID := redirect[len("/connect/journey/"):]

	outcome, err := engine.Advance(context.Background(), "t1", journeyID, map[string]any{"answer": "42"})
	require.NoError(t, err)
	require.Equal(t, journey.OutcomeCompleted, outcome.Kind)
	require.NotNil(t, outcome.AuthResult)
	require.Equal(t, "user-1", outcome.AuthResult.UserID)
	require.Equal(t, "42", outcome.AuthResult.Claims["answer"])
}

func TestEngineBranchJumpsToTargetStep(t *testing.T) {
	registry := journey.NewRegistry(
		&stubHandler{typ: "decide", fn: func(ec *journey.StepExecutionContext) (*journey.StepResult, error) {
			return journey.Branch("skip_to", nil), nil
		}},
		&stubHandler{typ: "never", fn: func(ec *journey.StepExecutionContext) (*journey.StepResult, error) {
			panic("should not run")
		}},
		&stubHandler{typ: "finish", fn: func(ec *journey.StepExecutionContext) (*journey.StepResult, error) {
			ec.SetAuthenticated("u1", "pwd")
			return journey.Success(nil), nil
		}},
	)
	engine, s := newEngine(t, registry)
	require.NoError(t, s.PutJourneyPolicy(context.Background(), &model.JourneyPolicy{
		TenantID: "t1", ID: "p1",
		Steps: []model.PolicyStep{
			{ID: "s1", Type: "decide"},
			{ID: "s2", Type: "never"},
			{ID: "skip_to", Type: "finish"},
		},
	}))

	redirect, err := engine.Start(context.Background(), "t1", "p1", "corr-1")
	require.NoError(t, err)
	require.Contains(t, redirect, "/journey/")
}

func TestEngineFailTerminatesJourney(t *testing.T) {
	registry := journey.NewRegistry(
		&stubHandler{typ: "bad", fn: func(ec *journey.StepExecutionContext) (*journey.StepResult, error) {
			return journey.Fail("access_denied", "nope"), nil
		}},
	)
	engine, s := newEngine(t, registry)
	require.NoError(t, s.PutJourneyPolicy(context.Background(), &model.JourneyPolicy{
		TenantID: "t1", ID: "p1",
		Steps: []model.PolicyStep{{ID: "s1", Type: "bad"}},
	}))

	redirect, err := engine.Start(context.Background(), "t1", "p1", "corr-1")
	require.NoError(t, err)
	journeyID := redirect[len("/connect/journey/"):]

	_, err = s.GetJourneyState(context.Background(), "t1", journeyID)
	require.Error(t, err)
}
