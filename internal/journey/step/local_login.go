// Package step implements the built-in JourneyPolicy step handlers,
// one StepHandler per type, registered into
// a journey.Registry by the process composing a tenant's runtime.
package step

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/store"
	"github.com/meridianid/authserver/internal/webhook"
)

// LocalLoginType is the "local_login" step type.
const LocalLoginType = "local_login"

// CompositeLoginType is the "composite_login" step type: the same
// username/password validation as local_login, additionally allowing a
// pre-configured set of alternate identifier fields (e.g. email or
// phone) to stand in for username.
const CompositeLoginType = "composite_login"

// LockoutPolicy mirrors internal/grant's password-grant lockout rule so
// both surfaces apply the same account-lockout semantics.
type LockoutPolicy struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// LocalLoginHandler validates a username/password pair against the user
// store. It validates credentials, records the login, and raises
// UserSignedIn / UserSignInFailed / UserLockedOut events.
type LocalLoginHandler struct {
	Users            store.UserStore
	Lockout          LockoutPolicy
	Composite        bool     // true registers this instance under CompositeLoginType
	IdentifierFields []string // composite mode: extra input fields accepted as the identifier
}

// Type implements journey.StepHandler.
func (h *LocalLoginHandler) Type() string {
	if h.Composite {
		return CompositeLoginType
	}
	return LocalLoginType
}

// Execute implements journey.StepHandler.
func (h *LocalLoginHandler) Execute(ctx context.Context, ec *journey.StepExecutionContext, _ model.PolicyStep) (*journey.StepResult, error) {
	identifier := ec.InputString("username")
	if identifier == "" {
		for _, f := range h.IdentifierFields {
			if v := ec.InputString(f); v != "" {
				identifier = v
				break
			}
		}
	}
	password := ec.InputString("password")
	if identifier == "" || password == "" {
		return journey.ShowUI("local_login", map[string]any{"identifierFields": h.IdentifierFields}), nil
	}

	events := ec.Services().Events
	u, err := h.Users.GetUserByUsername(ctx, ec.TenantID(), identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			raiseEvent(ctx, events, ec.TenantID(), webhook.EventUserSignInFailed, map[string]any{"identifier": identifier})
			// Never disclose whether the username exists.
			return journey.ShowUI("local_login", map[string]any{"error": "invalid_credentials"}), nil
		}
		return nil, err
	}

	now := ec.Now()
	if u.IsLockedOut(now) {
		return journey.ShowUI("account_locked", nil), nil
	}
	if !u.Active {
		return journey.Fail("access_denied", "account is inactive"), nil
	}

	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		u.FailedAttempts++
		locked := false
		if h.Lockout.MaxFailedAttempts > 0 && u.FailedAttempts >= h.Lockout.MaxFailedAttempts {
			u.LockedUntil = now.Add(h.Lockout.LockoutDuration)
			locked = true
		}
		_ = h.Users.PutUser(ctx, u)
		raiseEvent(ctx, events, ec.TenantID(), webhook.EventUserSignInFailed, map[string]any{"subject_id": u.SubjectID})
		if locked {
			raiseEvent(ctx, events, ec.TenantID(), webhook.EventUserLockedOut, map[string]any{"subject_id": u.SubjectID})
			return journey.ShowUI("account_locked", nil), nil
		}
		return journey.ShowUI("local_login", map[string]any{"error": "invalid_credentials"}), nil
	}

	u.FailedAttempts = 0
	if err := h.Users.PutUser(ctx, u); err != nil {
		return nil, err
	}

	ec.SetAuthenticated(u.SubjectID, "pwd")
	raiseEvent(ctx, events, ec.TenantID(), webhook.EventUserSignedIn, map[string]any{"subject_id": u.SubjectID})
	return journey.Success(map[string]any{"email": u.Email}), nil
}

// raiseEvent raises ev on bus if one is configured; steps tolerate a nil
// event bus so unit tests need not wire one up.
func raiseEvent(ctx context.Context, bus *webhook.Bus, tenantID, eventType string, data map[string]any) {
	if bus == nil {
		return
	}
	bus.Raise(ctx, webhook.Event{ID: uuid.NewString(), Type: eventType, TenantID: tenantID, Data: data})
}
