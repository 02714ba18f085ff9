package step

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/store"
	"github.com/meridianid/authserver/internal/webhook"
)

// CreateUserType is the "create_user" step type.
const CreateUserType = "create_user"

// UpdateUserType is the "update_user" step type.
const UpdateUserType = "update_user"

// LinkAccountType is the "link_account" step type.
const LinkAccountType = "link_account"

// CreateUserHandler creates a user record from the journey's
// accumulated data, optionally linking an external login. It never
// suspends for UI.
type CreateUserHandler struct {
	Users store.UserStore
}

// Type implements journey.StepHandler.
func (*CreateUserHandler) Type() string { return CreateUserType }

// Execute implements journey.StepHandler.
func (h *CreateUserHandler) Execute(ctx context.Context, ec *journey.StepExecutionContext, step model.PolicyStep) (*journey.StepResult, error) {
	username := firstNonEmpty(ec.DataString("username"), ec.DataString("email"))
	if username == "" {
		return journey.Fail("invalid_request", "create_user: no username or email available in journey data"), nil
	}

	u := &model.User{
		TenantID:      ec.TenantID(),
		SubjectID:     uuid.NewString(),
		Username:      username,
		Email:         ec.DataString("email"),
		EmailVerified: false,
		Active:        true,
		Properties:    map[string]any{},
	}
	for k, v := range ec.Data() {
		u.Properties[k] = v
	}
	if pwd := ec.InputString("password"); pwd != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("step: create_user: hashing password: %w", err)
		}
		u.PasswordHash = hash
	}

	if err := h.Users.PutUser(ctx, u); err != nil {
		return nil, err
	}
	ec.SetUserID(u.SubjectID)
	raiseEvent(ctx, ec.Services().Events, ec.TenantID(), webhook.EventUserCreated, map[string]any{"subject_id": u.SubjectID})

	return journey.Success(map[string]any{"subject_id": u.SubjectID}), nil
}

// UpdateUserHandler writes configured fields/data onto the currently
// established user.
type UpdateUserHandler struct {
	Users store.UserStore
}

// Type implements journey.StepHandler.
func (*UpdateUserHandler) Type() string { return UpdateUserType }

// Execute implements journey.StepHandler.
func (h *UpdateUserHandler) Execute(ctx context.Context, ec *journey.StepExecutionContext, step model.PolicyStep) (*journey.StepResult, error) {
	if ec.UserID() == "" {
		return journey.Fail("invalid_request", "update_user: no user established yet"), nil
	}
	u, err := h.Users.GetUser(ctx, ec.TenantID(), ec.UserID())
	if err != nil {
		return nil, err
	}
	fields, _ := step.Config["fields"].([]any)
	if u.Properties == nil {
		u.Properties = map[string]any{}
	}
	for _, raw := range fields {
		f := fmt.Sprint(raw)
		if v, ok := ec.UserInput()[f]; ok {
			u.Properties[f] = v
		}
	}
	if err := h.Users.PutUser(ctx, u); err != nil {
		return nil, err
	}
	return journey.Success(nil), nil
}

// LinkAccountHandler records an external identity provider's subject as
// linked to the currently established local user.
type LinkAccountHandler struct {
	Users store.UserStore
}

// Type implements journey.StepHandler.
func (*LinkAccountHandler) Type() string { return LinkAccountType }

// Execute implements journey.StepHandler.
func (h *LinkAccountHandler) Execute(ctx context.Context, ec *journey.StepExecutionContext, step model.PolicyStep) (*journey.StepResult, error) {
	if ec.UserID() == "" {
		return journey.Fail("invalid_request", "link_account: no user established yet"), nil
	}
	provider := ec.ConfigString("provider")
	externalSubject := ec.DataString("external_subject")
	if provider == "" || externalSubject == "" {
		return journey.Fail("invalid_request", "link_account: missing provider or external subject"), nil
	}
	u, err := h.Users.GetUser(ctx, ec.TenantID(), ec.UserID())
	if err != nil {
		return nil, err
	}
	if u.Properties == nil {
		u.Properties = map[string]any{}
	}
	links, _ := u.Properties["linked_accounts"].(map[string]any)
	if links == nil {
		links = map[string]any{}
	}
	links[provider] = externalSubject
	u.Properties["linked_accounts"] = links
	if err := h.Users.PutUser(ctx, u); err != nil {
		return nil, err
	}
	return journey.Success(nil), nil
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
