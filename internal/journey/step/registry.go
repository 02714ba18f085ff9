package step

import (
	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/store"
)

// Dependencies bundles the store handles the built-in step handlers
// need beyond the tenant-scoped Services bundle already reachable
// through StepExecutionContext. Stores are wired here since they are
// specific to each step's persistence, not shared tenant-wide state.
type Dependencies struct {
	Users    store.UserStore
	Consents store.ConsentStore
	Lockout  LockoutPolicy
}

// NewDefaultRegistry builds a journey.Registry carrying one handler per
// built-in step type, including both the
// local_login and composite_login registrations of LocalLoginHandler
// and the claims_collection/dynamic_form registrations of
// ClaimsCollectionHandler (same engine, distinct policy vocabulary
// entries).
func NewDefaultRegistry(deps Dependencies) *journey.Registry {
	return journey.NewRegistry(
		&LocalLoginHandler{Users: deps.Users, Lockout: deps.Lockout},
		&LocalLoginHandler{Users: deps.Users, Lockout: deps.Lockout, Composite: true},
		&ExternalIDPHandler{Users: deps.Users},
		&MFAHandler{Users: deps.Users},
		&ConsentHandler{Consents: deps.Consents},
		&ClaimsCollectionHandler{},
		&ClaimsCollectionHandler{DynamicForm: true},
		&TermsAcceptanceHandler{Users: deps.Users},
		&PasswordResetHandler{Users: deps.Users},
		&CreateUserHandler{Users: deps.Users},
		&UpdateUserHandler{Users: deps.Users},
		&LinkAccountHandler{Users: deps.Users},
		&ConditionHandler{},
		&BranchHandler{},
		&TransformHandler{},
		&APICallHandler{},
		&WebhookStepHandler{},
		&CustomPluginHandler{},
		&CaptchaHandler{},
		&FIDO2LoginHandler{},
		&FIDO2RegisterHandler{},
		&PasswordlessHandler{Users: deps.Users},
		&PasswordlessHandler{Users: deps.Users, SMS: true},
	)
}
