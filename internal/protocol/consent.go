package protocol

import (
	"time"

	"github.com/meridianid/authserver/internal/model"
)

// RequiresConsent reports whether the authorize request must be routed
// through a consent step before an authorization code can be
// issued: required iff prompt=consent, or the client
// requires consent and the subject has not previously consented to every
// requested scope.
func RequiresConsent(client *model.Client, prompt string, existing *model.ConsentRecord, scopes []string, now time.Time) bool {
	if promptIncludes(prompt, "consent") {
		return true
	}
	if !client.ConsentRequired {
		return false
	}
	if existing == nil {
		return true
	}
	return !existing.HasAllScopes(scopes, now)
}
