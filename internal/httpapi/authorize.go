package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/protocol"
)

// authorizeHandler services GET/POST /connect/authorize.
// HTML rendering of the journey/standalone UI lives outside this
// module; this handler's interface to that layer is the same
// ShowUi(viewName, model) instruction the journey engine itself
// produces, surfaced here as JSON so any front-end template layer can
// render it.
func (s *Server) authorizeHandler(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtimeFromRequest(w, r)
	if !ok {
		return
	}

	params, err := protocol.ParseParams(r)
	if err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	auth := rt.Sessions.ResolveAuth(r)

	outcome, err := rt.Coordinator.Authorize(r.Context(), rt.Tenant.ID, params, auth)
	if err != nil {
		writeServerError(w, "authorize", err)
		return
	}
	s.renderAuthorizeOutcome(w, r, rt, outcome)
}

// journeyShowHandler serves the current suspension point of an
// in-progress journey.
func (s *Server) journeyShowHandler(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtimeFromRequest(w, r)
	if !ok {
		return
	}
	journeyID := chi.URLParam(r, "journeyID")

	js, err := rt.Store.GetJourneyState(r.Context(), rt.Tenant.ID, journeyID)
	if err != nil {
		http.Error(w, "journey not found or expired", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, journeyViewResponse{
		JourneyID: js.JourneyID,
		ViewName:  js.PendingView,
		Model:     js.PendingModel,
	})
}

// journeyAdvanceHandler resumes a suspended journey with newly posted
// user input. Every resuming turn validates the posted journey_id
// matches a live, unexpired journey before admitting the input.
func (s *Server) journeyAdvanceHandler(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtimeFromRequest(w, r)
	if !ok {
		return
	}
	journeyID := chi.URLParam(r, "journeyID")

	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}
	if posted := r.PostForm.Get("journey_id"); posted != "" && posted != journeyID {
		http.Error(w, "journey_id mismatch", http.StatusBadRequest)
		return
	}

	input := make(map[string]any, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) == 1 {
			input[k] = v[0]
		} else {
			input[k] = v
		}
	}

	outcome, err := rt.Journeys.Advance(r.Context(), rt.Tenant.ID, journeyID, input)
	if err != nil {
		writeServerError(w, "journey advance", err)
		return
	}
	s.renderJourneyOutcome(w, r, rt, outcome)
}

// renderJourneyOutcome interprets a journey.Outcome produced directly by
// Engine.Advance (as opposed to one folded into an authorize Outcome by
// the coordinator) and either keeps the browser inside the journey or
// hands it back to the authorize endpoint's Resume path on completion.
func (s *Server) renderJourneyOutcome(w http.ResponseWriter, r *http.Request, rt *TenantRuntime, outcome *journey.Outcome) {
	switch outcome.Kind {
	case journey.OutcomeShowUI:
		writeJSON(w, http.StatusOK, journeyViewResponse{JourneyID: outcome.JourneyID, ViewName: outcome.ViewName, Model: outcome.Model})
	case journey.OutcomeRedirect:
		http.Redirect(w, r, outcome.RedirectURL, http.StatusFound)
	case journey.OutcomeCompleted:
		s.resumeAuthorize(w, r, rt, outcome.CorrelationID, outcome.AuthResult)
	case journey.OutcomeError:
		writeErrorPage(w, outcome.ErrorCode, outcome.ErrorDesc)
	default:
		writeServerError(w, "journey outcome", errUnknownOutcome)
	}
}

// resumeAuthorize converts a completed journey's AuthenticationResult
// into a protocol.AuthResult, issues the session cookie (only when
// both user_id and authenticated_at were set by a step does a session
// cookie get issued), and
// re-enters the authorize state machine at its suspension point.
func (s *Server) resumeAuthorize(w http.ResponseWriter, r *http.Request, rt *TenantRuntime, correlationID string, ar *journey.AuthenticationResult) {
	var auth *protocol.AuthResult
	if ar != nil {
		auth = &protocol.AuthResult{
			SubjectID:       ar.UserID,
			AuthenticatedAt: ar.AuthenticatedAt,
			AuthMethod:      ar.AuthMethod,
			IDP:             ar.IDP,
			SessionID:       ar.SessionID,
			Claims:          ar.Claims,
		}
		if auth.Authenticated() {
			if err := rt.Sessions.SetCookie(w, auth); err != nil {
				writeServerError(w, "session cookie", err)
				return
			}
		}
	}

	outcome, err := rt.Coordinator.Resume(r.Context(), rt.Tenant.ID, correlationID, auth)
	if err != nil {
		writeServerError(w, "resume authorize", err)
		return
	}
	s.renderAuthorizeOutcome(w, r, rt, outcome)
}

// renderAuthorizeOutcome interprets a protocol.Outcome: a redirect
// (success or safe error) is sent as a 302; a suspend hands the browser
// to the journey continuation endpoint; an unsafe error renders the
// server's own error page rather than ever redirecting to an
// unvalidated redirect_uri.
func (s *Server) renderAuthorizeOutcome(w http.ResponseWriter, r *http.Request, _ *TenantRuntime, outcome *protocol.Outcome) {
	switch outcome.Kind {
	case protocol.OutcomeRedirect:
		if outcome.State == protocol.StateError && outcome.RedirectURL == "" {
			writeErrorPage(w, "invalid_request", "the request could not be validated and cannot be safely redirected")
			return
		}
		http.Redirect(w, r, outcome.RedirectURL, http.StatusFound)
	case protocol.OutcomeSuspend:
		http.Redirect(w, r, outcome.RedirectURL, http.StatusFound)
	default:
		writeServerError(w, "authorize outcome", errUnknownOutcome)
	}
}

type journeyViewResponse struct {
	JourneyID string         `json:"journey_id"`
	ViewName  string         `json:"view"`
	Model     map[string]any `json:"model,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorPageBody is rendered for an authorize-endpoint error that cannot
// safely be redirected: the server renders its own error page rather
// than redirecting to an unvalidated URI. HTML templating lives in the
// embedding deployment; this is the interface boundary a front-end
// renders from.
type errorPageBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeErrorPage(w http.ResponseWriter, code, description string) {
	writeJSON(w, http.StatusBadRequest, errorPageBody{Error: code, ErrorDescription: description})
}
