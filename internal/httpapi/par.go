package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/meridianid/authserver/internal/oautherr"
	"github.com/meridianid/authserver/internal/protocol"
)

type parResponse struct {
	RequestURI string `json:"request_uri"`
	ExpiresIn  int64  `json:"expires_in"`
}

// parHandler services POST /connect/par (RFC 9126).
// The pushed parameters are validated exactly as a direct authorize
// request would be, so a malformed pushed request is rejected up front
// rather than deferred to authorize-time resolution; viaPAR=true is
// passed to Validate because this *is* the PAR-required client's
// sanctioned entry point, not a use of an already-resolved request_uri.
func (s *Server) parHandler(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtimeFromRequest(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oautherr.New(oautherr.InvalidRequest, "malformed request body", false))
		return
	}

	client, cErr := authenticateClient(r.Context(), rt.Store, rt.Tenant.ID, r, r.PostForm)
	if cErr != nil {
		writeOAuthError(w, cErr)
		return
	}

	if r.PostForm.Get("client_id") == "" {
		r.PostForm.Set("client_id", client.ID)
	} else if r.PostForm.Get("client_id") != client.ID {
		writeOAuthError(w, oautherr.New(oautherr.InvalidRequest, "client_id does not match the authenticated client", false))
		return
	}

	_, _, vErr := protocol.Validate(r.Context(), rt.Store, rt.Tenant.ID, r.PostForm, true)
	if vErr != nil {
		writeOAuthError(w, vErr)
		return
	}

	requestURI, expiresIn, err := rt.PAR.Push(r.Context(), rt.Tenant.ID, client.ID, r.PostForm)
	if err != nil {
		writeServerError(w, "par push", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(parResponse{RequestURI: requestURI, ExpiresIn: int64(expiresIn.Seconds())})
}
