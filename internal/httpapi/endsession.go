package httpapi

import "net/http"

// endSessionHandler services GET /connect/endsession, the OIDC RP-Initiated
// Logout endpoint: it clears the session cookie and, if a
// post_logout_redirect_uri was supplied, sends the browser there. The
// value is not checked against any list registered for the client.
func (s *Server) endSessionHandler(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtimeFromRequest(w, r)
	if !ok {
		return
	}
	rt.Sessions.ClearCookie(w)

	if redirect := r.URL.Query().Get("post_logout_redirect_uri"); redirect != "" {
		http.Redirect(w, r, redirect, http.StatusFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
