package protocol

import (
	"context"
	"errors"
	"net/url"

	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/oautherr"
	"github.com/meridianid/authserver/internal/pkce"
	"github.com/meridianid/authserver/internal/store"
)

// Validate builds and validates an AuthorizeRequest from merged request
// parameters, returning the client it resolved alongside it. Every error
// path reports whether redirect_uri had already been proven to belong to
// the client: until the client and its registered
// redirect_uri are both confirmed, no error may be redirected, however
// well-formed it looks.
//
// viaPAR indicates the parameters originated from a resolved pushed
// authorization request; clients configured with PARRequired must only
// be reached through this path.
func Validate(ctx context.Context, clients store.ClientStore, tenantID string, params url.Values, viaPAR bool) (*AuthorizeRequest, *model.Client, *oautherr.Error) {
	req := fromValues(params)

	if req.ClientID == "" {
		return req, nil, oautherr.New(oautherr.InvalidRequest, "client_id is required", false)
	}

	client, err := clients.GetClient(ctx, tenantID, req.ClientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return req, nil, oautherr.New(oautherr.InvalidRequest, "unknown client_id", false)
		}
		return req, nil, oautherr.New(oautherr.ServerError, "client lookup failed", false)
	}

	if req.RedirectURI == "" {
		return req, client, oautherr.New(oautherr.InvalidRequest, "redirect_uri is required", false)
	}
	if !client.HasRedirectURI(req.RedirectURI) {
		return req, client, oautherr.New(oautherr.InvalidRequest, "redirect_uri is not registered for this client", false)
	}

	// From here on redirect_uri is byte-exact-validated; every subsequent
	// error may report RedirectURIValidated=true.
	if client.PARRequired && !viaPAR {
		return req, client, oautherr.New(oautherr.InvalidRequest, "this client requires pushed authorization requests", true)
	}

	if req.ResponseType != "code" {
		return req, client, oautherr.New(oautherr.UnsupportedResponseType, "only the authorization code response type is supported", true)
	}

	for _, s := range req.Scopes {
		if !client.AllowsScope(s) {
			return req, client, oautherr.New(oautherr.InvalidScope, "scope "+s+" is not permitted for this client", true)
		}
	}

	if client.PKCERequired && req.CodeChallenge == "" {
		return req, client, oautherr.New(oautherr.InvalidRequest, "this client requires a PKCE code_challenge", true)
	}
	if req.CodeChallenge != "" {
		switch req.CodeChallengeMethod {
		case pkce.MethodS256, "":
		case pkce.MethodPlain:
			if !client.PKCEPlainAllowed {
				return req, client, oautherr.New(oautherr.InvalidRequest, "plain code_challenge_method is not permitted for this client", true)
			}
		default:
			return req, client, oautherr.New(oautherr.InvalidRequest, "unsupported code_challenge_method", true)
		}
	}

	if req.ResponseMode != "" && req.ResponseMode != "query" && req.ResponseMode != "fragment" {
		return req, client, oautherr.New(oautherr.InvalidRequest, "unsupported response_mode", true)
	}

	if req.PolicyID == "" {
		req.PolicyID = client.JourneyPolicyByPurpose["authentication"]
	}

	return req, client, nil
}
