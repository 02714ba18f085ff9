package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/oautherr"
	"github.com/meridianid/authserver/internal/store"
)

// authenticateClient resolves and authenticates the client presenting a
// request to the token, introspection, revocation, PAR, or device
// authorization endpoints.
//
// Of the standard client-authentication mechanisms, this module
// implements client_secret_basic/client_secret_post and the
// public-client (no secret, PKCE-bound) path directly. JWT-assertion
// and mTLS client authentication are delegated to an external reverse
// proxy/gateway the way mTLS termination always is; a deployment that
// needs them fronts this server with one that injects an equivalent
// verified client_id.
func authenticateClient(ctx context.Context, clients store.ClientStore, tenantID string, r *http.Request, form url.Values) (*model.Client, *oautherr.Error) {
	clientID, secret, hasBasic := r.BasicAuth()
	if !hasBasic {
		clientID = form.Get("client_id")
		secret = form.Get("client_secret")
	}
	if clientID == "" {
		return nil, oautherr.New(oautherr.InvalidClient, "client authentication is required", false)
	}

	client, err := clients.GetClient(ctx, tenantID, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, oautherr.New(oautherr.InvalidClient, "unknown client", false)
		}
		return nil, oautherr.New(oautherr.ServerError, "client lookup failed", false)
	}

	if client.Public {
		// Public clients authenticate via possession of a valid PKCE
		// code_verifier at the grant layer, not a client secret; a secret
		// presented anyway is simply ignored rather than rejected.
		return client, nil
	}

	if len(client.SecretHash) == 0 || secret == "" {
		return nil, oautherr.New(oautherr.InvalidClient, "client secret is required", false)
	}
	if err := bcrypt.CompareHashAndPassword(client.SecretHash, []byte(secret)); err != nil {
		return nil, oautherr.New(oautherr.InvalidClient, "invalid client secret", false)
	}
	return client, nil
}
