package httpapi

import (
	"crypto/rand"
	"math/big"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/oautherr"
)

const (
	defaultDeviceCodeTTL      = 10 * time.Minute
	defaultDevicePollInterval = 5 * time.Second
	userCodeAlphabet          = "BCDFGHJKLMNPQRSTVWXZ" // consonants only, unambiguous on screen
	userCodeLength            = 8
)

type deviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

// deviceAuthorizationHandler services POST /connect/deviceauthorization
// (RFC 8628 §3.1).
func (s *Server) deviceAuthorizationHandler(w http.ResponseWriter, r *http.Request) {
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

	scopes := splitSpace(r.PostForm.Get("scope"))
	if len(scopes) == 0 {
		scopes = append([]string(nil), client.AllowedScopes...)
	}
	for _, sc := range scopes {
		if !client.AllowsScope(sc) {
			writeOAuthError(w, oautherr.New(oautherr.InvalidScope, "scope "+sc+" is not permitted for this client", false))
			return
		}
	}

	userCode, err := generateUserCode()
	if err != nil {
		writeServerError(w, "device authorization", err)
		return
	}

	now := rt.Clock.Now()
	d := &model.DeviceCode{
		TenantID:     rt.Tenant.ID,
		DeviceCode:   uuid.NewString(),
		UserCode:     userCode,
		ClientID:     client.ID,
		Scopes:       scopes,
		Status:       model.DeviceCodePending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(defaultDeviceCodeTTL),
		PollInterval: defaultDevicePollInterval,
	}
	if err := rt.Store.PutDeviceCode(r.Context(), d); err != nil {
		writeServerError(w, "device authorization", err)
		return
	}

	verificationURI := rt.Tenant.Issuer + "/connect/device"
	writeJSON(w, http.StatusOK, deviceAuthorizationResponse{
		DeviceCode:              d.DeviceCode,
		UserCode:                userCode,
		VerificationURI:         verificationURI,
		VerificationURIComplete: verificationURI + "?user_code=" + userCode,
		ExpiresIn:               int64(defaultDeviceCodeTTL.Seconds()),
		Interval:                int64(defaultDevicePollInterval.Seconds()),
	})
}

// generateUserCode produces an RFC 8628-style XXXX-XXXX code from an
// unambiguous alphabet, easy to transcribe from a second screen.
func generateUserCode() (string, error) {
	out := make([]byte, userCodeLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(userCodeAlphabet))))
		if err != nil {
			return "", err
		}
		out[i] = userCodeAlphabet[n.Int64()]
	}
	return string(out[:4]) + "-" + string(out[4:]), nil
}
