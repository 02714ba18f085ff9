package grant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridianid/authserver/internal/accesspolicy"
	"github.com/meridianid/authserver/internal/store"
)

// PasswordGrantType is the RFC 6749 §4.3 grant type string (Resource
// Owner Password Credentials; deprecated but still supported for
// clients that require it).
const PasswordGrantType = "password"

// LockoutPolicy decides whether repeated failed attempts should lock a
// user out, and for how long.
type LockoutPolicy struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// PasswordHandler implements the Resource Owner Password Credentials
// grant: it authenticates the end user directly against the user
// store, enforcing the same allowed_users/allowed_roles invariant the
// journey-driven flows enforce via internal/accesspolicy.
type PasswordHandler struct {
	Users   store.UserStore
	Access  *accesspolicy.Evaluator
	Issuer  *Issuer
	Lockout LockoutPolicy
	Now     func() time.Time
}

// GrantType implements GrantHandler.
func (h *PasswordHandler) GrantType() string { return PasswordGrantType }

// Handle implements GrantHandler.
func (h *PasswordHandler) Handle(ctx context.Context, req *Request) (*Result, error) {
	username := req.Form.Get("username")
	password := req.Form.Get("password")
	if username == "" || password == "" {
		return nil, fmt.Errorf("grant: password: missing username or password")
	}

	u, err := h.Users.GetUserByUsername(ctx, req.TenantID, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("grant: password: invalid credentials")
		}
		return nil, err
	}

	now := h.now()
	if u.IsLockedOut(now) {
		return nil, fmt.Errorf("grant: password: account locked")
	}
	if !u.Active {
		return nil, fmt.Errorf("grant: password: account inactive")
	}

	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		u.FailedAttempts++
		if h.Lockout.MaxFailedAttempts > 0 && u.FailedAttempts >= h.Lockout.MaxFailedAttempts {
			u.LockedUntil = now.Add(h.Lockout.LockoutDuration)
		}
		_ = h.Users.PutUser(ctx, u)
		return nil, fmt.Errorf("grant: password: invalid credentials")
	}
	u.FailedAttempts = 0

	allowed, err := h.Access.Allowed(req.Client, u.SubjectID, u.Roles)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("grant: password: user not permitted for this client")
	}

	if err := h.Users.PutUser(ctx, u); err != nil {
		return nil, err
	}

	scopes, err := resolveScopes(req.Client, req.RequestedScope)
	if err != nil {
		return nil, err
	}

	accessToken, expiresAt, err := h.Issuer.AccessToken(req.TenantID, req.Client.ID, u.SubjectID, scopes, req.Client.AccessTokenLifetime, req.DPoPThumbprint)
	if err != nil {
		return nil, err
	}

	return &Result{
		AccessToken: accessToken,
		TokenType:   tokenType(req.DPoPThumbprint),
		ExpiresIn:   expiresAt.Sub(now),
		Scopes:      scopes,
	}, nil
}

func (h *PasswordHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
