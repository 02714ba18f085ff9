package accesspolicy

import (
	"testing"

	"github.com/meridianid/authserver/internal/model"
)

func TestAllowedWithNoRestrictionsPermitsEveryone(t *testing.T) {
	e := NewEvaluator()
	client := &model.Client{ID: "web-app"}
	ok, err := e.Allowed(client, "anyone", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("a client with no allowed_users/allowed_roles must permit any subject")
	}
}

func TestAllowedUserMatch(t *testing.T) {
	e := NewEvaluator()
	client := &model.Client{ID: "web-app", AllowedUsers: []string{"alice"}}

	ok, err := e.Allowed(client, "alice", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("alice should be allowed")
	}

	ok, err = e.Allowed(client, "bob", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("bob should not be allowed")
	}
}

func TestAllowedRoleMatch(t *testing.T) {
	e := NewEvaluator()
	client := &model.Client{ID: "web-app", AllowedRoles: []string{"admin"}}

	ok, err := e.Allowed(client, "bob", []string{"admin"})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("a user carrying an allowed role should be permitted")
	}

	ok, err = e.Allowed(client, "carol", []string{"support"})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("a user without the allowed role should be denied")
	}
}
