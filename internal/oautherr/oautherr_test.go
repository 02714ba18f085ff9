package oautherr

import "testing"

func TestCanRedirectRequiresBothValidationAndWhitelist(t *testing.T) {
	cases := []struct {
		name      string
		code      Code
		validated bool
		want      bool
	}{
		{"safe and validated", AccessDenied, true, true},
		{"safe but unvalidated redirect", AccessDenied, false, false},
		{"validated but unsafe code", InvalidClient, true, false},
		{"server_error never redirected implicitly", ServerError, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := New(tc.code, "", tc.validated)
			if got := e.CanRedirect(); got != tc.want {
				t.Fatalf("CanRedirect() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	if New(InvalidClient, "", false).HTTPStatus() != 401 {
		t.Fatal("invalid_client should map to 401")
	}
	if New(InvalidGrant, "", false).HTTPStatus() != 400 {
		t.Fatal("invalid_grant should map to 400")
	}
	if New(ServerError, "", false).HTTPStatus() != 500 {
		t.Fatal("server_error should map to 500")
	}
}
