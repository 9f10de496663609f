package session

import (
	"fmt"

	"github.com/memoryvault/client/internal/types"
)

// Status is the authentication state of the running client.
type Status int

const (
	// Unresolved is the startup state before Initialize completes.
	Unresolved Status = iota
	// Authenticating covers an in-flight login or register call.
	Authenticating
	// Authenticated means a confirmed user and credential are present.
	Authenticated
	// Unauthenticated means no usable credential.
	Unauthenticated
)

func (s Status) String() string {
	switch s {
	case Unresolved:
		return "Unresolved"
	case Authenticating:
		return "Authenticating"
	case Authenticated:
		return "Authenticated"
	case Unauthenticated:
		return "Unauthenticated"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Reasons attached to a Change.
const (
	ReasonRehydrated   = "rehydrated"
	ReasonNoCredential = "no_credential"
	ReasonExpired      = "credential_expired"
	ReasonRejected     = "credential_rejected"
	ReasonLogin        = "login"
	ReasonRegister     = "register"
	ReasonAuthFailed   = "auth_failed"
	ReasonLogout       = "logout"
	ReasonUnauthorized = "unauthorized"
)

// Change describes one status transition.
type Change struct {
	From   Status
	To     Status
	User   *types.User // set when To == Authenticated
	Reason string
}

// LeftAuthenticated reports whether the change ends an authenticated session.
func (c Change) LeftAuthenticated() bool {
	return c.From == Authenticated && c.To != Authenticated
}

// Snapshot is a consistent view of the session.
type Snapshot struct {
	Status        Status
	User          *types.User
	HasCredential bool
}
