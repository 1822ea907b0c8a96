// Package auth exposes the bearer credential owned by the session
// collaborator. The tracking core only ever reads it.
package auth

// TokenSource yields the current bearer token for REST calls and the
// streaming handshake. Implementations must be safe for concurrent use.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed credential, typically fed from the environment.
type StaticToken string

func (s StaticToken) Token() string { return string(s) }
