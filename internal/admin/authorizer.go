// Package admin is the operator-facing shell: an injected authorization gate
// in front of read-only dashboard views over learner progress and AI health.
package admin

import (
	"context"

	"golang.org/x/crypto/bcrypt"
)

// Action names a guarded admin capability.
type Action string

const (
	ActionViewOverview  Action = "overview"
	ActionViewLearners  Action = "learners"
	ActionViewAPIHealth Action = "api_health"
	ActionExport        Action = "export"
)

// Authorizer decides whether a presented credential may perform an action.
// How the credential was issued is outside this package.
type Authorizer interface {
	Authorized(ctx context.Context, token string, action Action) bool
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, token string, action Action) bool

func (f AuthorizerFunc) Authorized(ctx context.Context, token string, action Action) bool {
	return f(ctx, token, action)
}

// DenyAll rejects every request. It is the fallback when no admin credential
// is configured.
var DenyAll = AuthorizerFunc(func(context.Context, string, Action) bool { return false })

// TokenAuthorizer grants every action to holders of one shared token, stored
// only as a bcrypt hash.
type TokenAuthorizer struct {
	hash []byte
}

// NewTokenAuthorizer creates an authorizer for the given bcrypt hash.
func NewTokenAuthorizer(hash string) *TokenAuthorizer {
	return &TokenAuthorizer{hash: []byte(hash)}
}

func (a *TokenAuthorizer) Authorized(_ context.Context, token string, _ Action) bool {
	if len(a.hash) == 0 || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.hash, []byte(token)) == nil
}

// HashToken returns the bcrypt hash to configure for token.
func HashToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
