// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts JWT from Authorization header and adds the actor to context

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates
// JWT tokens and attaches the ActorContext for downstream handlers.
func HTTPAuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			operatorID, roles, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			actor := &ActorContext{OperatorID: operatorID, Roles: roles}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// ErrNotElevated is returned when an actor lacks the role a command needs.
var ErrNotElevated = errors.New("operator lacks elevated privilege")

// ClaimsChecker authorizes commands from the roles carried in the request's
// ActorContext. Coordination commands need operator or admin; destructive
// reset-class commands need admin.
type ClaimsChecker struct{}

// Authorize implements the orchestrator's privilege check.
func (ClaimsChecker) Authorize(ctx context.Context, operatorID, command string) error {
	actor := ActorFromContext(ctx)
	if actor == nil || actor.OperatorID != operatorID {
		return ErrNotElevated
	}
	if strings.HasPrefix(command, "reset") && !actor.HasRole(RoleAdmin) {
		return ErrNotElevated
	}
	if !actor.IsElevated() {
		return ErrNotElevated
	}
	return nil
}
