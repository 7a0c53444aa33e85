// ABOUTME: Tests for JWT verification, actor context propagation, and privilege checks
// ABOUTME: Covers token round-trips, middleware status codes, and the claims checker

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-at-least-32-bytes-long!")

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	token, err := v.Generate("op-1", []string{RoleOperator, RoleAdmin}, time.Hour)
	require.NoError(t, err)

	operatorID, roles, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "op-1", operatorID)
	assert.Equal(t, []string{RoleOperator, RoleAdmin}, roles)
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	token, err := v.Generate("op-1", nil, -time.Minute)
	require.NoError(t, err)

	_, _, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	token, err := NewJWTVerifier([]byte("one-secret-value-32-bytes-long!!")).Generate("op-1", nil, time.Hour)
	require.NoError(t, err)

	_, _, err = NewJWTVerifier(testSecret).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestActorContext_RoundTrip(t *testing.T) {
	actor := &ActorContext{OperatorID: "op-1", Roles: []string{RoleOperator}}
	ctx := WithActor(context.Background(), actor)

	got := ActorFromContext(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "op-1", got.OperatorID)
	assert.True(t, got.IsElevated())
	assert.False(t, got.HasRole(RoleAdmin))

	assert.Nil(t, ActorFromContext(context.Background()))
}

func TestHTTPAuthMiddleware(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	token, err := v.Generate("op-1", []string{RoleOperator}, time.Hour)
	require.NoError(t, err)

	var seen *ActorContext
	handler := HTTPAuthMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid token", "Bearer " + token, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/monitor", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				require.NotNil(t, seen)
				assert.Equal(t, "op-1", seen.OperatorID)
			}
		})
	}
}

func TestClaimsChecker(t *testing.T) {
	checker := ClaimsChecker{}

	operatorCtx := WithActor(context.Background(), &ActorContext{
		OperatorID: "op-1", Roles: []string{RoleOperator},
	})
	adminCtx := WithActor(context.Background(), &ActorContext{
		OperatorID: "op-2", Roles: []string{RoleAdmin},
	})
	viewerCtx := WithActor(context.Background(), &ActorContext{
		OperatorID: "op-3", Roles: []string{"viewer"},
	})

	assert.NoError(t, checker.Authorize(operatorCtx, "op-1", "sync_request"))
	assert.NoError(t, checker.Authorize(adminCtx, "op-2", "reset_metrics"))

	// Reset-class commands need admin.
	assert.ErrorIs(t, checker.Authorize(operatorCtx, "op-1", "reset_metrics"), ErrNotElevated)

	// Viewers may not command at all.
	assert.ErrorIs(t, checker.Authorize(viewerCtx, "op-3", "sync_request"), ErrNotElevated)

	// Identity mismatch or missing actor is rejected.
	assert.ErrorIs(t, checker.Authorize(operatorCtx, "op-9", "sync_request"), ErrNotElevated)
	assert.ErrorIs(t, checker.Authorize(context.Background(), "op-1", "sync_request"), ErrNotElevated)
}
