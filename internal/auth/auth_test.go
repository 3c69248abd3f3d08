package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowAllGrantsEverything(t *testing.T) {
	g := AllowAll{}
	decision, err := g.Authorize(context.Background(), Request{ToolName: "anything", SecurityClassification: "dangerous"})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestBearerJWTDeniesMissingToken(t *testing.T) {
	g := NewBearerJWT("test-secret")
	decision, err := g.Authorize(context.Background(), Request{ToolName: "get_weather", SecurityClassification: "safe"})
	require.Error(t, err)
	assert.False(t, decision.Allowed)
}

func TestBearerJWTDeniesBlockedClassificationRegardlessOfPermissions(t *testing.T) {
	g := NewBearerJWT("test-secret")
	token, err := g.Sign("alice", []Permission{PermissionAdmin})
	require.NoError(t, err)

	ctx := WithToken(context.Background(), "Bearer "+token)
	decision, err := g.Authorize(ctx, Request{ToolName: "nuke", SecurityClassification: "blocked"})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestBearerJWTAllowsWhenPermissionGranted(t *testing.T) {
	g := NewBearerJWT("test-secret")
	token, err := g.Sign("alice", []Permission{PermissionInvokeRestricted})
	require.NoError(t, err)

	ctx := WithToken(context.Background(), "Bearer "+token)
	decision, err := g.Authorize(ctx, Request{ToolName: "archive_records", SecurityClassification: "restricted"})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestBearerJWTDeniesWhenPermissionMissing(t *testing.T) {
	g := NewBearerJWT("test-secret")
	token, err := g.Sign("alice", []Permission{PermissionInvokeSafe})
	require.NoError(t, err)

	ctx := WithToken(context.Background(), "Bearer "+token)
	decision, err := g.Authorize(ctx, Request{ToolName: "archive_records", SecurityClassification: "privileged"})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestBearerJWTRejectsTokenSignedWithDifferentSecret(t *testing.T) {
	signer := NewBearerJWT("secret-a")
	token, err := signer.Sign("alice", []Permission{PermissionAdmin})
	require.NoError(t, err)

	verifier := NewBearerJWT("secret-b")
	ctx := WithToken(context.Background(), token)
	decision, err := verifier.Authorize(ctx, Request{ToolName: "get_weather", SecurityClassification: "safe"})
	require.Error(t, err)
	assert.False(t, decision.Allowed)
}

func TestParsePermissionRoundTrips(t *testing.T) {
	for _, p := range AllPermissions() {
		assert.Equal(t, p, ParsePermission(string(p)))
	}
	assert.Equal(t, Permission(""), ParsePermission("not-a-real-permission"))
}
