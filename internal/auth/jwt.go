package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mcpfed/mcpfed/internal/mcperr"
)

// claims is the minimal shape BearerJWT expects in a verified token: a
// subject identifying the principal and a "perms" claim listing the
// Permission strings it carries.
type claims struct {
	jwt.RegisteredClaims
	Perms []string `json:"perms"`
}

// BearerJWT authorizes requests by verifying a caller-supplied bearer token
// against a fixed HMAC secret and mapping its "perms" claim to Permissions.
type BearerJWT struct {
	secret []byte
}

// NewBearerJWT builds a BearerJWT gate signing/verifying with secret.
func NewBearerJWT(secret string) *BearerJWT {
	return &BearerJWT{secret: []byte(secret)}
}

// tokenContextKey is how callers attach the raw bearer token to a request's
// context (via WithToken) before invoking Authorize. No transport in
// internal/mcpcore calls WithToken, so a tool call arriving through the MCP
// server carries no token and BearerJWT denies it as missing.
type tokenContextKey struct{}

// WithToken returns a context carrying token for later Authorize calls.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

func tokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenContextKey{}).(string)
	return strings.TrimPrefix(t, "Bearer ")
}

// Authorize verifies the bearer token attached to ctx and checks its
// permissions against the classification required for req.ToolName. A
// "blocked" classification is never satisfiable.
func (g *BearerJWT) Authorize(ctx context.Context, req Request) (Decision, error) {
	if req.SecurityClassification == "blocked" {
		return Decision{Allowed: false, Reason: "tool is blocked"}, nil
	}

	raw := tokenFromContext(ctx)
	if raw == "" {
		return Decision{Allowed: false, Reason: "missing bearer token"}, mcperr.New(mcperr.KindAuthenticationFailed, "missing bearer token")
	}

	var parsed claims
	token, err := jwt.ParseWithClaims(raw, &parsed, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil || !token.Valid {
		return Decision{Allowed: false, Reason: "invalid bearer token"}, mcperr.Wrap(mcperr.KindAuthenticationFailed, "invalid bearer token", err)
	}

	perms := make([]Permission, 0, len(parsed.Perms))
	for _, p := range parsed.Perms {
		if perm := ParsePermission(p); perm != "" {
			perms = append(perms, perm)
		}
	}

	required := requiredFor(req.SecurityClassification)
	if !hasPermission(perms, required) {
		return Decision{Allowed: false, Permissions: perms, Reason: fmt.Sprintf("missing permission %q", required)}, nil
	}

	return Decision{Allowed: true, Permissions: perms, Reason: fmt.Sprintf("granted via permission %q", required)}, nil
}

// Sign issues an HS256 bearer token for subject carrying perms, signed with
// the same secret Authorize verifies against.
func (g *BearerJWT) Sign(subject string, perms []Permission) (string, error) {
	permStrings := make([]string, len(perms))
	for i, p := range perms {
		permStrings[i] = string(p)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
		Perms:            permStrings,
	})
	return token.SignedString(g.secret)
}
