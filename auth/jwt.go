package auth

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"communitychat/models"
)

// Claim names seen in tokens from the community backend. ASP.NET style
// issuers use the long WS-Federation URIs.
var (
	userIDClaims = []string{
		"user_id",
		"sub",
		"nameid",
		"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier",
	}
	roleClaims = []string{
		"role",
		"roles",
		"user_role",
		"http://schemas.microsoft.com/ws/2008/06/identity/claims/role",
	}
	nameClaims = []string{
		"display_name",
		"name",
		"unique_name",
		"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name",
	}
)

// JWTVerifier validates HMAC-signed JWTs
type JWTVerifier struct {
	secret []byte
	leeway time.Duration
}

// NewJWTVerifier returns a verifier for tokens signed with secret
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), leeway: 30 * time.Second}
}

func (v *JWTVerifier) Verify(_ context.Context, tokenStr string) (models.Identity, error) {
	if tokenStr == "" {
		return models.Identity{}, ErrMissingToken
	}
	if len(v.secret) == 0 {
		return models.Identity{}, reject("jwt secret not configured")
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil || !token.Valid {
		return models.Identity{}, reject("invalid token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Identity{}, reject("unexpected claims type")
	}
	return IdentityFromClaims(claims)
}

// IdentityFromClaims extracts user id, role and display name from a
// verified claim set.
func IdentityFromClaims(claims map[string]interface{}) (models.Identity, error) {
	var id models.Identity

	for _, name := range userIDClaims {
		if uid, ok := claimInt(claims[name]); ok {
			id.UserID = uid
			break
		}
	}
	if id.UserID <= 0 {
		return models.Identity{}, reject("token has no user id")
	}

	id.Role = NormalizeRole(claimStrings(claims, roleClaims...))

	for _, name := range nameClaims {
		if s, ok := claims[name].(string); ok && strings.TrimSpace(s) != "" {
			id.DisplayName = strings.TrimSpace(s)
			break
		}
	}
	return id, nil
}

// NormalizeRole folds a set of role values into a single Role. Admin wins
// over resident; no recognized value means resident.
func NormalizeRole(values []string) models.Role {
	for _, v := range values {
		if r, ok := models.ParseRole(v); ok && r == models.RoleAdmin {
			return models.RoleAdmin
		}
	}
	return models.RoleResident
}

func claimInt(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case float64:
		if x != float64(int64(x)) {
			return 0, false
		}
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	case int64:
		return x, true
	case int:
		return int64(x), true
	}
	return 0, false
}

// claimStrings collects scalar and array values of the named claims
func claimStrings(claims map[string]interface{}, names ...string) []string {
	var out []string
	for _, name := range names {
		switch x := claims[name].(type) {
		case string:
			out = append(out, x)
		case []interface{}:
			for _, item := range x {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
		case []string:
			out = append(out, x...)
		}
	}
	return out
}
