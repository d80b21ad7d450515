package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
)

// Roles carried in access tokens.
const (
	RoleGuest = "guest"
	RoleStaff = "staff"
	RoleOwner = "owner"
	RoleAdmin = "admin"
)

// Claims are the access token claims issued by the auth provider.
type Claims struct {
	BusinessID string `json:"business_id,omitempty"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

type claimsKey struct{}

func claimsFrom(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// CanManage reports whether the subject may act as staff of businessID.
func (c *Claims) CanManage(businessID string) bool {
	switch c.Role {
	case RoleAdmin:
		return true
	case RoleStaff, RoleOwner:
		return c.BusinessID != "" && c.BusinessID == businessID
	default:
		return false
	}
}

// IssueToken signs claims with secret. The auth provider normally does this;
// it exists for tooling and tests.
func IssueToken(secret, issuer, subject, businessID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		BusinessID: businessID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (s *HTTPServer) parseToken(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.opts.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.opts.Issuer))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(s.opts.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	// browsers cannot set headers on websocket upgrades
	if r.URL.Path != "" && strings.HasSuffix(r.URL.Path, "/ws") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// authed requires a valid token and applies the per-subject rate limit.
func (s *HTTPServer) authed(route string, next httprouter.Handle) httprouter.Handle {
	return s.instrument(route, func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		raw := bearer(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		claims, err := s.parseToken(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if !s.limiter.allow(claims.Subject) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)), ps)
	})
}

// staff additionally requires the subject to manage the business in the path.
func (s *HTTPServer) staff(route string, next httprouter.Handle) httprouter.Handle {
	return s.authed(route, func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !claimsFrom(r.Context()).CanManage(ps.ByName("business")) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, ps)
	})
}
