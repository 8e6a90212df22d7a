// Package identity resolves the caller behind a bearer token. Verification
// failures never reject a request: the caller degrades to the guest identity.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/jonathan/swing-coach/internal/types"
)

// Errors returned by Verify.
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Identity is the resolved caller.
type Identity struct {
	Subject     string
	DisplayName string
	Email       string
	Guest       bool
}

// Guest returns the identity used for unauthenticated callers.
func Guest() Identity {
	return Identity{Subject: types.GuestOwnerID, DisplayName: "Guest", Guest: true}
}

// Claims are the token claims the service reads.
type Claims struct {
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// Options configures a Verifier.
type Options struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Verifier checks RS256 tokens against a cached key set.
type Verifier struct {
	keys   *KeyCache
	opts   Options
	log    logrus.FieldLogger
	parser *jwt.Parser
}

// NewVerifier builds a Verifier over keys.
func NewVerifier(keys *KeyCache, opts Options, log logrus.FieldLogger) *Verifier {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(opts.Leeway),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	if opts.Issuer == "" || opts.Audience == "" {
		log.Warn("token issuer or audience not configured; those claims are not checked")
	}
	return &Verifier{
		keys:   keys,
		opts:   opts,
		log:    log,
		parser: jwt.NewParser(parserOpts...),
	}
}

// Verify validates token and returns the identity it carries.
func (v *Verifier) Verify(ctx context.Context, token string) (Identity, error) {
	if strings.TrimSpace(token) == "" {
		return Identity{}, ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no key id")
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	subject := claims.Subject
	if subject == "" {
		subject = claims.UserID
	}
	if subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	display := claims.Name
	if display == "" {
		display = claims.Email
	}
	if display == "" {
		display = subject
	}
	return Identity{Subject: subject, DisplayName: display, Email: claims.Email}, nil
}

// Resolve verifies the Authorization header value, degrading to Guest on any failure.
func (v *Verifier) Resolve(ctx context.Context, authHeader string) Identity {
	token, ok := BearerToken(authHeader)
	if !ok {
		return Guest()
	}
	id, err := v.Verify(ctx, token)
	if err != nil {
		v.log.WithError(err).Debug("token verification failed, continuing as guest")
		return Guest()
	}
	return id
}

// BearerToken extracts the token from an Authorization header value.
// The scheme is matched case-insensitively.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
