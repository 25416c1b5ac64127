// Package identity derives the caller identity from a bearer credential.
//
// The gateway is not the token authority. Without a configured secret the
// claims are read without signature verification and the raw token is
// relayed so each backend can verify it. With a secret, HS256 signatures
// and the exp/nbf claims are checked before the identity is accepted.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/vyrodovalexey/aggregw/internal/config"
)

// Identity errors.
var (
	// ErrNoCredentials indicates the request carried no bearer token.
	ErrNoCredentials = errors.New("no bearer credentials")

	// ErrInvalidToken indicates the token could not be parsed or verified.
	ErrInvalidToken = errors.New("invalid bearer token")

	// ErrMissingClaim indicates the identity claim is absent or empty.
	ErrMissingClaim = errors.New("identity claim missing")
)

const bearerPrefix = "Bearer "

// defaultSkew is the clock skew tolerated on exp/nbf.
const defaultSkew = 30 * time.Second

// Identity is the authenticated caller.
type Identity struct {
	Subject string
	// Token is the raw bearer token, relayed to backends.
	Token string
}

// Resolver turns bearer tokens into identities.
type Resolver struct {
	secret []byte
	claim  string
	skew   time.Duration
}

// NewResolver creates a Resolver from the auth config.
func NewResolver(cfg config.AuthConfig) *Resolver {
	claim := cfg.IdentityClaim
	if claim == "" {
		claim = config.DefaultIdentityClaim
	}
	r := &Resolver{claim: claim, skew: defaultSkew}
	if cfg.JWTSecret != "" {
		r.secret = []byte(cfg.JWTSecret)
	}
	return r
}

// Verifying reports whether signatures are checked.
func (r *Resolver) Verifying() bool {
	return len(r.secret) > 0
}

// FromRequest resolves the identity carried by the Authorization header.
func (r *Resolver) FromRequest(req *http.Request) (*Identity, error) {
	token, ok := BearerToken(req.Header)
	if !ok {
		return nil, ErrNoCredentials
	}
	return r.Parse(token)
}

// Parse resolves the identity carried by token.
func (r *Resolver) Parse(token string) (*Identity, error) {
	opts := []jwt.ParseOption{
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(r.skew),
	}
	if r.Verifying() {
		opts = append(opts, jwt.WithKey(jwa.HS256, r.secret))
	} else {
		opts = append(opts, jwt.WithVerify(false))
	}

	tok, err := jwt.ParseString(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	subject := claimValue(tok, r.claim)
	if subject == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingClaim, r.claim)
	}
	return &Identity{Subject: subject, Token: token}, nil
}

func claimValue(tok jwt.Token, claim string) string {
	if claim == jwt.SubjectKey {
		return tok.Subject()
	}
	v, ok := tok.Get(claim)
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(h http.Header) (string, bool) {
	value := h.Get("Authorization")
	if len(value) < len(bearerPrefix) || !strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearerPrefix):])
	return token, token != ""
}

type contextKey struct{}

// WithIdentity returns ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored in ctx, if any.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok && id != nil
}
