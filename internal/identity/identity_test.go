package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/aggregw/internal/config"
)

func signToken(t *testing.T, secret string, claims map[string]any) string {
	t.Helper()

	tok := jwt.New()
	for k, v := range claims {
		require.NoError(t, tok.Set(k, v))
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(secret)))
	require.NoError(t, err)
	return string(signed)
}

func TestResolver_ParseWithoutSecret(t *testing.T) {
	t.Parallel()

	r := NewResolver(config.AuthConfig{})
	assert.False(t, r.Verifying())

	token := signToken(t, "issuer-only-secret", map[string]any{jwt.SubjectKey: "user-1"})

	id, err := r.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.Subject)
	assert.Equal(t, token, id.Token)
}

func TestResolver_ParseWithSecret(t *testing.T) {
	t.Parallel()

	r := NewResolver(config.AuthConfig{JWTSecret: "s3cret"})
	require.True(t, r.Verifying())

	id, err := r.Parse(signToken(t, "s3cret", map[string]any{jwt.SubjectKey: "user-2"}))
	require.NoError(t, err)
	assert.Equal(t, "user-2", id.Subject)

	_, err = r.Parse(signToken(t, "other", map[string]any{jwt.SubjectKey: "user-2"}))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolver_CustomClaim(t *testing.T) {
	t.Parallel()

	r := NewResolver(config.AuthConfig{IdentityClaim: "userId"})

	id, err := r.Parse(signToken(t, "k", map[string]any{"userId": 7}))
	require.NoError(t, err)
	assert.Equal(t, "7", id.Subject)

	id, err = r.Parse(signToken(t, "k", map[string]any{"userId": "abc"}))
	require.NoError(t, err)
	assert.Equal(t, "abc", id.Subject)
}

func TestResolver_Rejects(t *testing.T) {
	t.Parallel()

	r := NewResolver(config.AuthConfig{})

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "garbage", token: "not-a-jwt", want: ErrInvalidToken},
		{
			name:  "expired",
			token: signToken(t, "k", map[string]any{jwt.SubjectKey: "u", jwt.ExpirationKey: time.Now().Add(-time.Hour)}),
			want:  ErrInvalidToken,
		},
		{name: "no subject", token: signToken(t, "k", map[string]any{"role": "admin"}), want: ErrMissingClaim},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := r.Parse(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestResolver_FromRequest(t *testing.T) {
	t.Parallel()

	r := NewResolver(config.AuthConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	_, err := r.FromRequest(req)
	assert.ErrorIs(t, err, ErrNoCredentials)

	req.Header.Set("Authorization", "bearer "+signToken(t, "k", map[string]any{jwt.SubjectKey: "user-3"}))
	id, err := r.FromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "user-3", id.Subject)
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{header: "Bearer abc", want: "abc", ok: true},
		{header: "BEARER  abc ", want: "abc", ok: true},
		{header: "Bearer ", ok: false},
		{header: "Basic dXNlcjpwYXNz", ok: false},
		{header: "", ok: false},
	}

	for _, tt := range tests {
		h := http.Header{}
		if tt.header != "" {
			h.Set("Authorization", tt.header)
		}
		got, ok := BearerToken(h)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}

func TestContext(t *testing.T) {
	t.Parallel()

	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), &Identity{Subject: "u"})
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u", id.Subject)
}
