// Package identity turns an authenticated request into a user id and display profile.
// Token verification itself is delegated to the identity provider library; the result is trusted as-is.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/justestif/go-shorts-feed/internal/domain"
)

// ErrUnauthorized is returned when a request carries no acceptable identity.
var ErrUnauthorized = domain.ErrUnauthorized

// DevUserID is the identity HeaderVerifier falls back to when configured with a default.
const DevUserID = "test_user_123"

// Identity is a verified user.
type Identity struct {
	UserID  string
	Profile domain.Profile
}

// Verifier extracts the caller's identity from a request.
type Verifier interface {
	Verify(ctx context.Context, r *http.Request) (Identity, error)
}

type ctxKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// OIDCVerifier accepts bearer tokens issued by an OpenID Connect provider.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the provider at issuerURL. An empty clientID skips the audience check,
// which access tokens from many providers need.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("querying oidc provider: %w", err)
	}
	return WrapOIDC(provider.Verifier(&oidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: clientID == "",
	})), nil
}

// WrapOIDC uses an already configured token verifier.
func WrapOIDC(v *oidc.IDTokenVerifier) *OIDCVerifier {
	return &OIDCVerifier{verifier: v}
}

// Verify checks the bearer token and maps its standard claims onto a profile.
func (v *OIDCVerifier) Verify(ctx context.Context, r *http.Request) (Identity, error) {
	raw, ok := bearerToken(r)
	if !ok {
		return Identity{}, fmt.Errorf("missing bearer token: %w", ErrUnauthorized)
	}

	tok, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return Identity{}, fmt.Errorf("verifying token: %w: %w", ErrUnauthorized, err)
	}

	var claims struct {
		Sub               string `json:"sub"`
		PreferredUsername string `json:"preferred_username"`
		GivenName         string `json:"given_name"`
		FamilyName        string `json:"family_name"`
		Locale            string `json:"locale"`
	}
	if err := tok.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("decoding claims: %w: %w", ErrUnauthorized, err)
	}
	if claims.Sub == "" {
		return Identity{}, fmt.Errorf("token has no subject: %w", ErrUnauthorized)
	}

	return Identity{
		UserID: claims.Sub,
		Profile: domain.Profile{
			Username:     claims.PreferredUsername,
			FirstName:    claims.GivenName,
			LastName:     claims.FamilyName,
			LanguageCode: languageOf(claims.Locale),
		},
	}, nil
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// languageOf reduces a BCP 47 locale such as "en-US" to its language subtag.
func languageOf(locale string) string {
	lang, _, _ := strings.Cut(strings.ReplaceAll(locale, "_", "-"), "-")
	return strings.ToLower(lang)
}

// Header names read by HeaderVerifier.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUsername  = "X-Username"
	HeaderFirstName = "X-First-Name"
	HeaderLastName  = "X-Last-Name"
	HeaderLanguage  = "X-Language"
)

// HeaderVerifier trusts identity headers set by a fronting proxy or a developer.
// It must not be exposed to untrusted clients.
type HeaderVerifier struct {
	// Default is used when no user header is present. Empty means such requests are rejected.
	Default string
}

// Verify reads the identity headers.
func (h HeaderVerifier) Verify(_ context.Context, r *http.Request) (Identity, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		id = h.Default
	}
	if id == "" {
		return Identity{}, fmt.Errorf("missing %s header: %w", HeaderUserID, ErrUnauthorized)
	}
	return Identity{
		UserID: id,
		Profile: domain.Profile{
			Username:     r.Header.Get(HeaderUsername),
			FirstName:    r.Header.Get(HeaderFirstName),
			LastName:     r.Header.Get(HeaderLastName),
			LanguageCode: languageOf(r.Header.Get(HeaderLanguage)),
		},
	}, nil
}
