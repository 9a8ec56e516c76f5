package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/go-cmp/cmp"

	"github.com/justestif/go-shorts-feed/internal/domain"
)

const testIssuer = "https://issuer.test"

// unsignedToken builds a JWT the verifier accepts with signature checks disabled.
func unsignedToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	body, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	return header + "." + base64.RawURLEncoding.EncodeToString(body) + ".c2ln"
}

func testOIDCVerifier() *OIDCVerifier {
	return WrapOIDC(oidc.NewVerifier(testIssuer, &oidc.StaticKeySet{}, &oidc.Config{
		ClientID:                   "shorts",
		InsecureSkipSignatureCheck: true,
	}))
}

func TestOIDCVerifier_Verify(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	tests := []struct {
		name    string
		auth    string
		claims  map[string]any
		want    Identity
		wantErr bool
	}{
		{
			name: "valid token",
			claims: map[string]any{
				"iss": testIssuer, "aud": "shorts", "exp": exp, "sub": "42",
				"preferred_username": "ada", "given_name": "Ada", "family_name": "Lovelace", "locale": "en-GB",
			},
			want: Identity{UserID: "42", Profile: domain.Profile{Username: "ada", FirstName: "Ada", LastName: "Lovelace", LanguageCode: "en"}},
		},
		{
			name:    "wrong audience",
			claims:  map[string]any{"iss": testIssuer, "aud": "other", "exp": exp, "sub": "42"},
			wantErr: true,
		},
		{
			name:    "expired",
			claims:  map[string]any{"iss": testIssuer, "aud": "shorts", "exp": time.Now().Add(-time.Hour).Unix(), "sub": "42"},
			wantErr: true,
		},
		{
			name:    "no subject",
			claims:  map[string]any{"iss": testIssuer, "aud": "shorts", "exp": exp},
			wantErr: true,
		},
		{
			name:    "no header",
			auth:    "-",
			wantErr: true,
		},
		{
			name:    "basic auth",
			auth:    "Basic Zm9vOmJhcg==",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			switch tt.auth {
			case "":
				r.Header.Set("Authorization", "Bearer "+unsignedToken(t, tt.claims))
			case "-":
			default:
				r.Header.Set("Authorization", tt.auth)
			}

			got, err := testOIDCVerifier().Verify(context.Background(), r)
			if tt.wantErr {
				if !errors.Is(err, ErrUnauthorized) {
					t.Fatalf("Verify() error = %v, want ErrUnauthorized", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Verify() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHeaderVerifier(t *testing.T) {
	tests := []struct {
		name     string
		def      string
		headers  map[string]string
		wantUser string
		wantLang string
		wantErr  bool
	}{
		{name: "header user", headers: map[string]string{HeaderUserID: "7", HeaderLanguage: "ru_RU"}, wantUser: "7", wantLang: "ru"},
		{name: "default user", def: DevUserID, wantUser: DevUserID},
		{name: "no user", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			got, err := HeaderVerifier{Default: tt.def}.Verify(context.Background(), r)
			if tt.wantErr {
				if !errors.Is(err, ErrUnauthorized) {
					t.Fatalf("Verify() error = %v, want ErrUnauthorized", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if got.UserID != tt.wantUser || got.Profile.LanguageCode != tt.wantLang {
				t.Errorf("Verify() = %+v, want user %q lang %q", got, tt.wantUser, tt.wantLang)
			}
		})
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{UserID: "u"})
	got, ok := FromContext(ctx)
	if !ok || got.UserID != "u" {
		t.Errorf("FromContext() = %+v, %v", got, ok)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Error("FromContext() ok on empty context")
	}
}
