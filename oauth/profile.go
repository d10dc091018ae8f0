// Package oauth links third-party identities to local accounts. The
// frontend completes the provider handshake itself and posts the
// provider's profile payload; this package normalizes that payload and
// resolves it to a user, creating one on first login.
package oauth

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Supported providers.
const (
	ProviderGoogle   = "google"
	ProviderFacebook = "facebook"
)

// Profile is the normalized view of a provider payload.
type Profile struct {
	Provider      string
	ProviderUID   string
	Email         string
	Name          string
	Picture       string
	EmailVerified bool
	Raw           map[string]any
}

// SupportedProvider reports whether the provider name is one we link.
func SupportedProvider(provider string) bool {
	switch provider {
	case ProviderGoogle, ProviderFacebook:
		return true
	}
	return false
}

// ParseBearerPayload decodes the JSON profile payload carried in a
// bearer Authorization header. The payload may be raw JSON or base64
// encoded JSON.
func ParseBearerPayload(header string) (map[string]any, error) {
	const scheme = "Bearer "
	if len(header) < len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return nil, goerrors.New("missing bearer payload", goerrors.CategoryBadInput).
			WithTextCode("OAUTH_PAYLOAD_MISSING")
	}

	raw := strings.TrimSpace(header[len(scheme):])

	data := []byte(raw)
	if !json.Valid(data) {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, goerrors.New("malformed bearer payload", goerrors.CategoryBadInput).
				WithTextCode("OAUTH_PAYLOAD_MALFORMED")
		}
		data = decoded
	}

	payload := map[string]any{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "malformed bearer payload").
			WithTextCode("OAUTH_PAYLOAD_MALFORMED")
	}
	return payload, nil
}

// NormalizeProfile maps a provider payload onto a Profile. Each
// provider uses its own key layout for the same few facts.
func NormalizeProfile(provider string, payload map[string]any) (*Profile, error) {
	if !SupportedProvider(provider) {
		return nil, goerrors.New("unsupported oauth provider: "+provider, goerrors.CategoryBadInput).
			WithTextCode("OAUTH_PROVIDER_UNSUPPORTED").
			WithMetadata(map[string]any{"provider": provider})
	}

	p := &Profile{
		Provider: provider,
		Raw:      payload,
		Email:    stringField(payload, "email"),
		Name:     stringField(payload, "name"),
	}

	switch provider {
	case ProviderGoogle:
		p.ProviderUID = stringField(payload, "sub")
		if p.ProviderUID == "" {
			p.ProviderUID = stringField(payload, "id")
		}
		p.Picture = stringField(payload, "picture")
		p.EmailVerified = boolField(payload, "email_verified")
	case ProviderFacebook:
		p.ProviderUID = stringField(payload, "id")
		p.Picture = facebookPicture(payload)
		// Facebook only returns email when the account has a
		// confirmed one, so its presence implies verification.
		p.EmailVerified = p.Email != ""
	}

	if p.ProviderUID == "" {
		return nil, goerrors.New("provider payload has no subject id", goerrors.CategoryBadInput).
			WithTextCode("OAUTH_PAYLOAD_MALFORMED").
			WithMetadata(map[string]any{"provider": provider})
	}

	return p, nil
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func boolField(payload map[string]any, key string) bool {
	switch v := payload[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// facebookPicture digs out picture.data.url.
func facebookPicture(payload map[string]any) string {
	pic, ok := payload["picture"].(map[string]any)
	if !ok {
		return stringField(payload, "picture")
	}
	data, ok := pic["data"].(map[string]any)
	if !ok {
		return ""
	}
	return stringField(data, "url")
}
