// provider.go -- OAuth client configuration and identity types.
package oauth

import (
	"encoding/json"
	"errors"
)

// DefaultScope is requested when Config.Scope is empty.
const DefaultScope = "openid profile email"

// Config is the OAuth client configuration for one authorization server.
// Set once at startup and passed by value; never mutated afterwards.
type Config struct {
	Domain       string // authorization server host, e.g. "tenant.eu.auth0.com"
	ClientID     string
	ClientSecret string
	RedirectURI  string // pre-registered callback address
	Audience     string // API identifier the issued token targets
	Scope        string // space-separated; empty means DefaultScope
}

// Validate reports the first missing required field.
func (c Config) Validate() error {
	switch {
	case c.Domain == "":
		return errors.New("oauth config: domain is required")
	case c.ClientID == "":
		return errors.New("oauth config: client id is required")
	case c.ClientSecret == "":
		return errors.New("oauth config: client secret is required")
	case c.RedirectURI == "":
		return errors.New("oauth config: redirect uri is required")
	case c.Audience == "":
		return errors.New("oauth config: audience is required")
	}
	return nil
}

// scope returns the configured scope, falling back to DefaultScope.
func (c Config) scope() string {
	if c.Scope == "" {
		return DefaultScope
	}
	return c.Scope
}

// Profile holds the OIDC userinfo claims for the signed-in user.
// GivenName, FamilyName and Name are optional -- empty string means not provided.
// Claims keeps every claim the userinfo endpoint returned, including ones
// not mapped to a field.
type Profile struct {
	Subject       string
	GivenName     string
	FamilyName    string
	Nickname      string
	Name          string
	Picture       string // avatar URL
	UpdatedAt     string // ISO 8601, as sent upstream
	Email         string
	EmailVerified bool
	Claims        map[string]any
}

// profileFromClaims maps raw userinfo claims onto a Profile.
// Missing or mistyped claims leave the field at its zero value.
func profileFromClaims(claims map[string]any, emailVerified bool) Profile {
	str := func(key string) string {
		s, _ := claims[key].(string)
		return s
	}
	return Profile{
		Subject:       str("sub"),
		GivenName:     str("given_name"),
		FamilyName:    str("family_name"),
		Nickname:      str("nickname"),
		Name:          str("name"),
		Picture:       str("picture"),
		UpdatedAt:     str("updated_at"),
		Email:         str("email"),
		EmailVerified: emailVerified,
		Claims:        claims,
	}
}

// Identity is the authenticated caller: the userinfo profile plus the access
// token it was fetched with. Built once per successful callback.
type Identity struct {
	Profile
	AccessToken string
}

// MarshalJSON encodes the identity as the upstream claims object with
// access_token added. Identities built without raw claims fall back to the
// typed fields.
func (i Identity) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(i.Claims)+1)
	if i.Claims != nil {
		for k, v := range i.Claims {
			out[k] = v
		}
	} else {
		out["sub"] = i.Subject
		out["nickname"] = i.Nickname
		out["picture"] = i.Picture
		out["updated_at"] = i.UpdatedAt
		out["email"] = i.Email
		out["email_verified"] = i.EmailVerified
		if i.GivenName != "" {
			out["given_name"] = i.GivenName
		}
		if i.FamilyName != "" {
			out["family_name"] = i.FamilyName
		}
		if i.Name != "" {
			out["name"] = i.Name
		}
	}
	out["access_token"] = i.AccessToken
	return json.Marshal(out)
}
