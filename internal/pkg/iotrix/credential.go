package iotrix

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential holds whatever is needed to authenticate a data request. Any
// combination of the fields may be set; Token is replaced in place whenever a
// login or code exchange succeeds.
type Credential struct {
	Token    string
	Cookie   string
	Username string
	Password string
	LoginURL string
}

func (c Credential) hasHeaderAuth() bool {
	return c.Token != "" || c.Cookie != ""
}

func (c Credential) hasPasswordLogin() bool {
	return c.Username != "" && c.Password != "" && c.LoginURL != ""
}

// Empty reports whether no usable field is set.
func (c Credential) Empty() bool {
	return !c.hasHeaderAuth() && !c.hasPasswordLogin()
}

// ExpiresAt returns the exp claim when the token is a JWT. Opaque tokens
// return false. The signature is not verified; only the issuer can do that.
func (c Credential) ExpiresAt() (time.Time, bool) {
	if c.Token == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.Token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// AuthHeaderMode selects how the token is presented on data requests.
type AuthHeaderMode string

const (
	AuthHeaderBearer AuthHeaderMode = "bearer" // Authorization: Bearer <token>
	AuthHeaderRaw    AuthHeaderMode = "raw"    // token: <token>
	AuthHeaderBoth   AuthHeaderMode = "both"
)

// headers builds the auth headers for c. It returns ErrConfiguration when
// neither a token nor a cookie is present.
func (c Credential) headers(mode AuthHeaderMode) (map[string]string, error) {
	if !c.hasHeaderAuth() {
		return nil, ErrConfiguration
	}
	h := map[string]string{}
	if c.Token != "" {
		switch mode {
		case AuthHeaderRaw:
			h["token"] = c.Token
		case AuthHeaderBoth:
			h["Authorization"] = "Bearer " + c.Token
			h["token"] = c.Token
		default:
			h["Authorization"] = "Bearer " + c.Token
		}
	}
	if c.Cookie != "" {
		h["Cookie"] = c.Cookie
	}
	return h, nil
}
