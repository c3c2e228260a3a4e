package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// AccessToken is the decoded form of an x402 bearer credential: a
// base64-encoded JSON document carrying the accepted plan/scheme and the
// signed payment authorization.
type AccessToken struct {
	Accepted AccessTokenAccepted `json:"accepted"`
	Payload  AccessTokenPayload  `json:"payload"`
}

// AccessTokenAccepted describes what the credential was issued for.
type AccessTokenAccepted struct {
	Scheme  string         `json:"scheme"`
	Network string         `json:"network"`
	PlanID  string         `json:"planId"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// AccessTokenPayload carries the signed authorization.
type AccessTokenPayload struct {
	Authorization AccessTokenAuthorization `json:"authorization"`
}

// AccessTokenAuthorization identifies the subscriber the credential delegates for.
type AccessTokenAuthorization struct {
	From string `json:"from"`
}

// ErrInvalidToken is returned when a bearer credential cannot be decoded.
var ErrInvalidToken = errors.New("x402: invalid access token")

// DecodeAccessToken decodes an x402 access token.
//
// Tokens are base64-encoded JSON; URL-safe encoding is tried first, then
// standard, with padding repaired in both cases.
func DecodeAccessToken(token string) (*AccessToken, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	trimmed := strings.TrimRight(token, "=")
	padded := trimmed
	if n := len(trimmed) % 4; n != 0 {
		padded += strings.Repeat("=", 4-n)
	}

	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.StdEncoding} {
		raw, err := enc.DecodeString(padded)
		if err != nil {
			continue
		}
		var decoded AccessToken
		if err := json.Unmarshal(raw, &decoded); err != nil {
			continue
		}
		return &decoded, nil
	}

	return nil, ErrInvalidToken
}
