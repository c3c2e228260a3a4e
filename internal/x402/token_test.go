package x402

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeToken(t *testing.T, tok map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(tok)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestDecodeAccessToken(t *testing.T) {
	token := encodeToken(t, map[string]any{
		"accepted": map[string]any{
			"scheme":  "nvm:erc4337",
			"network": "eip155:84532",
			"planId":  "plan-123",
		},
		"payload": map[string]any{
			"authorization": map[string]any{
				"from": "0x1234567890123456789012345678901234567890",
			},
		},
	})

	decoded, err := DecodeAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "nvm:erc4337", decoded.Accepted.Scheme)
	assert.Equal(t, "plan-123", decoded.Accepted.PlanID)
	assert.Equal(t, "0x1234567890123456789012345678901234567890", decoded.Payload.Authorization.From)
}

func TestDecodeAccessToken_URLSafe(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"accepted": map[string]any{"planId": "p1"},
	})
	require.NoError(t, err)
	// Unpadded URL-safe encoding, as issued by some token backends.
	token := base64.RawURLEncoding.EncodeToString(raw)

	decoded, err := DecodeAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "p1", decoded.Accepted.PlanID)
}

func TestDecodeAccessToken_Invalid(t *testing.T) {
	for _, tc := range []string{"", "!!!not-base64!!!", base64.StdEncoding.EncodeToString([]byte("not json"))} {
		_, err := DecodeAccessToken(tc)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", tc)
	}
}

func TestIsValidScheme(t *testing.T) {
	assert.True(t, IsValidScheme("nvm:erc4337"))
	assert.True(t, IsValidScheme("nvm:card-delegation"))
	assert.False(t, IsValidScheme("nvm:unknown"))
	assert.False(t, IsValidScheme(""))
}
