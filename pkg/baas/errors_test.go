package baas

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/workspace/pkg/jwtx"
)

func TestParseErrorResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		code    string
		message string
	}{
		{
			name:    "auth shape",
			status:  http.StatusBadRequest,
			body:    `{"code":400,"error_code":"invalid_credentials","msg":"Invalid login credentials"}`,
			code:    ErrorCodeInvalidCredentials,
			message: "Invalid login credentials",
		},
		{
			name:    "oauth shape",
			status:  http.StatusBadRequest,
			body:    `{"error":"invalid_grant","error_description":"Invalid Refresh Token"}`,
			code:    ErrorCodeInvalidGrant,
			message: "Invalid Refresh Token",
		},
		{
			name:    "data shape",
			status:  http.StatusNotAcceptable,
			body:    `{"code":"PGRST116","message":"JSON object requested","details":"The result contains 0 rows","hint":null}`,
			code:    CodeNoRows,
			message: "JSON object requested",
		},
		{
			name:    "plain text",
			status:  http.StatusBadGateway,
			body:    "upstream down\n",
			message: "upstream down",
		},
		{
			name:    "empty body",
			status:  http.StatusServiceUnavailable,
			message: http.StatusText(http.StatusServiceUnavailable),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := parseErrorResponse(tt.status, []byte(tt.body))
			apiErr, ok := AsAPIError(err)
			require.True(t, ok)
			require.Equal(t, tt.status, apiErr.StatusCode)
			require.Equal(t, tt.code, apiErr.Code)
			require.Equal(t, tt.message, apiErr.Message)
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", &APIError{StatusCode: http.StatusConflict, Code: CodeUniqueViolation})

	require.True(t, IsCode(err, CodeNoRows, CodeUniqueViolation))
	require.False(t, IsCode(err, CodeNoRows))
	require.False(t, IsCode(errors.New("plain"), CodeUniqueViolation))
	require.Equal(t, http.StatusConflict, StatusOf(err))
	require.Zero(t, StatusOf(ErrNoSession))
	require.True(t, IsNoSession(fmt.Errorf("x: %w", ErrNoSession)))
}

func TestDefaultStorageKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "sb-abcd-auth-token", DefaultStorageKey("https://abcd.supabase.co"))
	require.Equal(t, "sb-127-auth-token", DefaultStorageKey("http://127.0.0.1:54321"))
	require.Equal(t, "sb-localhost-auth-token", DefaultStorageKey("http://localhost:8000/"))
}

func TestSessionExpiry(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)

	s := &Session{ExpiresIn: 3600}
	s.normalise(now)
	require.Equal(t, now.Add(time.Hour).Unix(), s.ExpiresAt)

	require.False(t, s.ExpiresWithin(now, ExpiryMargin))
	require.True(t, s.ExpiresWithin(now.Add(time.Hour-10*time.Second), ExpiryMargin))

	explicit := &Session{ExpiresIn: 3600, ExpiresAt: 42}
	explicit.normalise(now)
	require.EqualValues(t, 42, explicit.ExpiresAt)

	raw, err := jwtx.SignHS256(jwtx.NewAccessClaims("u1", "u@x.com", "s1", nil, time.Hour, now), []byte("secret"))
	require.NoError(t, err)
	fromToken := &Session{AccessToken: raw}
	fromToken.normalise(now.Add(24 * time.Hour))
	require.Equal(t, now.Add(time.Hour).Unix(), fromToken.ExpiresAt)
	require.False(t, fromToken.MFAVerified())

	opaque := &Session{AccessToken: "not-a-jwt"}
	opaque.normalise(now)
	require.Zero(t, opaque.ExpiresAt)

	var nilSession *Session
	require.Nil(t, nilSession.clone())
}
