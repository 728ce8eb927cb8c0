package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAccessToken(t *testing.T) {
	tok, err := NewAccessToken("s3cret", "user-7", time.Hour)
	require.NoError(t, err)

	parsed, err := jwt.Parse(tok.Token, func(*jwt.Token) (interface{}, error) { return []byte("s3cret"), nil },
		jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	sub, err := parsed.Claims.GetSubject()
	require.NoError(t, err)
	assert.Equal(t, "user-7", sub)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Exp, 5*time.Second)
}

func TestNewAccessToken_requiresInputs(t *testing.T) {
	_, err := NewAccessToken("", "u", time.Hour)
	assert.Error(t, err)
	_, err = NewAccessToken("s", "", time.Hour)
	assert.Error(t, err)
}
