package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DAMMAK/vault-x/internal/apperr"
)

func TestSignerRoundTrip(t *testing.T) {
	signer := NewSigner("test-secret", time.Hour)

	token, err := signer.Generate("file-1", testOwner, 0)
	require.NoError(t, err)

	fileID, ownerID, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "file-1", fileID)
	assert.Equal(t, testOwner, ownerID)
}

func TestSignerRejectsExpiredToken(t *testing.T) {
	// A negative default expiry mints tokens that are already expired.
	expired := NewSigner("test-secret", -time.Minute)
	token, err := expired.Generate("file-1", testOwner, 0)
	require.NoError(t, err)

	signer := NewSigner("test-secret", time.Hour)
	_, _, err = signer.Verify(token)
	assert.ErrorIs(t, err, apperr.ErrInvalidToken)
}

func TestSignerRejectsTamperedToken(t *testing.T) {
	signer := NewSigner("test-secret", time.Hour)

	token, err := signer.Generate("file-1", testOwner, time.Hour)
	require.NoError(t, err)

	// Flip a character in the signature segment.
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, _, err = signer.Verify(tampered)
	assert.ErrorIs(t, err, apperr.ErrInvalidToken)
}

func TestSignerRejectsForeignSecret(t *testing.T) {
	other := NewSigner("other-secret", time.Hour)
	token, err := other.Generate("file-1", testOwner, time.Hour)
	require.NoError(t, err)

	signer := NewSigner("test-secret", time.Hour)
	_, _, err = signer.Verify(token)
	assert.ErrorIs(t, err, apperr.ErrInvalidToken)
}

func TestSignerRejectsGarbage(t *testing.T) {
	signer := NewSigner("test-secret", time.Hour)
	_, _, err := signer.Verify("not-a-token")
	assert.ErrorIs(t, err, apperr.ErrInvalidToken)
}
