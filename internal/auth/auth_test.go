package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEphemeralKeyPairIssueAndValidate(t *testing.T) {
	mgr, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := mgr.IssueToken()
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ingest", claims.Subject)
	assert.Equal(t, "xray", claims.Issuer)
}

func TestValidateRejectsGarbageAndForeignTokens(t *testing.T) {
	mgr, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	_, err = mgr.ValidateToken("not-a-token")
	assert.Error(t, err)

	// A token signed by a different key must fail validation.
	other, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	foreign, _, err := other.IssueToken()
	require.NoError(t, err)
	_, err = mgr.ValidateToken(foreign)
	assert.Error(t, err)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	mgr, err := NewJWTManager("", "", -time.Minute)
	require.NoError(t, err)

	token, _, err := mgr.IssueToken()
	require.NoError(t, err)

	_, err = mgr.ValidateToken(token)
	assert.Error(t, err)
}

func writeKeyPair(t *testing.T, dir string, pub ed25519.PublicKey, priv ed25519.PrivateKey) (string, string) {
	t.Helper()

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)

	privPath := filepath.Join(dir, "jwt_private.pem")
	pubPath := filepath.Join(dir, "jwt_public.pem")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), 0o600))
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o600))
	return privPath, pubPath
}

func TestKeyPairFromPEMFiles(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	privPath, pubPath := writeKeyPair(t, t.TempDir(), pub, priv)

	mgr, err := NewJWTManager(privPath, pubPath, time.Hour)
	require.NoError(t, err)

	token, _, err := mgr.IssueToken()
	require.NoError(t, err)
	_, err = mgr.ValidateToken(token)
	assert.NoError(t, err)
}

func TestMismatchedKeyPairRejected(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	privPath, pubPath := writeKeyPair(t, t.TempDir(), otherPub, priv)

	_, err = NewJWTManager(privPath, pubPath, time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestVerifyAPIKey(t *testing.T) {
	assert.True(t, VerifyAPIKey("secret", "secret"))
	assert.False(t, VerifyAPIKey("wrong", "secret"))
	assert.False(t, VerifyAPIKey("", "secret"))
	assert.False(t, VerifyAPIKey("anything", ""), "empty configured key must never verify")
}
