package registry

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memflow/memflowup/internal/merr"
)

func writeKeyPair(t *testing.T) (pubPath, privPath string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)

	dir := t.TempDir()
	privPath = filepath.Join(dir, "signing.pem")
	pubPath = filepath.Join(dir, "verifying.pem")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), 0600))
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0644))
	return pubPath, privPath
}

func TestSignAndVerify(t *testing.T) {
	pubPath, privPath := writeKeyPair(t)
	gen, err := NewGenerator(privPath)
	require.NoError(t, err)
	verifier, err := NewVerifier(pubPath)
	require.NoError(t, err)

	data := []byte("plugin binary contents")
	sig := gen.Sign(data)
	assert.NoError(t, verifier.Verify(data, sig))
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	pubPath, privPath := writeKeyPair(t)
	gen, err := NewGenerator(privPath)
	require.NoError(t, err)
	verifier, err := NewVerifier(pubPath)
	require.NoError(t, err)

	sig := gen.Sign([]byte("original"))
	err = verifier.Verify([]byte("tampered"), sig)
	require.Error(t, err)
	assert.ErrorIs(t, err, merr.ErrSignature)
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	pubPath, _ := writeKeyPair(t)
	verifier, err := NewVerifier(pubPath)
	require.NoError(t, err)

	err = verifier.Verify([]byte("data"), "not-hex")
	require.Error(t, err)
	assert.ErrorIs(t, err, merr.ErrSignature)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	pubPath, _ := writeKeyPair(t)
	_, privPath := writeKeyPair(t)
	gen, err := NewGenerator(privPath)
	require.NoError(t, err)
	verifier, err := NewVerifier(pubPath)
	require.NoError(t, err)

	data := []byte("data")
	err = verifier.Verify(data, gen.Sign(data))
	require.Error(t, err)
	assert.ErrorIs(t, err, merr.ErrSignature)
}

func TestDefaultVerifyingKeyParses(t *testing.T) {
	_, err := NewVerifierFromPEM(DefaultVerifyingKey)
	assert.NoError(t, err)
}

func TestNewVerifierMissingFile(t *testing.T) {
	_, err := NewVerifier(filepath.Join(t.TempDir(), "nope.pem"))
	require.Error(t, err)
	assert.ErrorIs(t, err, merr.ErrNotFound)
}
