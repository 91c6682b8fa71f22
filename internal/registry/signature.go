package registry

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"os"

	"github.com/memflow/memflowup/internal/merr"
)

// DefaultVerifyingKey is the bundled public key of the default registry,
// PEM-encoded. Self-hosted registries sign with their own keys and require
// --pub-key or the pub_key_file config entry.
const DefaultVerifyingKey = `-----BEGIN PUBLIC KEY-----
MCowBQYDK2VwAyEAGb9ECWmEzf6FQbrBZ9w7lshQhqowtrbLDFw4rXAxZuE=
-----END PUBLIC KEY-----`

// Verifier checks detached ed25519 signatures over plugin binaries.
type Verifier struct {
	key ed25519.PublicKey
}

// NewVerifier loads a PEM public key file. Used both for verification and to
// validate the pub_key_file config entry.
func NewVerifier(path string) (*Verifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, merr.Wrap(merr.ErrNotFound, err)
	}
	return NewVerifierFromPEM(string(data))
}

// NewVerifierFromPEM parses an in-memory PEM public key.
func NewVerifierFromPEM(pemData string) (*Verifier, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, merr.Errorf(merr.ErrParse, "no PEM block found in public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, merr.Wrap(merr.ErrParse, err)
	}
	key, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, merr.Errorf(merr.ErrParse, "public key is not an ed25519 key")
	}
	return &Verifier{key: key}, nil
}

// Verify checks the hex-encoded detached signature against data. A failure
// is always fatal for the download being verified.
func (v *Verifier) Verify(data []byte, signature string) error {
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return merr.Errorf(merr.ErrSignature, "malformed signature: %s", err)
	}
	if !ed25519.Verify(v.key, data, sig) {
		return merr.Errorf(merr.ErrSignature, "plugin signature verification failed")
	}
	return nil
}

// Generator produces detached ed25519 signatures for uploads.
type Generator struct {
	key ed25519.PrivateKey
}

// NewGenerator loads a PEM (PKCS#8) private key file. Also used to validate
// the priv_key_file config entry.
func NewGenerator(path string) (*Generator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, merr.Wrap(merr.ErrNotFound, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, merr.Errorf(merr.ErrParse, "no PEM block found in private key")
	}
	priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, merr.Wrap(merr.ErrParse, err)
	}
	key, ok := priv.(ed25519.PrivateKey)
	if !ok {
		return nil, merr.Errorf(merr.ErrParse, "private key is not an ed25519 key")
	}
	return &Generator{key: key}, nil
}

// Sign returns the hex-encoded detached signature of data.
func (g *Generator) Sign(data []byte) string {
	return hex.EncodeToString(ed25519.Sign(g.key, data))
}
