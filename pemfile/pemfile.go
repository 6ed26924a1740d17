// Package pemfile creates the host key of the debug console.
package pemfile

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io/fs"
	"os"

	"github.com/zond/juicerpg"

	gossh "golang.org/x/crypto/ssh"
)

type KeyParams struct {
	KeyPath       string
	SSHPubKeyPath string
	// Bits is the RSA key size, 4096 if zero.
	Bits int
}

func (k KeyParams) Generate() error {
	bits := k.Bits
	if bits == 0 {
		bits = 4096
	}
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return juicerpg.WithStack(err)
	}
	if err := os.WriteFile(k.KeyPath, pem.EncodeToMemory(
		&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
		}),
		0600,
	); err != nil {
		return juicerpg.WithStack(err)
	}

	pub, err := gossh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		return juicerpg.WithStack(err)
	}
	if k.SSHPubKeyPath != "" {
		if err := os.WriteFile(k.SSHPubKeyPath, gossh.MarshalAuthorizedKey(pub), 0600); err != nil {
			return juicerpg.WithStack(err)
		}
	}
	return nil
}

// Load returns the PEM bytes and signer of the key, generating it first if missing.
func (k KeyParams) Load() ([]byte, gossh.Signer, error) {
	if _, err := os.Stat(k.KeyPath); errors.Is(err, fs.ErrNotExist) {
		if err := k.Generate(); err != nil {
			return nil, nil, err
		}
	} else if err != nil {
		return nil, nil, juicerpg.WithStack(err)
	}
	pemBytes, err := os.ReadFile(k.KeyPath)
	if err != nil {
		return nil, nil, juicerpg.WithStack(err)
	}
	signer, err := gossh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, nil, juicerpg.WithStack(err)
	}
	return pemBytes, signer, nil
}
