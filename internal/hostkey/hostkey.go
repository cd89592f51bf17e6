// Package hostkey loads the server's SSH host key, generating and saving one on
// first start.
package hostkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// Key types accepted by Generate and LoadOrGenerate.
const (
	TypeEd25519 = "ed25519"
	TypeRSA     = "rsa"
)

// DefaultRSABits is the RSA modulus size used when none is configured.
const DefaultRSABits = 4096

// ErrUnknownType is returned for a key type other than ed25519 or rsa.
var ErrUnknownType = errors.New("hostkey: unknown key type")

// NewRSAPrivateKey generates and validates an RSA private key of bitSize bits.
func NewRSAPrivateKey(bitSize int) (*rsa.PrivateKey, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		return nil, err
	}
	if err := privateKey.Validate(); err != nil {
		return nil, err
	}
	return privateKey, nil
}

// RSAPrivateKeyPEM encodes an RSA private key as a PKCS#1 PEM block.
func RSAPrivateKeyPEM(privateKey *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
}

// Ed25519PrivateKeyPEM encodes an ed25519 private key as a PKCS#8 PEM block.
func Ed25519PrivateKeyPEM(privateKey ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: der,
	}), nil
}

// Generate returns a new PEM-encoded private key of the given type. bits is only
// used for rsa; zero means DefaultRSABits.
func Generate(keyType string, bits int) ([]byte, error) {
	switch keyType {
	case TypeEd25519, "":
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		return Ed25519PrivateKeyPEM(priv)
	case TypeRSA:
		if bits == 0 {
			bits = DefaultRSABits
		}
		priv, err := NewRSAPrivateKey(bits)
		if err != nil {
			return nil, fmt.Errorf("generate rsa key: %w", err)
		}
		return RSAPrivateKeyPEM(priv), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, keyType)
}

// LoadOrGenerate reads the PEM host key at path. When the file does not exist a
// key of keyType is generated and saved there with mode 0600, along with its public
// half in path + ".pub".
//
// Parameters:
//   - path: PEM file of the host key.
//   - keyType: TypeEd25519 or TypeRSA, used only when generating.
//   - bits: RSA modulus size; DefaultRSABits when zero.
//   - log: Receives the key fingerprint.
//
// Returns:
//   - ssh.Signer: The host key, ready for ssh.ServerConfig.AddHostKey.
//   - error: If the file cannot be read, parsed, generated or written.
func LoadOrGenerate(path, keyType string, bits int, log logrus.FieldLogger) (ssh.Signer, error) {
	log = log.WithField("path", path)

	privateBytes, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		privateBytes, err = Generate(keyType, bits)
		if err != nil {
			return nil, err
		}
		if err := save(path, privateBytes); err != nil {
			return nil, err
		}
		log.WithField("type", keyType).Info("generated new host key")
	case err != nil:
		return nil, fmt.Errorf("read host key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(privateBytes)
	if err != nil {
		return nil, fmt.Errorf("parse host key %s: %w", path, err)
	}

	log.WithField("fingerprint", ssh.FingerprintSHA256(signer.PublicKey())).Info("host key loaded")
	return signer, nil
}

func save(path string, privateBytes []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create host key directory: %w", err)
		}
	}
	if err := os.WriteFile(path, privateBytes, 0600); err != nil {
		return fmt.Errorf("save host key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(privateBytes)
	if err != nil {
		return fmt.Errorf("parse generated host key: %w", err)
	}
	if err := os.WriteFile(path+".pub", ssh.MarshalAuthorizedKey(signer.PublicKey()), 0644); err != nil {
		return fmt.Errorf("save host public key: %w", err)
	}
	return nil
}
