// Package identity manages the long-term ED25519 key of a pagelink device.
// The reader and the companion each keep one; the Noise static key of the
// link is derived from it.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

const (
	KeyFile       = "device.key"
	PublicKeyFile = "device.pub"
)

// Identity is a device keypair plus the forms it is shown in.
type Identity struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	// Fingerprint is the OpenSSH SHA256 fingerprint of the public key, for
	// comparing devices by eye.
	Fingerprint string
	// Authorized is the public key as an authorized_keys line.
	Authorized string
}

// Load reads the keypair from dir, generating and saving a new one when
// dir holds no key yet.
func Load(dir string) (*Identity, error) {
	privPath := filepath.Join(dir, KeyFile)
	privPEM, err := os.ReadFile(privPath)
	if errors.Is(err, os.ErrNotExist) {
		return generate(dir)
	}
	if err != nil {
		return nil, fmt.Errorf("reading device key: %w", err)
	}
	id, err := parse(privPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", privPath, err)
	}
	return id, nil
}

func generate(dir string) (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating device key: %w", err)
	}
	id, err := fromPrivate(priv)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating identity dir: %w", err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshaling device key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})
	if err := os.WriteFile(filepath.Join(dir, KeyFile), privPEM, 0600); err != nil {
		return nil, fmt.Errorf("writing device key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, PublicKeyFile), []byte(id.Authorized+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("writing public key: %w", err)
	}
	return id, nil
}

func parse(privPEM []byte) (*Identity, error) {
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, errors.New("no PEM block in device key")
	}
	raw, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing device key: %w", err)
	}
	priv, ok := raw.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("device key is %T, want ED25519", raw)
	}
	return fromPrivate(priv)
}

func fromPrivate(priv ed25519.PrivateKey) (*Identity, error) {
	pub := priv.Public().(ed25519.PublicKey)
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("converting public key: %w", err)
	}
	authorized := ssh.MarshalAuthorizedKey(sshPub)
	return &Identity{
		PrivateKey:  priv,
		PublicKey:   pub,
		Fingerprint: ssh.FingerprintSHA256(sshPub),
		Authorized:  string(authorized[:len(authorized)-1]),
	}, nil
}
