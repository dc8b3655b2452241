package crypto

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/flynn/noise"

	"pagelink/internal/identity"
)

// EdPrivateToX25519 derives an X25519 private key from an ED25519 private key.
// This is SHA-512(seed)[:32]; X25519 applies clamping internally.
func EdPrivateToX25519(edPriv ed25519.PrivateKey) []byte {
	h := sha512.Sum512(edPriv.Seed())
	out := make([]byte, 32)
	copy(out, h[:32])
	return out
}

// EdPublicToX25519 converts an ED25519 public key to its Montgomery form.
func EdPublicToX25519(edPub ed25519.PublicKey) ([]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return nil, fmt.Errorf("invalid ed25519 public key: %w", err)
	}
	return p.BytesMontgomery(), nil
}

// LinkKey returns the Noise static key a device uses on the link.
func LinkKey(id *identity.Identity) (noise.DHKey, error) {
	priv := EdPrivateToX25519(id.PrivateKey)
	pub, err := EdPublicToX25519(id.PublicKey)
	if err != nil {
		return noise.DHKey{}, err
	}
	return noise.DHKey{Private: priv, Public: pub}, nil
}

// FormatLinkKey renders a link public key the way configs list trusted peers.
func FormatLinkKey(pub []byte) string {
	return hex.EncodeToString(pub)
}

// ParseLinkKey parses a hex X25519 public key from a trusted peer list.
func ParseLinkKey(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("link key %q: %w", s, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("link key %q: %d bytes, want 32", s, len(b))
	}
	return b, nil
}

// ParseLinkKeys parses every key in list.
func ParseLinkKeys(list []string) ([][]byte, error) {
	out := make([][]byte, 0, len(list))
	for _, s := range list {
		k, err := ParseLinkKey(s)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}
