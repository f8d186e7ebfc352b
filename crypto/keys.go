// Package crypto provides the signing, verification, hashing, and
// canonical-encoding primitives every other component of the governance
// core builds on (component C1 of the design).
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"

	"trustcore/errkit"
)

// PublicKey and PrivateKey are raw Ed25519 key material. The profile fixes
// Ed25519 as the canonical signature algorithm (see SPEC_FULL.md §3);
// verification rejects key material of any other length.
type PublicKey []byte
type PrivateKey []byte

// GenerateKeypair creates a fresh Ed25519 keypair.
func GenerateKeypair() (PublicKey, PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, errkit.Wrap(errkit.Crypto, "generate keypair", err)
	}
	return PublicKey(pub), PrivateKey(priv), nil
}

// Sign signs the message with the given private key.
func Sign(message []byte, priv PrivateKey) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errkit.New(errkit.Crypto, "invalid private key size")
	}
	return ed25519.Sign(ed25519.PrivateKey(priv), message), nil
}

// Verify reports whether sig is a valid signature over message by pub.
// Malformed key material is a CryptoError, never a silent false.
func Verify(message, sig []byte, pub PublicKey) error {
	if len(pub) != ed25519.PublicKeySize {
		return errkit.New(errkit.Crypto, "invalid public key size")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), message, sig) {
		return errkit.New(errkit.Crypto, "signature verification failed")
	}
	return nil
}
