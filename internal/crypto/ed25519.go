package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"

	"axolotl/internal/domain/types"
)

// GenerateEd25519 returns a new Ed25519 signing key pair read from r. A nil
// r uses crypto/rand.
func GenerateEd25519(r io.Reader) (priv types.Ed25519Private, pub types.Ed25519Public, err error) {
	if r == nil {
		r = rand.Reader
	}
	pk, sk, err := ed25519.GenerateKey(r)
	if err != nil {
		return priv, pub, err
	}
	copy(priv[:], sk)
	copy(pub[:], pk)
	return priv, pub, nil
}

// SignEd25519 signs msg with priv and returns the signature.
func SignEd25519(priv types.Ed25519Private, msg []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(priv[:]), msg)
}

// VerifyEd25519 verifies sig over msg with pub.
func VerifyEd25519(pub types.Ed25519Public, msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig)
}

// SignPreKey signs the wire encoding of a signed prekey, the form bundles
// are verified against.
func SignPreKey(priv types.Ed25519Private, spk types.X25519Public) []byte {
	return SignEd25519(priv, spk.Encode())
}
