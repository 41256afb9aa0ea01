package crypto

import (
	"crypto/rand"
	"io"

	"golang.org/x/crypto/curve25519"

	"axolotl/internal/domain/types"
)

// GenerateX25519 returns a fresh Curve25519 key pair read from r. A nil r
// uses crypto/rand. The private key is clamped per RFC 7748.
func GenerateX25519(r io.Reader) (types.KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	var kp types.KeyPair
	if _, err := io.ReadFull(r, kp.Private[:]); err != nil {
		return types.KeyPair{}, err
	}
	clamp(&kp.Private)
	pb, err := curve25519.X25519(kp.Private.Slice(), curve25519.Basepoint)
	if err != nil {
		return types.KeyPair{}, err
	}
	copy(kp.Public[:], pb)
	return kp, nil
}

// DH computes X25519 Diffie–Hellman. Low-order peer keys yield an error.
func DH(priv types.X25519Private, pub types.X25519Public) (out [32]byte, err error) {
	secret, err := curve25519.X25519(priv.Slice(), pub.Slice())
	if err != nil {
		return out, err
	}
	copy(out[:], secret)
	Wipe(secret)
	return out, nil
}

func clamp(k *types.X25519Private) {
	kb := k[:]
	kb[0] &= 248
	kb[31] &= 127
	kb[31] |= 64
}
