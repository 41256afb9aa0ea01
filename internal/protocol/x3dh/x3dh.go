package x3dh

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"axolotl/internal/crypto"
	"axolotl/internal/domain/types"
)

var (
	info = []byte("axolotl-x3dh")

	// discontinuity bytes prefixed to the DH transcript
	padding = func() []byte {
		p := make([]byte, types.KeySize)
		for i := range p {
			p[i] = 0xFF
		}
		return p
	}()
)

// InitiatorRoot derives the root key for the initiator from its identity,
// a fresh base key and the remote bundle.
//
// The transcript is DH(IKa,SPKb) || DH(EKa,IKb) || DH(EKa,SPKb) and, when
// the bundle offers a one-time prekey, DH(EKa,OPKb).
func InitiatorRoot(
	local types.Identity,
	base types.X25519Private,
	bundle types.PreKeyBundle,
) ([types.KeySize]byte, error) {
	pairs := []dhPair{
		{local.XPriv, bundle.SignedPreKey},
		{base, bundle.IdentityKey.DH},
		{base, bundle.SignedPreKey},
	}
	if bundle.PreKey != nil {
		pairs = append(pairs, dhPair{base, bundle.PreKey.Pub})
	}
	return derive(pairs)
}

// ResponderRoot recomputes the initiator's root key from the responder's
// signed prekey, optional one-time prekey and the received PreKeyMessage.
func ResponderRoot(
	local types.Identity,
	signedPreKey types.X25519Private,
	oneTimePreKey *types.X25519Private,
	msg types.PreKeyMessage,
) ([types.KeySize]byte, error) {
	pairs := []dhPair{
		{signedPreKey, msg.IdentityKey.DH},
		{local.XPriv, msg.BaseKey},
		{signedPreKey, msg.BaseKey},
	}
	if oneTimePreKey != nil {
		pairs = append(pairs, dhPair{*oneTimePreKey, msg.BaseKey})
	}
	return derive(pairs)
}

type dhPair struct {
	priv types.X25519Private
	pub  types.X25519Public
}

func derive(pairs []dhPair) (root [types.KeySize]byte, err error) {
	transcript := make([]byte, 0, types.KeySize*(len(pairs)+1))
	transcript = append(transcript, padding...)
	defer func() { crypto.Wipe(transcript) }()

	for i, p := range pairs {
		shared, err := crypto.DH(p.priv, p.pub)
		if err != nil {
			return root, fmt.Errorf("x3dh dh%d: %w", i+1, err)
		}
		transcript = append(transcript, shared[:]...)
		crypto.WipeKey(&shared)
	}

	salt := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, transcript, salt, info)
	if _, err := io.ReadFull(r, root[:]); err != nil {
		return root, err
	}
	return root, nil
}
