// Package ratchettest builds identities, bundles and established session
// pairs for tests of packages layered on the ratchet.
package ratchettest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"axolotl/internal/crypto"
	"axolotl/internal/domain/types"
	"axolotl/internal/protocol/ratchet"
)

// Identity returns a fresh identity with both key pairs.
func Identity(t testing.TB, reg types.RegistrationID) types.Identity {
	t.Helper()
	kp, err := crypto.GenerateX25519(nil)
	require.NoError(t, err)
	edPriv, edPub, err := crypto.GenerateEd25519(nil)
	require.NoError(t, err)
	return types.Identity{XPub: kp.Public, XPriv: kp.Private, EdPub: edPub, EdPriv: edPriv, RegistrationID: reg}
}

// Bundle publishes a signed bundle for owner with signed prekey spkID and,
// when opkID is non-zero, a one-time prekey. The private halves are
// returned as LocalPreKeys.
func Bundle(t testing.TB, owner types.Identity, spkID types.SignedPreKeyID, opkID types.PreKeyID) (types.PreKeyBundle, ratchet.LocalPreKeys) {
	t.Helper()
	spk, err := crypto.GenerateX25519(nil)
	require.NoError(t, err)
	local := ratchet.LocalPreKeys{
		Signed: types.SignedPreKeyRecord{ID: spkID, KeyPair: spk, Signature: crypto.SignPreKey(owner.EdPriv, spk.Public)},
	}
	b := types.PreKeyBundle{
		RegistrationID:        owner.RegistrationID,
		DeviceID:              1,
		IdentityKey:           owner.PublicKey(),
		SignedPreKeyID:        spkID,
		SignedPreKey:          spk.Public,
		SignedPreKeySignature: local.Signed.Signature,
	}
	if opkID != 0 {
		opk, err := crypto.GenerateX25519(nil)
		require.NoError(t, err)
		local.OneTime = &types.PreKeyRecord{ID: opkID, KeyPair: opk}
		b.PreKey = &types.OneTimePreKeyPublic{ID: opkID, Pub: opk.Public}
	}
	return b, local
}

// PreKeyMessage builds the handshake message an initiator state carries.
func PreKeyMessage(initiator types.Identity, st ratchet.SessionState) types.PreKeyMessage {
	return types.PreKeyMessage{
		Version:        types.MessageVersion,
		RegistrationID: initiator.RegistrationID,
		PreKeyID:       st.Pending.PreKeyID,
		SignedPreKeyID: st.Pending.SignedPreKeyID,
		BaseKey:        st.Pending.BaseKey,
		IdentityKey:    initiator.PublicKey(),
	}
}

// Pair runs Originate on a fresh initiator and Accept on a fresh responder.
func Pair(t testing.TB, e *ratchet.Engine) (initiator, responder ratchet.SessionState) {
	t.Helper()
	a, b := Identity(t, 11), Identity(t, 22)
	bundle, local := Bundle(t, b, 1, 42)
	verified, err := bundle.Verify()
	require.NoError(t, err)

	initiator, err = e.Originate(a, verified)
	require.NoError(t, err)
	responder, err = e.Accept(b, local, PreKeyMessage(a, initiator), initiator.LocalRatchet.Public)
	require.NoError(t, err)
	return initiator, responder
}
