package ratchet_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axolotl/internal/crypto"
	"axolotl/internal/domain/types"
	"axolotl/internal/protocol/ratchet"
)

// makeIdentity returns a fresh identity with both key pairs.
func makeIdentity(t *testing.T, reg types.RegistrationID) types.Identity {
	t.Helper()
	kp, err := crypto.GenerateX25519(nil)
	require.NoError(t, err)
	edPriv, edPub, err := crypto.GenerateEd25519(nil)
	require.NoError(t, err)
	return types.Identity{XPub: kp.Public, XPriv: kp.Private, EdPub: edPub, EdPriv: edPriv, RegistrationID: reg}
}

// makeBundle publishes a bundle for bob and returns the private prekeys he keeps.
func makeBundle(t *testing.T, bob types.Identity, withOneTime bool) (types.PreKeyBundle, ratchet.LocalPreKeys) {
	t.Helper()
	spk, err := crypto.GenerateX25519(nil)
	require.NoError(t, err)
	local := ratchet.LocalPreKeys{
		Signed: types.SignedPreKeyRecord{ID: 1, KeyPair: spk, Signature: crypto.SignPreKey(bob.EdPriv, spk.Public)},
	}
	b := types.PreKeyBundle{
		RegistrationID:        bob.RegistrationID,
		DeviceID:              1,
		IdentityKey:           bob.PublicKey(),
		SignedPreKeyID:        local.Signed.ID,
		SignedPreKey:          spk.Public,
		SignedPreKeySignature: local.Signed.Signature,
	}
	if withOneTime {
		opk, err := crypto.GenerateX25519(nil)
		require.NoError(t, err)
		local.OneTime = &types.PreKeyRecord{ID: 42, KeyPair: opk}
		b.PreKey = &types.OneTimePreKeyPublic{ID: 42, Pub: opk.Public}
	}
	return b, local
}

func preKeyMessage(alice types.Identity, st ratchet.SessionState) types.PreKeyMessage {
	return types.PreKeyMessage{
		Version:        types.MessageVersion,
		RegistrationID: alice.RegistrationID,
		PreKeyID:       st.Pending.PreKeyID,
		SignedPreKeyID: st.Pending.SignedPreKeyID,
		BaseKey:        st.Pending.BaseKey,
		IdentityKey:    alice.PublicKey(),
	}
}

// newSession runs Originate on alice and Accept on bob.
func newSession(t *testing.T, e *ratchet.Engine) (alice, bob ratchet.SessionState) {
	t.Helper()
	a, b := makeIdentity(t, 11), makeIdentity(t, 22)
	bundle, local := makeBundle(t, b, true)
	verified, err := bundle.Verify()
	require.NoError(t, err)

	alice, err = e.Originate(a, verified)
	require.NoError(t, err)
	bob, err = e.Accept(b, local, preKeyMessage(a, alice), alice.LocalRatchet.Public)
	require.NoError(t, err)
	return alice, bob
}

func TestOriginateAccept_AgreementSymmetry(t *testing.T) {
	e := ratchet.NewEngine()
	for _, withOneTime := range []bool{false, true} {
		a, b := makeIdentity(t, 1), makeIdentity(t, 2)
		bundle, local := makeBundle(t, b, withOneTime)
		verified, err := bundle.Verify()
		require.NoError(t, err)

		alice, err := e.Originate(a, verified)
		require.NoError(t, err)
		bob, err := e.Accept(b, local, preKeyMessage(a, alice), alice.LocalRatchet.Public)
		require.NoError(t, err)

		require.Equal(t, alice.RootKey, bob.RootKey, "root keys differ (one-time=%v)", withOneTime)

		sent, _, err := e.DeriveSendingMessageKey(alice)
		require.NoError(t, err)
		recv, _, err := e.DeriveReceivingMessageKey(bob, 0)
		require.NoError(t, err)
		require.True(t, sent.Equal(recv), "first message keys differ (one-time=%v)", withOneTime)

		assert.Equal(t, a.RegistrationID, bob.RemoteRegistrationID)
		assert.Equal(t, b.RegistrationID, alice.RemoteRegistrationID)
		assert.True(t, bob.RemoteIdentity.Equal(a.PublicKey()))
		assert.Equal(t, alice.BaseKey, bob.BaseKey)
	}
}

func TestOriginate_RejectsUnverifiedBundle(t *testing.T) {
	e := ratchet.NewEngine()
	_, err := e.Originate(makeIdentity(t, 1), types.VerifiedPreKeyBundle{})
	require.ErrorIs(t, err, types.ErrUntrustedIdentity)
}

func TestOriginate_FreshEphemeralPerCall(t *testing.T) {
	e := ratchet.NewEngine()
	a, b := makeIdentity(t, 1), makeIdentity(t, 2)
	bundle, _ := makeBundle(t, b, false)
	verified, err := bundle.Verify()
	require.NoError(t, err)

	s1, err := e.Originate(a, verified)
	require.NoError(t, err)
	s2, err := e.Originate(a, verified)
	require.NoError(t, err)

	assert.NotEqual(t, s1.BaseKey, s2.BaseKey)
	assert.NotEqual(t, s1.LocalRatchet.Public, s2.LocalRatchet.Public)
	assert.NotEqual(t, s1.RootKey, s2.RootKey)
}

func TestAccept_RejectsConsumedOneTimePreKey(t *testing.T) {
	e := ratchet.NewEngine()
	a, b := makeIdentity(t, 1), makeIdentity(t, 2)
	bundle, local := makeBundle(t, b, true)
	verified, err := bundle.Verify()
	require.NoError(t, err)
	alice, err := e.Originate(a, verified)
	require.NoError(t, err)

	local.OneTime = nil
	_, err = e.Accept(b, local, preKeyMessage(a, alice), alice.LocalRatchet.Public)
	require.ErrorIs(t, err, types.ErrReplayedPreKey)
}

func TestAccept_RejectsUnknownSignedPreKey(t *testing.T) {
	e := ratchet.NewEngine()
	a, b := makeIdentity(t, 1), makeIdentity(t, 2)
	bundle, local := makeBundle(t, b, false)
	verified, err := bundle.Verify()
	require.NoError(t, err)
	alice, err := e.Originate(a, verified)
	require.NoError(t, err)

	local.Signed.ID = 99
	_, err = e.Accept(b, local, preKeyMessage(a, alice), alice.LocalRatchet.Public)
	require.ErrorIs(t, err, types.ErrInvalidPreKey)
}

func TestAccept_RejectsRegistrationIDOutOfRange(t *testing.T) {
	e := ratchet.NewEngine()
	a, b := makeIdentity(t, 1), makeIdentity(t, 2)
	bundle, local := makeBundle(t, b, false)
	verified, err := bundle.Verify()
	require.NoError(t, err)
	alice, err := e.Originate(a, verified)
	require.NoError(t, err)

	for _, reg := range []types.RegistrationID{0, types.MaxRegistrationID + 1} {
		msg := preKeyMessage(a, alice)
		msg.RegistrationID = reg
		_, err = e.Accept(b, local, msg, alice.LocalRatchet.Public)
		require.ErrorIs(t, err, types.ErrInvalidMessage, "registration id %d", reg)
	}
}

func TestAccept_RejectsUnknownVersion(t *testing.T) {
	e := ratchet.NewEngine()
	a, b := makeIdentity(t, 1), makeIdentity(t, 2)
	bundle, local := makeBundle(t, b, false)
	verified, err := bundle.Verify()
	require.NoError(t, err)
	alice, err := e.Originate(a, verified)
	require.NoError(t, err)

	msg := preKeyMessage(a, alice)
	msg.Version = 4
	_, err = e.Accept(b, local, msg, alice.LocalRatchet.Public)
	require.ErrorIs(t, err, types.ErrUnsupportedSessionVersion)
}

func TestDeriveSendingMessageKey_DistinctAndSequential(t *testing.T) {
	e := ratchet.NewEngine()
	alice, _ := newSession(t, e)

	const n = 64
	seen := make(map[[32]byte]bool, n)
	st := alice
	for i := 0; i < n; i++ {
		mk, next, err := e.DeriveSendingMessageKey(st)
		require.NoError(t, err)
		require.Equal(t, uint32(i), mk.Index)
		require.Equal(t, uint32(i+1), next.Sending.Index)
		require.False(t, seen[mk.CipherKey], "message key repeated at %d", i)
		seen[mk.CipherKey] = true
		st = next
	}
}

func TestDeriveSendingMessageKey_DoesNotMutateInput(t *testing.T) {
	e := ratchet.NewEngine()
	alice, _ := newSession(t, e)
	before := alice.Clone()

	_, _, err := e.DeriveSendingMessageKey(alice)
	require.NoError(t, err)
	require.Equal(t, before, alice)
}

func TestDeriveSendingMessageKey_NoSession(t *testing.T) {
	_, _, err := ratchet.NewEngine().DeriveSendingMessageKey(ratchet.SessionState{})
	require.ErrorIs(t, err, types.ErrNoSession)
}

func sendN(t *testing.T, e *ratchet.Engine, st ratchet.SessionState, n int) ([]ratchet.MessageKeys, ratchet.SessionState) {
	t.Helper()
	keys := make([]ratchet.MessageKeys, 0, n)
	for i := 0; i < n; i++ {
		mk, next, err := e.DeriveSendingMessageKey(st)
		require.NoError(t, err)
		keys = append(keys, mk)
		st = next
	}
	return keys, st
}

func TestDeriveReceivingMessageKey_OutOfOrder(t *testing.T) {
	e := ratchet.NewEngine()
	alice, bob := newSession(t, e)
	sent, _ := sendN(t, e, alice, 4)

	st := bob
	for _, idx := range []uint32{2, 0, 3, 1} {
		mk, next, err := e.DeriveReceivingMessageKey(st, idx)
		require.NoError(t, err, "index %d", idx)
		require.True(t, sent[idx].Equal(mk), "key mismatch at %d", idx)
		st = next
	}
	require.Equal(t, 0, st.Skipped.Len())
	require.Equal(t, uint32(4), st.Receiving.Index)
}

func TestDeriveReceivingMessageKey_Duplicate(t *testing.T) {
	e := ratchet.NewEngine()
	alice, bob := newSession(t, e)
	sendN(t, e, alice, 2)

	_, st, err := e.DeriveReceivingMessageKey(bob, 0)
	require.NoError(t, err)
	_, _, err = e.DeriveReceivingMessageKey(st, 0)
	require.ErrorIs(t, err, types.ErrDuplicateMessage)

	// A skipped key is also single use.
	_, st, err = e.DeriveReceivingMessageKey(bob, 1)
	require.NoError(t, err)
	_, st, err = e.DeriveReceivingMessageKey(st, 0)
	require.NoError(t, err)
	_, _, err = e.DeriveReceivingMessageKey(st, 0)
	require.ErrorIs(t, err, types.ErrDuplicateMessage)
}

func TestDeriveReceivingMessageKey_ExcessiveGap(t *testing.T) {
	e := ratchet.NewEngine(ratchet.WithPolicy(ratchet.Policy{MaxSkippedKeys: 100, MaxChainGap: 10}))
	_, bob := newSession(t, e)

	_, failed, err := e.DeriveReceivingMessageKey(bob, 11)
	require.ErrorIs(t, err, types.ErrExcessiveGap)
	assert.Nil(t, failed.Receiving)
	assert.Equal(t, 0, bob.Skipped.Len())
	assert.Equal(t, uint32(0), bob.Receiving.Index)

	_, st, err := e.DeriveReceivingMessageKey(bob, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, st.Skipped.Len())

	_, _, err = e.DeriveReceivingMessageKey(bob, 1<<31)
	require.ErrorIs(t, err, types.ErrExcessiveGap)
}

func TestSkippedKeys_EvictOldestBeyondBound(t *testing.T) {
	e := ratchet.NewEngine(ratchet.WithPolicy(ratchet.Policy{MaxSkippedKeys: 3, MaxChainGap: 10}))
	alice, bob := newSession(t, e)
	sent, _ := sendN(t, e, alice, 6)

	_, st, err := e.DeriveReceivingMessageKey(bob, 5)
	require.NoError(t, err)
	require.Equal(t, 3, st.Skipped.Len())

	for _, evicted := range []uint32{0, 1} {
		_, _, err := e.DeriveReceivingMessageKey(st, evicted)
		require.ErrorIs(t, err, types.ErrDuplicateMessage)
	}
	mk, _, err := e.DeriveReceivingMessageKey(st, 3)
	require.NoError(t, err)
	require.True(t, sent[3].Equal(mk))
}

func TestRatchetStep_ReplyAndResponse(t *testing.T) {
	e := ratchet.NewEngine()
	alice, bob := newSession(t, e)

	// alice -> bob on the initial chain
	aKeys, alice := sendN(t, e, alice, 1)
	mk, bob, err := e.DeriveReceivingMessageKey(bob, 0)
	require.NoError(t, err)
	require.True(t, aKeys[0].Equal(mk))

	// bob replies; his sending chain is created on demand
	bKey, bob, err := e.DeriveSendingMessageKey(bob)
	require.NoError(t, err)
	require.Equal(t, uint32(0), bKey.Index)
	require.NotEqual(t, alice.RemoteRatchet, bob.LocalRatchet.Public)

	prevAlice, alice, err := e.RatchetStep(alice, bob.LocalRatchet.Public, bob.PreviousCounter)
	require.NoError(t, err)
	assert.False(t, prevAlice.HasRootKey(), "archived state keeps its root key")
	assert.Equal(t, types.X25519Private{}, prevAlice.LocalRatchet.Private)
	assert.Nil(t, prevAlice.Sending)
	assert.Equal(t, uint32(1), alice.PreviousCounter)

	mk, alice, err = e.DeriveReceivingMessageKey(alice, 0)
	require.NoError(t, err)
	require.True(t, bKey.Equal(mk))

	// alice answers under her new ratchet key
	aKey, alice, err := e.DeriveSendingMessageKey(alice)
	require.NoError(t, err)
	_, bob, err = e.RatchetStep(bob, alice.LocalRatchet.Public, alice.PreviousCounter)
	require.NoError(t, err)
	mk, _, err = e.DeriveReceivingMessageKey(bob, 0)
	require.NoError(t, err)
	require.True(t, aKey.Equal(mk))
}

func TestRatchetStep_CachesRemainderOfOldChain(t *testing.T) {
	e := ratchet.NewEngine()
	alice, bob := newSession(t, e)

	aKeys, alice := sendN(t, e, alice, 3)
	_, bob, err := e.DeriveReceivingMessageKey(bob, 0)
	require.NoError(t, err)

	_, bob, err = e.DeriveSendingMessageKey(bob)
	require.NoError(t, err)
	_, alice, err = e.RatchetStep(alice, bob.LocalRatchet.Public, bob.PreviousCounter)
	require.NoError(t, err)
	_, alice, err = e.DeriveSendingMessageKey(alice)
	require.NoError(t, err)
	require.Equal(t, uint32(3), alice.PreviousCounter)

	prev, next, err := e.RatchetStep(bob, alice.LocalRatchet.Public, alice.PreviousCounter)
	require.NoError(t, err)
	require.Equal(t, 2, prev.Skipped.Len())
	require.True(t, prev.CanReceive(1))
	require.True(t, prev.CanReceive(2))
	require.False(t, prev.CanReceive(0))
	require.Equal(t, 0, next.Skipped.Len())

	mk, _, err := e.DeriveReceivingMessageKey(prev, 2)
	require.NoError(t, err)
	require.True(t, aKeys[2].Equal(mk))
}

func TestRatchetStep_GapOnOldChain(t *testing.T) {
	e := ratchet.NewEngine(ratchet.WithPolicy(ratchet.Policy{MaxSkippedKeys: 10, MaxChainGap: 5}))
	alice, bob := newSession(t, e)

	_, _, err := e.RatchetStep(bob, alice.LocalRatchet.Public, 100)
	require.ErrorIs(t, err, types.ErrExcessiveGap)
}
