package cipher_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axolotl/internal/domain/types"
	"axolotl/internal/protocol/cipher"
	"axolotl/internal/protocol/ratchet"
	"axolotl/internal/protocol/ratchet/ratchettest"
	"axolotl/internal/protocol/record"
)

var (
	aliceAddr = types.Address{Recipient: "alice", Device: 1}
	bobAddr   = types.Address{Recipient: "bob", Device: 1}
)

type peer struct {
	addr types.Address
	rec  *record.SessionRecord
}

func newPeers(t *testing.T, c *cipher.Cipher) (*peer, *peer) {
	t.Helper()
	a, b := ratchettest.Pair(t, c.Engine())
	return &peer{addr: aliceAddr, rec: record.FromState(a)}, &peer{addr: bobAddr, rec: record.FromState(b)}
}

func send(t *testing.T, c *cipher.Cipher, from *peer, msg string) types.Envelope {
	t.Helper()
	env, rec, err := c.Encrypt(from.rec, from.addr, []byte(msg))
	require.NoError(t, err)
	from.rec = rec
	return env
}

func recv(t *testing.T, c *cipher.Cipher, to *peer, env types.Envelope) string {
	t.Helper()
	pt, rec, err := c.Decrypt(to.rec, env)
	require.NoError(t, err)
	to.rec = rec
	return string(pt)
}

func TestConversation(t *testing.T) {
	c := cipher.New(ratchet.NewEngine())
	alice, bob := newPeers(t, c)

	for round := 0; round < 4; round++ {
		for i := 0; i < 3; i++ {
			assert.Equal(t, "a", recv(t, c, bob, send(t, c, alice, "a")))
		}
		assert.Equal(t, "b", recv(t, c, alice, send(t, c, bob, "b")))
	}
}

func TestEncrypt_CarriesPreKeyUntilReply(t *testing.T) {
	c := cipher.New(ratchet.NewEngine())
	alice, bob := newPeers(t, c)

	first := send(t, c, alice, "one")
	second := send(t, c, alice, "two")
	require.NotNil(t, first.PreKey)
	require.NotNil(t, second.PreKey)
	assert.Equal(t, first.PreKey.BaseKey, second.PreKey.BaseKey)

	recv(t, c, bob, first)
	recv(t, c, bob, second)
	recv(t, c, alice, send(t, c, bob, "ack"))

	assert.Nil(t, send(t, c, alice, "three").PreKey)
}

func TestDecrypt_OutOfOrder(t *testing.T) {
	c := cipher.New(ratchet.NewEngine())
	alice, bob := newPeers(t, c)

	var envs []types.Envelope
	for _, m := range []string{"m0", "m1", "m2", "m3"} {
		envs = append(envs, send(t, c, alice, m))
	}
	for _, i := range []int{2, 0, 3, 1} {
		assert.Equal(t, envs[i].Header.Counter, uint32(i))
		assert.Equal(t, []string{"m0", "m1", "m2", "m3"}[i], recv(t, c, bob, envs[i]))
	}
	cur, err := bob.rec.Current()
	require.NoError(t, err)
	assert.Zero(t, cur.Skipped.Len())
}

func TestDecrypt_Duplicate(t *testing.T) {
	c := cipher.New(ratchet.NewEngine())
	alice, bob := newPeers(t, c)

	env := send(t, c, alice, "hi")
	recv(t, c, bob, env)

	_, _, err := c.Decrypt(bob.rec, env)
	require.ErrorIs(t, err, types.ErrDuplicateMessage)
}

func TestDecrypt_TamperedLeavesRecord(t *testing.T) {
	c := cipher.New(ratchet.NewEngine())
	alice, bob := newPeers(t, c)

	env := send(t, c, alice, "hi")
	env.Ciphertext[0] ^= 0xff
	before, err := bob.rec.MarshalBinary()
	require.NoError(t, err)

	_, out, err := c.Decrypt(bob.rec, env)
	require.ErrorIs(t, err, types.ErrInvalidMessage)
	assert.Nil(t, out)

	after, err := bob.rec.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	env.Ciphertext[0] ^= 0xff
	assert.Equal(t, "hi", recv(t, c, bob, env))
}

func TestDecrypt_HeaderBoundIntoTag(t *testing.T) {
	c := cipher.New(ratchet.NewEngine())
	alice, bob := newPeers(t, c)

	send(t, c, alice, "zero")
	env := send(t, c, alice, "one")
	env.Header.PreviousCounter = 7

	_, _, err := c.Decrypt(bob.rec, env)
	require.ErrorIs(t, err, types.ErrInvalidMessage)
}

func TestDecrypt_UnsupportedVersion(t *testing.T) {
	c := cipher.New(ratchet.NewEngine())
	alice, bob := newPeers(t, c)

	env := send(t, c, alice, "hi")
	env.Header.Version = 2
	_, _, err := c.Decrypt(bob.rec, env)
	require.ErrorIs(t, err, types.ErrUnsupportedSessionVersion)
}

func TestUnknownSessionVersion_FailsClosed(t *testing.T) {
	c := cipher.New(ratchet.NewEngine())
	alice, bob := newPeers(t, c)
	env := send(t, c, alice, "hi")

	st, err := alice.rec.Current()
	require.NoError(t, err)
	st.Version = 99
	_, _, err = c.Encrypt(record.FromState(st), alice.addr, []byte("x"))
	require.ErrorIs(t, err, types.ErrUnsupportedSessionVersion)

	st, err = bob.rec.Current()
	require.NoError(t, err)
	st.Version = 99
	_, _, err = c.Decrypt(record.FromState(st), env)
	require.ErrorIs(t, err, types.ErrUnsupportedSessionVersion)
}

func TestDecrypt_ExcessiveGap(t *testing.T) {
	c := cipher.New(ratchet.NewEngine(ratchet.WithPolicy(ratchet.Policy{MaxSkippedKeys: 8, MaxChainGap: 8})))
	alice, bob := newPeers(t, c)

	var env types.Envelope
	for i := 0; i < 10; i++ {
		env = send(t, c, alice, "x")
	}
	_, _, err := c.Decrypt(bob.rec, env)
	require.ErrorIs(t, err, types.ErrExcessiveGap)

	cur, err := bob.rec.Current()
	require.NoError(t, err)
	assert.Zero(t, cur.Skipped.Len())
}

func TestDecrypt_NoSession(t *testing.T) {
	c := cipher.New(ratchet.NewEngine())
	alice, _ := newPeers(t, c)

	env := send(t, c, alice, "hi")
	_, _, err := c.Decrypt(record.New(), env)
	require.ErrorIs(t, err, types.ErrNoSession)

	_, _, err = c.Encrypt(record.New(), aliceAddr, []byte("x"))
	require.ErrorIs(t, err, types.ErrNoSession)
}

// exchange performs one full DH ratchet round trip: bob replies, alice
// answers, so each side steps once.
func exchange(t *testing.T, c *cipher.Cipher, alice, bob *peer) {
	t.Helper()
	recv(t, c, alice, send(t, c, bob, "ping"))
	recv(t, c, bob, send(t, c, alice, "pong"))
}

func TestDecrypt_AcrossRatchetStep(t *testing.T) {
	c := cipher.New(ratchet.NewEngine())
	alice, bob := newPeers(t, c)

	late := send(t, c, alice, "late")
	recv(t, c, bob, send(t, c, alice, "on time"))
	exchange(t, c, alice, bob)

	require.Len(t, bob.rec.PreviousStates(), 1)
	assert.Equal(t, "late", recv(t, c, bob, late))

	_, _, err := c.Decrypt(bob.rec, late)
	require.ErrorIs(t, err, types.ErrDuplicateMessage)
}

func TestDecrypt_SkippedBeforeStepCached(t *testing.T) {
	c := cipher.New(ratchet.NewEngine())
	alice, bob := newPeers(t, c)

	recv(t, c, bob, send(t, c, alice, "0"))
	late1 := send(t, c, alice, "1")
	late2 := send(t, c, alice, "2")
	exchange(t, c, alice, bob)

	// The step told bob alice sent three messages on the old chain; the two
	// he never saw were cached in the archived state.
	prev := bob.rec.PreviousStates()[0]
	assert.Equal(t, 2, prev.Skipped.Len())
	assert.Equal(t, "2", recv(t, c, bob, late2))
	assert.Equal(t, "1", recv(t, c, bob, late1))
}

func TestDecrypt_EvictedStateHasNoSession(t *testing.T) {
	c := cipher.New(ratchet.NewEngine())
	alice, bob := newPeers(t, c)

	late := send(t, c, alice, "late")
	recv(t, c, bob, send(t, c, alice, "on time"))
	for i := 0; i < record.MaxPreviousStates; i++ {
		exchange(t, c, alice, bob)
	}
	require.Len(t, bob.rec.PreviousStates(), record.MaxPreviousStates)

	// Still held: the first archived state is the oldest one.
	pt, _, err := c.Decrypt(bob.rec, late)
	require.NoError(t, err)
	assert.Equal(t, "late", string(pt))

	exchange(t, c, alice, bob)
	_, out, err := c.Decrypt(bob.rec, late)
	require.ErrorIs(t, err, types.ErrNoSession)
	assert.Nil(t, out)
}

func TestAcceptPreKey(t *testing.T) {
	c := cipher.New(ratchet.NewEngine())
	a, b := ratchettest.Identity(t, 1), ratchettest.Identity(t, 2)
	bundle, local := ratchettest.Bundle(t, b, 7, 9)
	verified, err := bundle.Verify()
	require.NoError(t, err)
	st, err := c.Engine().Originate(a, verified)
	require.NoError(t, err)
	alice := &peer{addr: aliceAddr, rec: record.FromState(st)}

	env1 := send(t, c, alice, "first")
	env2 := send(t, c, alice, "second")

	rec, created, err := c.AcceptPreKey(record.New(), b, local, env2)
	require.NoError(t, err)
	require.True(t, created)
	bob := &peer{addr: bobAddr, rec: rec}
	assert.Equal(t, "second", recv(t, c, bob, env2))

	// A retransmitted handshake reuses the session even though the
	// one-time prekey is gone.
	rec, created, err = c.AcceptPreKey(bob.rec, b, ratchet.LocalPreKeys{Signed: local.Signed}, env1)
	require.NoError(t, err)
	assert.False(t, created)
	bob.rec = rec
	assert.Equal(t, "first", recv(t, c, bob, env1))

	_, _, err = c.AcceptPreKey(record.New(), b, local, types.Envelope{})
	require.ErrorIs(t, err, types.ErrInvalidMessage)
}
