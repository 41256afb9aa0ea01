package message_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"axolotl/internal/directory"
	"axolotl/internal/domain"
	"axolotl/internal/services/servicetest"
	"axolotl/internal/store/memory"
)

var (
	aliceAddr = domain.Address{Recipient: "alice", Device: 1}
	bobAddr   = domain.Address{Recipient: "bob", Device: 1}
)

// pair returns alice with a session to bob started from bob's published
// bundle.
func pair(t *testing.T) (alice, bob *servicetest.Party) {
	t.Helper()
	db := memory.New()
	t.Cleanup(func() { _ = db.Close() })
	dir := directory.NewRegistry(db, nil)

	alice = servicetest.NewParty(t, aliceAddr, dir)
	bob = servicetest.NewParty(t, bobAddr, dir)
	require.NoError(t, alice.Sessions.StartSession(context.Background(), servicetest.Passphrase, bob.Addr))
	return alice, bob
}

func TestConversation(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t)

	env := alice.Send(t, bob, "hello bob")
	require.NotNil(t, env.PreKey)
	assert.Equal(t, aliceAddr, env.Sender)
	assert.Equal(t, "hello bob", bob.Receive(t, env))

	reply := bob.Send(t, alice, "hi alice")
	assert.Nil(t, reply.PreKey)
	assert.Equal(t, "hi alice", alice.Receive(t, reply))

	next := alice.Send(t, bob, "no more handshake")
	assert.Nil(t, next.PreKey)
	assert.Equal(t, "no more handshake", bob.Receive(t, next))

	infos, err := alice.Sessions.Describe(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.False(t, infos[0].Pending)

	assert.Equal(t, 2.0, testutil.ToFloat64(alice.Metrics.Messages.WithLabelValues("out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(alice.Metrics.Messages.WithLabelValues("in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(bob.Metrics.SessionsEstablished.WithLabelValues("responder")))
}

func TestDecrypt_FirstMessageLost(t *testing.T) {
	alice, bob := pair(t)

	first := alice.Send(t, bob, "one")
	second := alice.Send(t, bob, "two")
	require.NotNil(t, second.PreKey)
	assert.Equal(t, first.PreKey.BaseKey, second.PreKey.BaseKey)

	assert.Equal(t, "two", bob.Receive(t, second))
	assert.Equal(t, "one", bob.Receive(t, first))
	assert.Equal(t, 1.0, testutil.ToFloat64(bob.Metrics.SessionsEstablished.WithLabelValues("responder")))
}

func TestDecrypt_Duplicate(t *testing.T) {
	alice, bob := pair(t)
	env := alice.Send(t, bob, "once")
	bob.Receive(t, env)

	_, err := bob.Messages.Decrypt(context.Background(), servicetest.Passphrase, env)
	require.ErrorIs(t, err, domain.ErrDuplicateMessage)
	assert.Equal(t, 1.0, testutil.ToFloat64(bob.Metrics.ProtocolErrors.WithLabelValues("duplicate_message")))
}

func TestDecrypt_ReplayedPreKey(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t)
	env := alice.Send(t, bob, "hello")
	require.NotNil(t, env.PreKey.PreKeyID)
	bob.Receive(t, env)

	// Without the session the base key is unknown, and the one-time
	// prekey the message names is gone.
	require.NoError(t, bob.Sessions.Reset(ctx, "alice"))
	_, err := bob.Messages.Decrypt(ctx, servicetest.Passphrase, env)
	require.ErrorIs(t, err, domain.ErrReplayedPreKey)

	ok, err := bob.Sessions.HasSession(ctx, alice.Addr)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecrypt_TamperedRollsBack(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t)
	env := alice.Send(t, bob, "hello")

	bad := env
	bad.Ciphertext = append([]byte(nil), env.Ciphertext...)
	bad.Ciphertext[0] ^= 0x80
	_, err := bob.Messages.Decrypt(ctx, servicetest.Passphrase, bad)
	require.ErrorIs(t, err, domain.ErrInvalidMessage)

	// Neither the session nor the consumed prekey was committed.
	ok, err := bob.Sessions.HasSession(ctx, alice.Addr)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "hello", bob.Receive(t, env))
}

func TestDecrypt_ChangedIdentity(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t)
	bob.Receive(t, alice.Send(t, bob, "hello"))

	// Someone else claiming to be alice.
	impostor := servicetest.NewParty(t, aliceAddr, nil)
	bundle, _, err := bob.PreKeys.LoadPreKeyBundle(ctx, servicetest.Passphrase, bob.Addr.Device)
	require.NoError(t, err)
	require.NoError(t, impostor.Sessions.ProcessBundle(ctx, servicetest.Passphrase, bob.Addr, bundle))

	_, err = bob.Messages.Decrypt(ctx, servicetest.Passphrase, impostor.Send(t, bob, "trust me"))
	require.ErrorIs(t, err, domain.ErrUntrustedIdentity)
}

func TestEncrypt_NoSession(t *testing.T) {
	alice := servicetest.NewParty(t, aliceAddr, nil)
	_, err := alice.Messages.Encrypt(context.Background(), bobAddr, []byte("x"))
	require.ErrorIs(t, err, domain.ErrNoSession)
	assert.Equal(t, 1.0, testutil.ToFloat64(alice.Metrics.ProtocolErrors.WithLabelValues("no_session")))
}

func TestEncrypt_Concurrent(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t)
	bob.Receive(t, alice.Send(t, bob, "first"))
	alice.Receive(t, bob.Send(t, alice, "ack"))

	const n = 32
	envs := make([]domain.Envelope, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			env, err := alice.Messages.Encrypt(ctx, bob.Addr, []byte(fmt.Sprintf("msg %d", i)))
			envs[i] = env
			return err
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[uint32]bool)
	for _, env := range envs {
		assert.False(t, seen[env.Header.Counter], "counter %d reused", env.Header.Counter)
		seen[env.Header.Counter] = true
	}
	for i := n - 1; i >= 0; i-- {
		assert.Equal(t, fmt.Sprintf("msg %d", i), bob.Receive(t, envs[i]))
	}
}
