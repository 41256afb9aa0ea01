// Package servicetest builds complete in-memory parties, with every
// service wired over one memory backend, for service-level tests.
package servicetest

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"axolotl/internal/domain"
	"axolotl/internal/locks"
	"axolotl/internal/metrics"
	"axolotl/internal/protocol/cipher"
	"axolotl/internal/protocol/ratchet"
	"axolotl/internal/services/identity"
	"axolotl/internal/services/message"
	"axolotl/internal/services/prekey"
	"axolotl/internal/services/session"
	"axolotl/internal/store"
	"axolotl/internal/store/memory"
)

// Passphrase satisfies the identity passphrase policy.
const Passphrase = "Correct-Horse-42"

// PreKeyCount is the number of one-time prekeys every party starts with.
const PreKeyCount = 4

// Party is one device with its own store and services.
type Party struct {
	Addr     domain.Address
	DB       domain.Transactor
	Metrics  *metrics.Metrics
	Identity *identity.Service
	PreKeys  *prekey.Service
	Sessions *session.Service
	Messages *message.Service
}

// NewParty creates an identity and PreKeyCount one-time prekeys for addr
// and, when dir is non-nil, publishes the bundle to it.
func NewParty(t testing.TB, addr domain.Address, dir domain.BundleDirectory, opts ...ratchet.Option) *Party {
	t.Helper()
	logger := zaptest.NewLogger(t)
	db := memory.New()
	t.Cleanup(func() { _ = db.Close() })

	m := metrics.New(prometheus.NewRegistry())
	tx := metrics.Instrument(db, m)
	ids := store.NewIdentityFileStore(t.TempDir(), store.WithScryptParams(store.ScryptParams{N: 1 << 10, R: 8, P: 1}))
	sessions := store.NewSessionStore()
	prekeys := store.NewPreKeyStore()
	trust := store.NewTrustStore()
	c := cipher.New(ratchet.NewEngine(opts...))
	table := locks.New()

	p := &Party{
		Addr:     addr,
		DB:       tx,
		Metrics:  m,
		Identity: identity.New(ids, logger),
		PreKeys:  prekey.New(ids, tx, prekeys, dir, logger),
		Sessions: session.New(session.Deps{
			Identities: ids, DB: tx, Sessions: sessions, Trust: trust,
			Directory: dir, Cipher: c, Locks: table, Metrics: m, Logger: logger,
		}),
		Messages: message.New(message.Deps{
			Self: addr, Identities: ids, DB: tx, Sessions: sessions, PreKeys: prekeys,
			Trust: trust, Cipher: c, Locks: table, Metrics: m, Logger: logger,
		}),
	}

	_, _, err := p.Identity.GenerateIdentity(Passphrase)
	require.NoError(t, err)
	_, _, err = p.PreKeys.GenerateAndStorePreKeys(context.Background(), Passphrase, PreKeyCount)
	require.NoError(t, err)
	if dir != nil {
		require.NoError(t, p.PreKeys.PublishPreKeyBundle(context.Background(), Passphrase, addr))
	}
	return p
}

// Send encrypts plaintext from p to to.
func (p *Party) Send(t testing.TB, to *Party, plaintext string) domain.Envelope {
	t.Helper()
	env, err := p.Messages.Encrypt(context.Background(), to.Addr, []byte(plaintext))
	require.NoError(t, err)
	return env
}

// Receive decrypts env and returns the plaintext.
func (p *Party) Receive(t testing.TB, env domain.Envelope) string {
	t.Helper()
	pt, err := p.Messages.Decrypt(context.Background(), Passphrase, env)
	require.NoError(t, err)
	return string(pt)
}
