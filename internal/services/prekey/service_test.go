package prekey_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"axolotl/internal/directory"
	"axolotl/internal/domain"
	"axolotl/internal/services/identity"
	"axolotl/internal/services/prekey"
	"axolotl/internal/store"
	"axolotl/internal/store/memory"
)

const passphrase = "Correct-Horse-42"

type fixture struct {
	svc *prekey.Service
	db  domain.Transactor
	dir *directory.Registry
	id  domain.Identity
}

func newFixture(t *testing.T, withDirectory bool) fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ids := store.NewIdentityFileStore(t.TempDir(), store.WithScryptParams(store.ScryptParams{N: 1 << 10, R: 8, P: 1}))
	id, _, err := identity.New(ids, logger).GenerateIdentity(passphrase)
	require.NoError(t, err)

	db := memory.New()
	t.Cleanup(func() { _ = db.Close() })
	f := fixture{db: db, id: id}
	var dir domain.BundleDirectory
	if withDirectory {
		f.dir = directory.NewRegistry(memory.New(), logger)
		dir = f.dir
	}
	f.svc = prekey.New(ids, db, store.NewPreKeyStore(), dir, logger)
	return f
}

func TestGenerateAndStorePreKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	spk, pubs, err := f.svc.GenerateAndStorePreKeys(ctx, passphrase, 3)
	require.NoError(t, err)
	assert.Equal(t, domain.SignedPreKeyID(1), spk)
	require.Len(t, pubs, 3)
	for i, p := range pubs {
		assert.Equal(t, domain.PreKeyID(i+1), p.ID)
	}

	spk, pubs, err = f.svc.GenerateAndStorePreKeys(ctx, passphrase, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.SignedPreKeyID(2), spk)
	assert.Equal(t, domain.PreKeyID(4), pubs[0].ID)
	assert.Equal(t, domain.PreKeyID(5), pubs[1].ID)

	bundle, oneTime, err := f.svc.LoadPreKeyBundle(ctx, passphrase, 7)
	require.NoError(t, err)
	assert.Len(t, oneTime, 5)
	assert.Nil(t, bundle.PreKey)
	assert.Equal(t, domain.DeviceID(7), bundle.DeviceID)
	assert.Equal(t, domain.SignedPreKeyID(2), bundle.SignedPreKeyID)
	assert.Equal(t, f.id.RegistrationID, bundle.RegistrationID)
	assert.True(t, bundle.IdentityKey.Equal(f.id.PublicKey()))
	_, err = bundle.Verify()
	require.NoError(t, err)

	// Rotated signed prekeys stay loadable for late prekey messages.
	require.NoError(t, f.db.View(ctx, func(rc domain.ReadContext) error {
		_, ok, err := store.NewPreKeyStore().LoadSignedPreKey(rc, 1)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))
}

func TestGenerateAndStorePreKeys_WrongPassphrase(t *testing.T) {
	f := newFixture(t, false)
	_, _, err := f.svc.GenerateAndStorePreKeys(context.Background(), "Wrong-Horse-42", 1)
	require.ErrorIs(t, err, store.ErrWrongPassphrase)
}

func TestLoadPreKeyBundle_BeforeGenerate(t *testing.T) {
	f := newFixture(t, false)
	_, _, err := f.svc.LoadPreKeyBundle(context.Background(), passphrase, 1)
	require.ErrorIs(t, err, prekey.ErrNoSignedPreKey)
}

func TestPublishPreKeyBundle(t *testing.T) {
	ctx := context.Background()
	self := domain.Address{Recipient: "alice", Device: 3}

	err := newFixture(t, false).svc.PublishPreKeyBundle(ctx, passphrase, self)
	require.ErrorIs(t, err, prekey.ErrNoDirectory)

	f := newFixture(t, true)
	_, pubs, err := f.svc.GenerateAndStorePreKeys(ctx, passphrase, 2)
	require.NoError(t, err)
	require.NoError(t, f.svc.PublishPreKeyBundle(ctx, passphrase, self))

	got, err := f.dir.FetchPreKeyBundle(ctx, "alice", 3)
	require.NoError(t, err)
	require.NotNil(t, got.PreKey)
	assert.Equal(t, pubs[0], *got.PreKey)
	assert.Equal(t, domain.DeviceID(3), got.DeviceID)
}
