package directory_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"axolotl/internal/crypto"
	"axolotl/internal/directory"
	"axolotl/internal/domain"
	"axolotl/internal/protocol/ratchet/ratchettest"
	"axolotl/internal/store/memory"
)

func publication(t *testing.T, device domain.DeviceID, n int) (domain.PreKeyBundle, []domain.OneTimePreKeyPublic) {
	t.Helper()
	owner := ratchettest.Identity(t, 7)
	b, _ := ratchettest.Bundle(t, owner, 1, 0)
	b.DeviceID = device
	var pool []domain.OneTimePreKeyPublic
	for i := 1; i <= n; i++ {
		kp, err := crypto.GenerateX25519(nil)
		require.NoError(t, err)
		pool = append(pool, domain.OneTimePreKeyPublic{ID: domain.PreKeyID(100 + i), Pub: kp.Public})
	}
	return b, pool
}

// exercise runs the directory contract against dir.
func exercise(t *testing.T, dir domain.BundleDirectory) {
	ctx := context.Background()
	b, pool := publication(t, 2, 2)
	require.NoError(t, dir.RegisterPreKeyBundle(ctx, "+14155550100", b, pool))
	other, _ := publication(t, 1, 0)
	other.IdentityKey = b.IdentityKey
	other.SignedPreKey = b.SignedPreKey
	other.SignedPreKeySignature = b.SignedPreKeySignature
	require.NoError(t, dir.RegisterPreKeyBundle(ctx, "+14155550100", other, nil))

	devices, err := dir.Devices(ctx, "+14155550100")
	require.NoError(t, err)
	assert.Equal(t, []domain.DeviceID{1, 2}, devices)

	for _, want := range pool {
		got, err := dir.FetchPreKeyBundle(ctx, "+14155550100", 2)
		require.NoError(t, err)
		require.NotNil(t, got.PreKey)
		assert.Equal(t, want, *got.PreKey)
		assert.True(t, got.IdentityKey.Equal(b.IdentityKey))
		_, err = got.Verify()
		require.NoError(t, err)
	}

	// An exhausted pool still serves the signed prekey.
	got, err := dir.FetchPreKeyBundle(ctx, "+14155550100", 2)
	require.NoError(t, err)
	assert.Nil(t, got.PreKey)
	assert.Equal(t, b.SignedPreKey, got.SignedPreKey)

	_, err = dir.FetchPreKeyBundle(ctx, "+14155550100", 9)
	require.ErrorIs(t, err, directory.ErrNotFound)
	_, err = dir.FetchPreKeyBundle(ctx, "nobody", 1)
	require.ErrorIs(t, err, directory.ErrNotFound)

	_, err = dir.Devices(ctx, "nobody")
	require.ErrorIs(t, err, directory.ErrNotFound)
}

func TestRegistry(t *testing.T) {
	exercise(t, directory.NewRegistry(memory.New(), zaptest.NewLogger(t)))
}

func TestClientServer(t *testing.T) {
	reg := directory.NewRegistry(memory.New(), zaptest.NewLogger(t))
	srv := httptest.NewServer(directory.NewServer(reg, zaptest.NewLogger(t)).Handler())
	defer srv.Close()

	exercise(t, directory.NewClient(srv.URL+"/", srv.Client()))
}

func TestServer_UnknownRecipientIsNotFound(t *testing.T) {
	srv := httptest.NewServer(directory.NewServer(directory.NewRegistry(memory.New(), nil), nil).Handler())
	defer srv.Close()

	for _, path := range []string{"/v1/keys/nobody", "/v1/keys/nobody/1"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestRegister_RejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	reg := directory.NewRegistry(memory.New(), nil)
	srv := httptest.NewServer(directory.NewServer(reg, nil).Handler())
	defer srv.Close()
	client := directory.NewClient(srv.URL, nil)

	b, pool := publication(t, 1, 1)
	b.SignedPreKeySignature = append([]byte(nil), b.SignedPreKeySignature...)
	b.SignedPreKeySignature[0] ^= 0xff

	require.ErrorIs(t, reg.RegisterPreKeyBundle(ctx, "mallory", b, pool), domain.ErrUntrustedIdentity)
	err := client.RegisterPreKeyBundle(ctx, "mallory", b, pool)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")

	_, err = client.FetchPreKeyBundle(ctx, "mallory", 1)
	require.ErrorIs(t, err, directory.ErrNotFound)
}

func TestRegister_MovesBundlePreKeyIntoPool(t *testing.T) {
	ctx := context.Background()
	reg := directory.NewRegistry(memory.New(), nil)
	owner := ratchettest.Identity(t, 7)
	b, _ := ratchettest.Bundle(t, owner, 1, 5)
	b.DeviceID = 3

	require.NoError(t, reg.RegisterPreKeyBundle(ctx, "dave", b, nil))
	n, err := reg.Remaining(ctx, "dave", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := reg.FetchPreKeyBundle(ctx, "dave", 3)
	require.NoError(t, err)
	require.NotNil(t, got.PreKey)
	assert.Equal(t, domain.PreKeyID(5), got.PreKey.ID)

	n, err = reg.Remaining(ctx, "dave", 3)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegistry_EscapesRecipients(t *testing.T) {
	ctx := context.Background()
	reg := directory.NewRegistry(memory.New(), nil)
	srv := httptest.NewServer(directory.NewServer(reg, nil).Handler())
	defer srv.Close()
	client := directory.NewClient(srv.URL, nil)

	b, _ := publication(t, 1, 0)
	require.NoError(t, client.RegisterPreKeyBundle(ctx, "bob/1", b, nil))

	_, err := client.Devices(ctx, "bob")
	require.ErrorIs(t, err, directory.ErrNotFound)
	devices, err := client.Devices(ctx, "bob/1")
	require.NoError(t, err)
	assert.Equal(t, []domain.DeviceID{1}, devices)
}
