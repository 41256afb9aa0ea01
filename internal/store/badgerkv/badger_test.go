package badgerkv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"axolotl/internal/domain"
	"axolotl/internal/store"
	"axolotl/internal/store/badgerkv"
	"axolotl/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Transactor {
		db, err := badgerkv.Open(badgerkv.Config{Dir: t.TempDir()}, zaptest.NewLogger(t))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		return db
	})
}

func TestReopen_Persists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := store.NewPreKeyStore()

	db, err := badgerkv.Open(badgerkv.Config{Dir: dir, SyncWrites: true}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(ctx, func(wc domain.WriteContext) error {
		return s.SetCurrentSignedPreKeyID(wc, 7)
	}))
	require.NoError(t, db.Close())

	db, err = badgerkv.Open(badgerkv.Config{Dir: dir}, nil)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.View(ctx, func(rc domain.ReadContext) error {
		id, ok, err := s.CurrentSignedPreKeyID(rc)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, domain.SignedPreKeyID(7), id)
		return nil
	}))
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := badgerkv.Open(badgerkv.Config{}, nil)
	require.Error(t, err)
}
