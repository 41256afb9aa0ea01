// Package storetest is a conformance suite for domain.Transactor backends
// and the stores layered on them. Backend packages call Run from their
// tests.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axolotl/internal/crypto"
	"axolotl/internal/domain"
	"axolotl/internal/protocol/ratchet"
	"axolotl/internal/protocol/ratchet/ratchettest"
	"axolotl/internal/protocol/record"
	"axolotl/internal/store"
)

// Opener returns a fresh, empty backend. It should register cleanup with t.
type Opener func(t *testing.T) domain.Transactor

var errAbort = errors.New("abort")

// Run executes the suite against backends produced by open.
func Run(t *testing.T, open Opener) {
	t.Run("KV", func(t *testing.T) { testKV(t, open(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, open(t)) })
	t.Run("DeleteAllSessions", func(t *testing.T) { testDeleteAllSessions(t, open(t)) })
	t.Run("PreKeys", func(t *testing.T) { testPreKeys(t, open(t)) })
	t.Run("Trust", func(t *testing.T) { testTrust(t, open(t)) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, open(t)) })
}

func testKV(t *testing.T, db domain.Transactor) {
	ctx := context.Background()

	require.NoError(t, db.Update(ctx, func(wc domain.WriteContext) error {
		_, ok, err := wc.Get([]byte("a/1"))
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, wc.Set([]byte("a/2"), []byte("two")))
		require.NoError(t, wc.Set([]byte("a/1"), []byte("one")))
		require.NoError(t, wc.Set([]byte("b/1"), []byte("other")))
		require.NoError(t, wc.Set([]byte("a/3"), []byte{}))

		// A write context reads its own writes.
		v, ok, err := wc.Get([]byte("a/2"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("two"), v)
		return nil
	}))

	require.NoError(t, db.View(ctx, func(rc domain.ReadContext) error {
		assert.Equal(t, ctx, rc.Context())
		var keys []string
		require.NoError(t, rc.Scan([]byte("a/"), func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		}))
		assert.Equal(t, []string{"a/1", "a/2", "a/3"}, keys)

		v, ok, err := rc.Get([]byte("a/3"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, v)
		return nil
	}))

	require.NoError(t, db.Update(ctx, func(wc domain.WriteContext) error {
		require.NoError(t, wc.Delete([]byte("a/1")))
		require.NoError(t, wc.Delete([]byte("missing")))
		_, ok, err := wc.Get([]byte("a/1"))
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
	require.NoError(t, db.View(ctx, func(rc domain.ReadContext) error {
		n := 0
		require.NoError(t, rc.Scan([]byte("a/"), func(_, _ []byte) error { n++; return nil }))
		assert.Equal(t, 2, n)
		return nil
	}))

	// Scan stops at the first callback error and returns it.
	err := db.View(ctx, func(rc domain.ReadContext) error {
		return rc.Scan([]byte(""), func(_, _ []byte) error { return errAbort })
	})
	require.ErrorIs(t, err, errAbort)
}

func testRollback(t *testing.T, db domain.Transactor) {
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(wc domain.WriteContext) error {
		return wc.Set([]byte("k"), []byte("v1"))
	}))

	err := db.Update(ctx, func(wc domain.WriteContext) error {
		require.NoError(t, wc.Set([]byte("k"), []byte("v2")))
		require.NoError(t, wc.Set([]byte("k2"), []byte("x")))
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	require.NoError(t, db.View(ctx, func(rc domain.ReadContext) error {
		v, ok, err := rc.Get([]byte("k"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v1"), v)
		_, ok, err = rc.Get([]byte("k2"))
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
}

func newRecord(t *testing.T) *record.SessionRecord {
	t.Helper()
	st, _ := ratchettest.Pair(t, ratchet.NewEngine())
	return record.FromState(st)
}

func testSessions(t *testing.T, db domain.Transactor) {
	ctx := context.Background()
	s := store.NewSessionStore()
	addr := domain.Address{Recipient: "+14155550100", Device: 1}
	rec := newRecord(t)

	require.NoError(t, db.View(ctx, func(rc domain.ReadContext) error {
		got, err := s.LoadSession(rc, addr)
		require.NoError(t, err)
		assert.True(t, got.IsEmpty())
		ok, err := s.ContainsSession(rc, addr)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))

	require.NoError(t, db.Update(ctx, func(wc domain.WriteContext) error {
		return s.StoreSession(wc, addr, rec)
	}))

	want, err := rec.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, db.View(ctx, func(rc domain.ReadContext) error {
		got, err := s.LoadSession(rc, addr)
		require.NoError(t, err)
		raw, err := got.MarshalBinary()
		require.NoError(t, err)
		assert.Equal(t, want, raw)

		ok, err := s.ContainsSession(rc, addr)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))

	// An archived-only record is stored but is not a live session.
	require.NoError(t, db.Update(ctx, func(wc domain.WriteContext) error {
		got, err := s.LoadSession(wc, addr)
		require.NoError(t, err)
		got.ArchiveCurrentState()
		return s.StoreSession(wc, addr, got)
	}))
	require.NoError(t, db.View(ctx, func(rc domain.ReadContext) error {
		ok, err := s.ContainsSession(rc, addr)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))

	require.NoError(t, db.Update(ctx, func(wc domain.WriteContext) error {
		return s.DeleteSession(wc, addr)
	}))
	require.NoError(t, db.View(ctx, func(rc domain.ReadContext) error {
		got, err := s.LoadSession(rc, addr)
		require.NoError(t, err)
		assert.True(t, got.IsEmpty())
		return nil
	}))
}

func testDeleteAllSessions(t *testing.T, db domain.Transactor) {
	ctx := context.Background()
	s := store.NewSessionStore()
	const bob domain.RecipientID = "bob"
	// "bob/1" would share a raw prefix with bob's keys without escaping.
	neighbours := []domain.RecipientID{"bo", "bob/1", "bobby"}
	devices := []domain.DeviceID{10, 1, 2}

	require.NoError(t, db.Update(ctx, func(wc domain.WriteContext) error {
		for _, d := range devices {
			if err := s.StoreSession(wc, domain.Address{Recipient: bob, Device: d}, newRecord(t)); err != nil {
				return err
			}
		}
		for _, r := range neighbours {
			if err := s.StoreSession(wc, domain.Address{Recipient: r, Device: 1}, newRecord(t)); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, db.View(ctx, func(rc domain.ReadContext) error {
		all, err := s.AllDeviceSessions(rc, bob)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, domain.DeviceID(1), all[0].Device)
		assert.Equal(t, domain.DeviceID(2), all[1].Device)
		assert.Equal(t, domain.DeviceID(10), all[2].Device)

		ids, err := s.DeviceIDs(rc, bob)
		require.NoError(t, err)
		assert.Equal(t, []domain.DeviceID{1, 2, 10}, ids)
		return nil
	}))

	require.NoError(t, db.Update(ctx, func(wc domain.WriteContext) error {
		return s.DeleteAllSessions(wc, bob)
	}))

	require.NoError(t, db.View(ctx, func(rc domain.ReadContext) error {
		for _, d := range devices {
			addr := domain.Address{Recipient: bob, Device: d}
			ok, err := s.ContainsSession(rc, addr)
			require.NoError(t, err)
			assert.False(t, ok, addr.String())
			rec, err := s.LoadSession(rc, addr)
			require.NoError(t, err)
			assert.True(t, rec.IsEmpty(), addr.String())
		}
		all, err := s.AllDeviceSessions(rc, bob)
		require.NoError(t, err)
		assert.Empty(t, all)

		for _, r := range neighbours {
			ok, err := s.ContainsSession(rc, domain.Address{Recipient: r, Device: 1})
			require.NoError(t, err)
			assert.True(t, ok, "session of %q must survive", r)
		}
		return nil
	}))
}

func testPreKeys(t *testing.T, db domain.Transactor) {
	ctx := context.Background()
	s := store.NewPreKeyStore()
	id := ratchettest.Identity(t, 5)

	spk, err := crypto.GenerateX25519(nil)
	require.NoError(t, err)
	signed := domain.SignedPreKeyRecord{ID: 3, KeyPair: spk, Signature: crypto.SignPreKey(id.EdPriv, spk.Public), CreatedUTC: 1700000000}

	var recs []domain.PreKeyRecord
	for i := 1; i <= 3; i++ {
		kp, err := crypto.GenerateX25519(nil)
		require.NoError(t, err)
		recs = append(recs, domain.PreKeyRecord{ID: domain.PreKeyID(i), KeyPair: kp})
	}

	require.NoError(t, db.Update(ctx, func(wc domain.WriteContext) error {
		if err := s.StoreSignedPreKey(wc, signed); err != nil {
			return err
		}
		if err := s.SetCurrentSignedPreKeyID(wc, signed.ID); err != nil {
			return err
		}
		return s.StorePreKeys(wc, recs)
	}))

	require.NoError(t, db.View(ctx, func(rc domain.ReadContext) error {
		cur, ok, err := s.CurrentSignedPreKeyID(rc)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, signed.ID, cur)

		got, ok, err := s.LoadSignedPreKey(rc, cur)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, signed, got)

		pubs, err := s.ListPreKeys(rc)
		require.NoError(t, err)
		require.Len(t, pubs, 3)
		for i, p := range pubs {
			assert.Equal(t, recs[i].ID, p.ID)
			assert.Equal(t, recs[i].KeyPair.Public, p.Pub)
		}
		return nil
	}))

	// A consume inside a failed transaction is rolled back.
	err = db.Update(ctx, func(wc domain.WriteContext) error {
		_, ok, err := s.ConsumePreKey(wc, 2)
		require.NoError(t, err)
		require.True(t, ok)
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	require.NoError(t, db.Update(ctx, func(wc domain.WriteContext) error {
		got, ok, err := s.ConsumePreKey(wc, 2)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, recs[1], got)

		_, ok, err = s.ConsumePreKey(wc, 2)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))

	require.NoError(t, db.View(ctx, func(rc domain.ReadContext) error {
		_, ok, err := s.LoadPreKey(rc, 2)
		require.NoError(t, err)
		assert.False(t, ok)
		pubs, err := s.ListPreKeys(rc)
		require.NoError(t, err)
		assert.Len(t, pubs, 2)
		return nil
	}))

	require.NoError(t, db.Update(ctx, func(wc domain.WriteContext) error {
		first, err := s.ReservePreKeyIDs(wc, 10)
		require.NoError(t, err)
		assert.Equal(t, domain.PreKeyID(1), first)
		first, err = s.ReservePreKeyIDs(wc, 5)
		require.NoError(t, err)
		assert.Equal(t, domain.PreKeyID(11), first)
		_, err = s.ReservePreKeyIDs(wc, 0)
		assert.Error(t, err)
		return nil
	}))
	require.NoError(t, db.Update(ctx, func(wc domain.WriteContext) error {
		first, err := s.ReservePreKeyIDs(wc, 1)
		require.NoError(t, err)
		assert.Equal(t, domain.PreKeyID(16), first)
		return nil
	}))
}

func testTrust(t *testing.T, db domain.Transactor) {
	ctx := context.Background()
	s := store.NewTrustStore()
	first := ratchettest.Identity(t, 1).PublicKey()
	second := ratchettest.Identity(t, 1).PublicKey()

	require.NoError(t, db.Update(ctx, func(wc domain.WriteContext) error {
		ok, err := s.IsTrustedIdentity(wc, "carol", first)
		require.NoError(t, err)
		assert.True(t, ok, "unknown recipients are trusted on first use")

		replaced, err := s.SaveIdentity(wc, "carol", first)
		require.NoError(t, err)
		assert.False(t, replaced)
		replaced, err = s.SaveIdentity(wc, "carol", first)
		require.NoError(t, err)
		assert.False(t, replaced)
		return nil
	}))

	require.NoError(t, db.Update(ctx, func(wc domain.WriteContext) error {
		ok, err := s.IsTrustedIdentity(wc, "carol", second)
		require.NoError(t, err)
		assert.False(t, ok)

		replaced, err := s.SaveIdentity(wc, "carol", second)
		require.NoError(t, err)
		assert.True(t, replaced)
		return nil
	}))

	require.NoError(t, db.View(ctx, func(rc domain.ReadContext) error {
		got, ok, err := s.LoadIdentity(rc, "carol")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, got.Equal(second))
		return nil
	}))

	require.NoError(t, db.Update(ctx, func(wc domain.WriteContext) error {
		return s.ForgetIdentity(wc, "carol")
	}))
	require.NoError(t, db.View(ctx, func(rc domain.ReadContext) error {
		_, ok, err := s.LoadIdentity(rc, "carol")
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = s.IsTrustedIdentity(rc, "carol", first)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))
}

func testClosed(t *testing.T, db domain.Transactor) {
	require.NoError(t, db.Close())
	err := db.View(context.Background(), func(domain.ReadContext) error { return nil })
	require.ErrorIs(t, err, store.ErrClosed)
	err = db.Update(context.Background(), func(domain.WriteContext) error { return nil })
	require.ErrorIs(t, err, store.ErrClosed)
}
