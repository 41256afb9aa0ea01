package interfaces

import (
	"context"

	domaintypes "axolotl/internal/domain/types"
	"axolotl/internal/protocol/record"
)

// ReadContext is a consistent snapshot of the key-value state. It is only
// valid inside the View or Update callback that produced it.
type ReadContext interface {
	Context() context.Context
	// Get returns a copy of the value stored under key.
	Get(key []byte) (value []byte, ok bool, err error)
	// Scan calls fn for every key with the prefix, in key order.
	Scan(prefix []byte, fn func(key, value []byte) error) error
}

// WriteContext extends a ReadContext with buffered writes. Writes become
// visible to other contexts only when the enclosing Update returns nil.
type WriteContext interface {
	ReadContext
	Set(key, value []byte) error
	Delete(key []byte) error
}

// Transactor hands out read and write contexts over one backend. A callback
// error rolls the transaction back and is returned unchanged.
type Transactor interface {
	View(ctx context.Context, fn func(ReadContext) error) error
	Update(ctx context.Context, fn func(WriteContext) error) error
	Close() error
}

// DeviceSession pairs a device id with its stored record.
type DeviceSession struct {
	Device domaintypes.DeviceID
	Record *record.SessionRecord
}

// SessionStore persists one session record per remote device. Records are
// returned as copies: mutate them and store them back.
type SessionStore interface {
	// LoadSession returns a fresh empty record when none is stored.
	LoadSession(rc ReadContext, addr domaintypes.Address) (*record.SessionRecord, error)
	StoreSession(wc WriteContext, addr domaintypes.Address, rec *record.SessionRecord) error
	// ContainsSession reports whether a record with a live current state
	// is stored for addr.
	ContainsSession(rc ReadContext, addr domaintypes.Address) (bool, error)
	DeleteSession(wc WriteContext, addr domaintypes.Address) error
	DeleteAllSessions(wc WriteContext, recipient domaintypes.RecipientID) error
	AllDeviceSessions(rc ReadContext, recipient domaintypes.RecipientID) ([]DeviceSession, error)
	// DeviceIDs lists the devices of recipient with a live session.
	DeviceIDs(rc ReadContext, recipient domaintypes.RecipientID) ([]domaintypes.DeviceID, error)
}

// PreKeyStore manages signed and one-time prekeys.
type PreKeyStore interface {
	// Signed prekeys
	StoreSignedPreKey(wc WriteContext, rec domaintypes.SignedPreKeyRecord) error
	LoadSignedPreKey(rc ReadContext, id domaintypes.SignedPreKeyID) (domaintypes.SignedPreKeyRecord, bool, error)
	SetCurrentSignedPreKeyID(wc WriteContext, id domaintypes.SignedPreKeyID) error
	CurrentSignedPreKeyID(rc ReadContext) (domaintypes.SignedPreKeyID, bool, error)

	// One-time prekeys
	StorePreKeys(wc WriteContext, recs []domaintypes.PreKeyRecord) error
	LoadPreKey(rc ReadContext, id domaintypes.PreKeyID) (domaintypes.PreKeyRecord, bool, error)
	// ConsumePreKey loads and deletes the key in the same write context.
	ConsumePreKey(wc WriteContext, id domaintypes.PreKeyID) (domaintypes.PreKeyRecord, bool, error)
	ListPreKeys(rc ReadContext) ([]domaintypes.OneTimePreKeyPublic, error)
	// ReservePreKeyIDs returns the first of n fresh one-time prekey ids.
	// Reserved ids are never handed out again, even after consumption.
	ReservePreKeyIDs(wc WriteContext, n int) (domaintypes.PreKeyID, error)
}

// IdentityTrustStore remembers the identity key first seen for each remote
// recipient.
type IdentityTrustStore interface {
	// IsTrustedIdentity is true when no key is stored yet or the stored key
	// equals key.
	IsTrustedIdentity(rc ReadContext, recipient domaintypes.RecipientID, key domaintypes.IdentityKey) (bool, error)
	// SaveIdentity stores key and reports whether it replaced a different one.
	SaveIdentity(wc WriteContext, recipient domaintypes.RecipientID, key domaintypes.IdentityKey) (bool, error)
	LoadIdentity(rc ReadContext, recipient domaintypes.RecipientID) (domaintypes.IdentityKey, bool, error)
	// ForgetIdentity drops the stored key so the next one is trusted again.
	ForgetIdentity(wc WriteContext, recipient domaintypes.RecipientID) error
}

// IdentityStore persists your long-term identity, encrypted at rest.
type IdentityStore interface {
	SaveIdentity(passphrase string, id domaintypes.Identity) error
	LoadIdentity(passphrase string) (domaintypes.Identity, error)
}

// BundleDirectory publishes and hands out prekey bundles.
type BundleDirectory interface {
	// RegisterPreKeyBundle replaces the device's registration. bundle
	// carries no one-time prekey; prekeys is the pool the directory hands
	// out from.
	RegisterPreKeyBundle(
		ctx context.Context,
		recipient domaintypes.RecipientID,
		bundle domaintypes.PreKeyBundle,
		prekeys []domaintypes.OneTimePreKeyPublic,
	) error
	// FetchPreKeyBundle returns a bundle for the device; each one-time
	// prekey is handed out at most once.
	FetchPreKeyBundle(ctx context.Context, recipient domaintypes.RecipientID, device domaintypes.DeviceID) (domaintypes.PreKeyBundle, error)
	Devices(ctx context.Context, recipient domaintypes.RecipientID) ([]domaintypes.DeviceID, error)
}
