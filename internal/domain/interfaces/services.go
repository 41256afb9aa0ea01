package interfaces

import (
	"context"

	domaintypes "axolotl/internal/domain/types"
)

// IdentityService creates, retrieves, and inspects your identity keys.
type IdentityService interface {
	GenerateIdentity(passphrase string) (
		domaintypes.Identity,
		domaintypes.Fingerprint,
		error,
	)
	LoadIdentity(passphrase string) (domaintypes.Identity, error)
	FingerprintIdentity(passphrase string) (domaintypes.Fingerprint, error)
}

// PreKeyService generates your prekeys and assembles the bundle others
// start sessions from.
type PreKeyService interface {
	GenerateAndStorePreKeys(ctx context.Context, passphrase string, count int) (
		domaintypes.SignedPreKeyID,
		[]domaintypes.OneTimePreKeyPublic,
		error,
	)
	LoadPreKeyBundle(ctx context.Context, passphrase string, device domaintypes.DeviceID) (
		domaintypes.PreKeyBundle,
		[]domaintypes.OneTimePreKeyPublic,
		error,
	)
	PublishPreKeyBundle(ctx context.Context, passphrase string, self domaintypes.Address) error
}

// SessionService establishes, inspects and tears down sessions.
type SessionService interface {
	StartSession(ctx context.Context, passphrase string, peer domaintypes.Address) error
	ProcessBundle(
		ctx context.Context,
		passphrase string,
		peer domaintypes.Address,
		bundle domaintypes.PreKeyBundle,
	) error
	HasSession(ctx context.Context, peer domaintypes.Address) (bool, error)
	DeviceIDs(ctx context.Context, recipient domaintypes.RecipientID) ([]domaintypes.DeviceID, error)
	Describe(ctx context.Context, recipient domaintypes.RecipientID) ([]domaintypes.SessionInfo, error)
	DeleteDevice(ctx context.Context, peer domaintypes.Address) error
	Reset(ctx context.Context, recipient domaintypes.RecipientID) error
}

// MessageService encrypts and decrypts messages over stored sessions.
type MessageService interface {
	Encrypt(ctx context.Context, to domaintypes.Address, plaintext []byte) (domaintypes.Envelope, error)
	// Decrypt needs the passphrase only when env starts a session.
	Decrypt(ctx context.Context, passphrase string, env domaintypes.Envelope) ([]byte, error)
}
