package domain

import (
	interfaces "axolotl/internal/domain/interfaces"
	types "axolotl/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	RecipientID          = types.RecipientID
	DeviceID             = types.DeviceID
	RegistrationID       = types.RegistrationID
	SignedPreKeyID       = types.SignedPreKeyID
	PreKeyID             = types.PreKeyID
	Fingerprint          = types.Fingerprint
	Address              = types.Address
	Identity             = types.Identity
	IdentityKey          = types.IdentityKey
	KeyPair              = types.KeyPair
	SignedPreKeyRecord   = types.SignedPreKeyRecord
	PreKeyRecord         = types.PreKeyRecord
	OneTimePreKeyPublic  = types.OneTimePreKeyPublic
	RawPreKeyBundle      = types.RawPreKeyBundle
	SessionInfo          = types.SessionInfo
	PreKeyBundle         = types.PreKeyBundle
	VerifiedPreKeyBundle = types.VerifiedPreKeyBundle
	PreKeyMessage        = types.PreKeyMessage
	RatchetHeader        = types.RatchetHeader
	Envelope             = types.Envelope
	X25519Public         = types.X25519Public
	X25519Private        = types.X25519Private
	Ed25519Public        = types.Ed25519Public
	Ed25519Private       = types.Ed25519Private
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	ReadContext        = interfaces.ReadContext
	WriteContext       = interfaces.WriteContext
	Transactor         = interfaces.Transactor
	DeviceSession      = interfaces.DeviceSession
	SessionStore       = interfaces.SessionStore
	PreKeyStore        = interfaces.PreKeyStore
	IdentityTrustStore = interfaces.IdentityTrustStore
	IdentityStore      = interfaces.IdentityStore
	BundleDirectory    = interfaces.BundleDirectory
	IdentityService    = interfaces.IdentityService
	PreKeyService      = interfaces.PreKeyService
	SessionService     = interfaces.SessionService
	MessageService     = interfaces.MessageService
)

// Protocol error kinds, re-exported for callers that only import domain.
var (
	ErrMalformedBundle           = types.ErrMalformedBundle
	ErrUntrustedIdentity         = types.ErrUntrustedIdentity
	ErrReplayedPreKey            = types.ErrReplayedPreKey
	ErrDuplicateMessage          = types.ErrDuplicateMessage
	ErrExcessiveGap              = types.ErrExcessiveGap
	ErrUnsupportedSessionVersion = types.ErrUnsupportedSessionVersion
	ErrNoSession                 = types.ErrNoSession
	ErrInvalidKey                = types.ErrInvalidKey
	ErrInvalidPreKey             = types.ErrInvalidPreKey
	ErrInvalidMessage            = types.ErrInvalidMessage
	ErrCorruptRecord             = types.ErrCorruptRecord
)

// MaxRegistrationID is the largest registration id a device may pick.
const MaxRegistrationID = types.MaxRegistrationID

// ErrorKind returns the stable label of err's protocol error kind.
func ErrorKind(err error) string { return types.ErrorKind(err) }
